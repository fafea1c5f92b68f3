package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/agenthive/capability"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/store"
)

var _ core.Agent = (*GeneratorAgent)(nil)

func TestNewGeneratorAgent(t *testing.T) {
	gen := capability.NewStaticGenerator()
	a := NewGeneratorAgent("gen-1", "generator", gen)

	assert.Equal(t, "gen-1", a.ID())
	assert.Equal(t, "generator", a.Name())
	assert.NotEmpty(t, a.Description())
	assert.Equal(t, -1, a.RemainingCalls(), "unconfigured limit means unlimited")
}

func TestGeneratorAgent_GenerateReplyAndPersist(t *testing.T) {
	gen := capability.NewStaticGenerator()
	gen.AddScript("open settings", "tap(980, 40)")

	blobs := store.NewInMemoryStore()
	router := NewMockRouter()

	a := NewGeneratorAgent("gen-1", "generator", gen, func(o *GeneratorAgentOptions) {
		o.Router = router
		o.Store = blobs
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	defer func() { _ = a.Destroy() }()

	var completedTask string
	a.AddListener(func(ev core.Event) {
		if ev.Kind == core.EventTaskCompleted {
			completedTask, _ = ev.Payload["task_id"].(string)
		}
	})

	replied := make(chan core.Message, 1)
	router.On("SendMessage", "requester", mock.MatchedBy(func(msg core.Message) bool {
		return msg.Type == core.MessageTypeResponse && msg.Sender == "gen-1"
	})).Run(func(args mock.Arguments) {
		replied <- args.Get(1).(core.Message)
	}).Return(nil)

	cmd := core.NewCommand("requester", CommandGenerateScript, map[string]any{
		"instruction": "open settings",
		"reply_to":    "requester",
		"blob_key":    "scripts/settings",
		"task_id":     "task-42",
	})
	assert.NoError(t, a.SendMessage(cmd))

	select {
	case reply := <-replied:
		assert.Equal(t, "tap(980, 40)", reply.Content)
		assert.Equal(t, "scripts/settings", reply.Data["blob_key"])
	case <-time.After(2 * time.Second):
		t.Fatal("no reply routed")
	}

	data, err := blobs.Get(context.Background(), "scripts/settings")
	assert.NoError(t, err)
	assert.Equal(t, "tap(980, 40)", string(data))

	assert.Eventually(t, func() bool { return completedTask == "task-42" }, 2*time.Second, 10*time.Millisecond)
	router.AssertExpectations(t)
}

func TestGeneratorAgent_CallLimitExhausted(t *testing.T) {
	gen := capability.NewStaticGenerator()
	a := NewGeneratorAgent("gen-1", "generator", gen, func(o *GeneratorAgentOptions) {
		o.MaxCalls = 1
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	defer func() { _ = a.Destroy() }()

	for i := 0; i < 2; i++ {
		cmd := core.NewCommand("requester", CommandGenerateScript, map[string]any{
			"instruction": "swipe up",
		})
		assert.NoError(t, a.SendMessage(cmd))
	}

	assert.Eventually(t, func() bool {
		st := a.Status()
		return st.ProcessedMessages == 1 && st.ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, a.RemainingCalls())
}

func TestGeneratorAgent_MissingInstruction(t *testing.T) {
	gen := capability.NewStaticGenerator()
	a := NewGeneratorAgent("gen-1", "generator", gen)
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	defer func() { _ = a.Destroy() }()

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandGenerateScript, nil)))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.Status().ProcessedMessages)
}

func TestGeneratorAgent_UnknownCommand(t *testing.T) {
	gen := capability.NewStaticGenerator()
	router := NewMockRouter()
	a := NewGeneratorAgent("gen-1", "generator", gen, func(o *GeneratorAgentOptions) {
		o.Router = router
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	defer func() { _ = a.Destroy() }()

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", "reticulate_splines", nil)))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	router.AssertNotCalled(t, "SendMessage")
}

func TestGeneratorAgent_IgnoresNonCommands(t *testing.T) {
	gen := capability.NewStaticGenerator()
	router := NewMockRouter()
	a := NewGeneratorAgent("gen-1", "generator", gen, func(o *GeneratorAgentOptions) {
		o.Router = router
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	defer func() { _ = a.Destroy() }()

	assert.NoError(t, a.SendMessage(core.NewNotification("someone", "status-update", nil)))

	assert.Eventually(t, func() bool {
		return a.Status().ProcessedMessages == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.Status().ErrorCount)
	router.AssertNotCalled(t, "SendMessage")
}

func TestStringMapCoercion(t *testing.T) {
	assert.Nil(t, stringMap(nil))
	assert.Nil(t, stringMap(42))
	assert.Equal(t, map[string]string{"a": "b"}, stringMap(map[string]string{"a": "b"}))
	assert.Equal(t, map[string]string{"n": "7", "s": "x"}, stringMap(map[string]any{"n": 7, "s": "x"}))
}
