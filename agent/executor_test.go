package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/store"
)

var (
	_ core.Agent   = (*ExecutorAgent)(nil)
	_ ScriptRunner = (RunnerFunc)(nil)
	_ ScriptRunner = (*SimulatedRunner)(nil)
)

func startedExecutor(t *testing.T, runner ScriptRunner, optFns ...func(o *ExecutorAgentOptions)) *ExecutorAgent {
	t.Helper()
	a := NewExecutorAgent("exec-1", "executor", runner, optFns...)
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Destroy() })
	return a
}

func executeCommand(taskID, script string, timeoutMS int) core.Message {
	data := map[string]any{
		"task_id":   taskID,
		"script":    script,
		"device_id": "device-7",
	}
	if timeoutMS > 0 {
		data["timeout_ms"] = timeoutMS
	}
	return core.NewCommand("tester", CommandExecuteScript, data)
}

func TestExecutorAgent_RunScriptSuccess(t *testing.T) {
	notifier := NewMockNotifier()
	a := startedExecutor(t, &SimulatedRunner{Delay: 10 * time.Millisecond}, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})

	events := make(chan core.Event, 4)
	a.AddListener(func(ev core.Event) {
		if ev.Kind == core.EventTaskCompleted {
			events <- ev
		}
	})

	finished := make(chan bool, 1)
	notifier.On("HandleScriptStarted", "t1", "tap(1, 2)", "device-7", mock.Anything).Return()
	notifier.On("HandleScriptFinished", "t1", true).Run(func(args mock.Arguments) {
		finished <- args.Bool(1)
	}).Return()

	assert.NoError(t, a.SendMessage(executeCommand("t1", "tap(1, 2)", 0)))

	select {
	case ok := <-finished:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("script never finished")
	}

	select {
	case ev := <-events:
		assert.Equal(t, "t1", ev.Payload["task_id"])
		assert.Equal(t, true, ev.Payload["success"])
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}

	assert.Empty(t, a.RunningTasks())
	notifier.AssertExpectations(t)
}

func TestExecutorAgent_ScriptErrorNotifies(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, _, _ string) error {
		return fmt.Errorf("element not found: OK button")
	})
	notifier := NewMockNotifier()
	a := startedExecutor(t, runner, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})

	errMsg := make(chan string, 1)
	notifier.On("HandleScriptStarted", "t1", mock.Anything, mock.Anything, mock.Anything).Return()
	notifier.On("HandleScriptError", "t1", mock.Anything).Run(func(args mock.Arguments) {
		errMsg <- args.String(1)
	}).Return()

	assert.NoError(t, a.SendMessage(executeCommand("t1", "tap(1, 2)", 0)))

	select {
	case msg := <-errMsg:
		assert.Contains(t, msg, "element not found")
	case <-time.After(2 * time.Second):
		t.Fatal("error never reported")
	}
	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "HandleScriptFinished", mock.Anything, mock.Anything)
}

func TestExecutorAgent_TimeoutSurfacesAsTimeoutError(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	notifier := NewMockNotifier()
	a := startedExecutor(t, runner, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})

	errMsg := make(chan string, 1)
	notifier.On("HandleScriptStarted", "t1", mock.Anything, mock.Anything, 30*time.Millisecond).Return()
	notifier.On("HandleScriptError", "t1", mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "timeout")
	})).Run(func(args mock.Arguments) {
		errMsg <- args.String(1)
	}).Return()

	assert.NoError(t, a.SendMessage(executeCommand("t1", "wait_forever()", 30)))

	select {
	case <-errMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never reported")
	}
	notifier.AssertExpectations(t)
}

func TestExecutorAgent_CancelTask(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	notifier := NewMockNotifier()
	a := startedExecutor(t, runner, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})

	started := make(chan struct{}, 1)
	finished := make(chan bool, 1)
	notifier.On("HandleScriptStarted", "t1", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		started <- struct{}{}
	}).Return()
	notifier.On("HandleScriptFinished", "t1", false).Run(func(args mock.Arguments) {
		finished <- args.Bool(1)
	}).Return()

	assert.NoError(t, a.SendMessage(executeCommand("t1", "wait_forever()", 0)))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("script never started")
	}

	assert.NoError(t, a.SendMessage(core.NewCommand("tester", CommandCancelTask, map[string]any{"task_id": "t1"})))

	select {
	case ok := <-finished:
		assert.False(t, ok, "cancelled script reports failure")
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation never reported")
	}
	assert.Empty(t, a.RunningTasks())
	notifier.AssertNotCalled(t, "HandleScriptError", mock.Anything, mock.Anything)
}

func TestExecutorAgent_CancelUnknownTaskIsNoOp(t *testing.T) {
	a := startedExecutor(t, &SimulatedRunner{})

	assert.NoError(t, a.SendMessage(core.NewCommand("tester", CommandCancelTask, map[string]any{"task_id": "ghost"})))

	assert.Eventually(t, func() bool {
		return a.Status().ProcessedMessages == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.Status().ErrorCount)
}

func TestExecutorAgent_DuplicateTaskRejected(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	runner := RunnerFunc(func(ctx context.Context, _, _ string) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	a := startedExecutor(t, runner)
	defer once.Do(func() { close(block) })

	assert.NoError(t, a.SendMessage(executeCommand("t1", "slow()", 0)))
	assert.NoError(t, a.SendMessage(executeCommand("t1", "slow()", 0)))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"t1"}, a.RunningTasks())
}

func TestExecutorAgent_ScriptFromBlobStore(t *testing.T) {
	blobs := store.NewInMemoryStore()
	assert.NoError(t, blobs.Save(context.Background(), "scripts/login", []byte("type(user); type(pass); tap(login)")))

	seen := make(chan string, 1)
	runner := RunnerFunc(func(_ context.Context, script, _ string) error {
		seen <- script
		return nil
	})
	a := startedExecutor(t, runner, func(o *ExecutorAgentOptions) {
		o.Store = blobs
	})

	cmd := core.NewCommand("tester", CommandExecuteScript, map[string]any{
		"task_id":  "t1",
		"blob_key": "scripts/login",
	})
	assert.NoError(t, a.SendMessage(cmd))

	select {
	case script := <-seen:
		assert.Equal(t, "type(user); type(pass); tap(login)", script)
	case <-time.After(2 * time.Second):
		t.Fatal("script never ran")
	}
}

func TestExecutorAgent_MissingScriptPayload(t *testing.T) {
	a := startedExecutor(t, &SimulatedRunner{})

	cmd := core.NewCommand("tester", CommandExecuteScript, map[string]any{"task_id": "t1"})
	assert.NoError(t, a.SendMessage(cmd))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutorAgent_LaunchScriptFeedsQueue(t *testing.T) {
	notifier := NewMockNotifier()
	a := startedExecutor(t, &SimulatedRunner{}, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})

	started := make(chan struct{}, 1)
	notifier.On("HandleScriptStarted", "t9", "noop()", "device-3", 5*time.Second).Run(func(mock.Arguments) {
		started <- struct{}{}
	}).Return()
	notifier.On("HandleScriptFinished", "t9", true).Return()

	assert.NoError(t, a.LaunchScript("t9", "noop()", "device-3", 5*time.Second))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("relaunched script never started")
	}
}

func TestExecutorAgent_DestroyAbortsInflightScripts(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	notifier := NewMockNotifier()
	a := NewExecutorAgent("exec-1", "executor", runner, func(o *ExecutorAgentOptions) {
		o.Notifier = notifier
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())

	started := make(chan struct{}, 1)
	notifier.On("HandleScriptStarted", "t1", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		started <- struct{}{}
	}).Return()
	notifier.On("HandleScriptFinished", "t1", false).Return()

	assert.NoError(t, a.SendMessage(executeCommand("t1", "wait_forever()", 0)))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("script never started")
	}

	assert.NoError(t, a.Destroy())
	assert.Empty(t, a.RunningTasks())
	notifier.AssertExpectations(t)
}
