package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/store"
)

var _ core.Agent = (*StorageAgent)(nil)

func startedStorageAgent(t *testing.T, blobs core.BlobStore, router core.Router) *StorageAgent {
	t.Helper()
	a := NewStorageAgent("store-1", "storage", blobs, func(o *StorageAgentOptions) {
		o.Router = router
	})
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Destroy() })
	return a
}

func TestStorageAgent_StoreAndFetchRoundTrip(t *testing.T) {
	blobs := store.NewInMemoryStore()
	router := NewMockRouter()
	a := startedStorageAgent(t, blobs, router)

	replied := make(chan core.Message, 1)
	router.On("SendMessage", "requester", mock.Anything).Run(func(args mock.Arguments) {
		replied <- args.Get(1).(core.Message)
	}).Return(nil)

	storeCmd := core.NewCommand("requester", CommandStoreBlob, map[string]any{
		"key":  "reports/run-1",
		"data": "all green",
	})
	assert.NoError(t, a.SendMessage(storeCmd))

	fetchCmd := core.NewCommand("requester", CommandFetchBlob, map[string]any{
		"key":      "reports/run-1",
		"reply_to": "requester",
	})
	assert.NoError(t, a.SendMessage(fetchCmd))

	select {
	case reply := <-replied:
		assert.Equal(t, "all green", reply.Content)
		assert.Equal(t, "reports/run-1", reply.Data["key"])
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch reply")
	}

	// the blob landed in the backing store as well
	data, err := blobs.Get(context.Background(), "reports/run-1")
	assert.NoError(t, err)
	assert.Equal(t, "all green", string(data))
}

func TestStorageAgent_ListAndDelete(t *testing.T) {
	blobs := store.NewInMemoryStore()
	router := NewMockRouter()
	a := startedStorageAgent(t, blobs, router)

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandStoreBlob, map[string]any{"key": "k1", "data": "1"})))
	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandStoreBlob, map[string]any{"key": "k2", "data": "2"})))
	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandDeleteBlob, map[string]any{"key": "k1"})))

	replied := make(chan core.Message, 1)
	router.On("SendMessage", "requester", mock.Anything).Run(func(args mock.Arguments) {
		replied <- args.Get(1).(core.Message)
	}).Return(nil)

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandListBlobs, map[string]any{"reply_to": "requester"})))

	select {
	case reply := <-replied:
		keys, ok := reply.Data["keys"].([]string)
		assert.True(t, ok)
		assert.Equal(t, []string{"k2"}, keys)
	case <-time.After(2 * time.Second):
		t.Fatal("no list reply")
	}
}

func TestStorageAgent_FetchMissingBlobCountsError(t *testing.T) {
	a := startedStorageAgent(t, store.NewInMemoryStore(), nil)

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandFetchBlob, map[string]any{"key": "nope"})))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStorageAgent_StoreMissingFields(t *testing.T) {
	a := startedStorageAgent(t, store.NewInMemoryStore(), nil)

	assert.NoError(t, a.SendMessage(core.NewCommand("requester", CommandStoreBlob, map[string]any{"key": "only-key"})))

	assert.Eventually(t, func() bool {
		return a.Status().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}
