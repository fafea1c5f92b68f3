package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/logging"
)

// Command names understood by StorageAgent.
const (
	CommandStoreBlob  = "store_blob"
	CommandFetchBlob  = "fetch_blob"
	CommandDeleteBlob = "delete_blob"
	CommandListBlobs  = "list_blobs"
)

// StorageAgentOptions configures a StorageAgent instance.
type StorageAgentOptions struct {
	Description string
	Logger      logging.Logger
	// Router delivers fetch and list replies to requesting agents.
	Router core.Router
}

// StorageAgent exposes a core.BlobStore through the message fabric so other
// agents can persist and retrieve payloads without holding a store reference
// themselves. Store commands carry key and data fields; fetch and list
// replies go to the agent named in reply_to.
type StorageAgent struct {
	*BaseAgent
	store  core.BlobStore
	router core.Router
}

// NewStorageAgent creates a storage agent backed by the given blob store.
func NewStorageAgent(id, name string, store core.BlobStore, optFns ...func(o *StorageAgentOptions)) *StorageAgent {
	opts := StorageAgentOptions{
		Description: "Persists and serves blobs for the agent fabric",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &StorageAgent{
		store:  store,
		router: opts.Router,
	}

	a.BaseAgent = New(id, name, a, func(o *Options) {
		o.Description = opts.Description
		o.Logger = opts.Logger
	})

	return a
}

// HandleMessage implements Handler.
func (a *StorageAgent) HandleMessage(ctx context.Context, msg core.Message) error {
	if msg.Type != core.MessageTypeCommand {
		a.Logger().Debug("storage.ignore", "agent_id", a.ID(), "type", string(msg.Type))
		return nil
	}

	switch msg.Content {
	case CommandStoreBlob:
		return a.handleStore(ctx, msg)
	case CommandFetchBlob:
		return a.handleFetch(ctx, msg)
	case CommandDeleteBlob:
		return a.handleDelete(ctx, msg)
	case CommandListBlobs:
		return a.handleList(ctx, msg)
	default:
		return fmt.Errorf("storage %s: unknown command %q", a.ID(), msg.Content)
	}
}

func (a *StorageAgent) handleStore(ctx context.Context, msg core.Message) error {
	if err := msg.RequireFields("key", "data"); err != nil {
		return fmt.Errorf("storage %s: %w", a.ID(), err)
	}
	key, _ := msg.StringField("key")
	data, err := msg.StringField("data")
	if err != nil {
		return fmt.Errorf("storage %s: %w", a.ID(), err)
	}
	if err := a.store.Save(ctx, key, []byte(data)); err != nil {
		return fmt.Errorf("storage %s: save %q: %w", a.ID(), key, err)
	}
	a.Logger().Debug("storage.saved", "agent_id", a.ID(), "key", key, "bytes", len(data))
	return nil
}

func (a *StorageAgent) handleFetch(ctx context.Context, msg core.Message) error {
	key, err := msg.StringField("key")
	if err != nil {
		return fmt.Errorf("storage %s: %w", a.ID(), err)
	}
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("storage %s: get %q: %w", a.ID(), key, err)
	}
	if replyTarget, rErr := msg.StringField("reply_to"); rErr == nil && a.router != nil {
		reply := core.NewResponse(a.ID(), string(data), map[string]any{
			"request_id": msg.ID,
			"key":        key,
		})
		if err := a.router.SendMessage(replyTarget, reply); err != nil {
			a.Logger().Error("storage.reply.error", "agent_id", a.ID(), "target", replyTarget, "error", err.Error())
		}
	}
	return nil
}

func (a *StorageAgent) handleDelete(ctx context.Context, msg core.Message) error {
	key, err := msg.StringField("key")
	if err != nil {
		return fmt.Errorf("storage %s: %w", a.ID(), err)
	}
	if err := a.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage %s: delete %q: %w", a.ID(), key, err)
	}
	a.Logger().Debug("storage.deleted", "agent_id", a.ID(), "key", key)
	return nil
}

func (a *StorageAgent) handleList(ctx context.Context, msg core.Message) error {
	keys, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("storage %s: list: %w", a.ID(), err)
	}
	if replyTarget, rErr := msg.StringField("reply_to"); rErr == nil && a.router != nil {
		reply := core.NewResponse(a.ID(), fmt.Sprintf("%d blobs", len(keys)), map[string]any{
			"request_id": msg.ID,
			"keys":       keys,
		})
		if err := a.router.SendMessage(replyTarget, reply); err != nil {
			a.Logger().Error("storage.reply.error", "agent_id", a.ID(), "target", replyTarget, "error", err.Error())
		}
	}
	return nil
}
