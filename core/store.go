package core

import "context"

// BlobStore defines the interface for keyed blob persistence used by agents
// that need durable state. Implementations should be thread-safe. Short method
// names (Save/Get/List/Delete) mirror other store interfaces for consistency.
// Backends may block on I/O, so every operation takes a context.
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}
