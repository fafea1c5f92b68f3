// Package redis provides a Redis backed implementation of core.BlobStore.
//
// Blobs are stored as plain string values under a configurable key prefix so
// multiple runtimes can share a single Redis instance without colliding. An
// optional TTL turns the store into a self-expiring cache for transient
// payloads such as screenshots.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/store"
)

// DefaultKeyPrefix namespaces all blob keys written by this store.
const DefaultKeyPrefix = "agenthive:blob:"

// Options configures the Redis blob store.
type Options struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password authenticates against the server, empty for none.
	Password string
	// DB selects the Redis logical database.
	DB int
	// KeyPrefix namespaces blob keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// TTL expires blobs after the given duration. Zero means no expiry.
	TTL time.Duration
}

// Store implements core.BlobStore on top of a Redis instance.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ core.BlobStore = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Addr:      "localhost:6379",
		KeyPrefix: DefaultKeyPrefix,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return NewFromClient(client, optFns...), nil
}

// NewFromClient wraps an existing Redis client. The caller keeps ownership of
// the client unless Close is used.
func NewFromClient(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: DefaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}
}

// Save stores (or overwrites) the blob bytes for the given key.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save %q: %w", key, err)
	}
	return nil
}

// Get returns the stored blob bytes or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

// List returns all blob keys under the configured prefix, with the prefix
// stripped. It scans incrementally and never blocks the server.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Delete removes the blob if present or returns store.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	if removed == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
