package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/agenthive/core"
)

// Interface compliance (compile-time assertions)
var _ core.BlobStore = (*InMemoryStore)(nil)

func TestInMemoryStore_SaveGetIsolation(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()
	data := []byte("hello")
	if err := svc.Save(ctx, "b1", data); err != nil {
		t.Fatalf("save: %v", err)
	}
	// mutate original slice
	data[0] = 'H'
	out, err := svc.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" { // should not reflect mutation
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	// mutate returned slice
	out[0] = 'x'
	out2, _ := svc.Get(ctx, "b1")
	if string(out2) != "hello" { // original stored should be unchanged
		t.Fatalf("expected isolation, got %q", string(out2))
	}
}

func TestInMemoryStore_ListAndDelete(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()
	if err := svc.Save(ctx, "b1", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Save(ctx, "b2", []byte("2")); err != nil {
		t.Fatal(err)
	}
	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0] != "b1" || keys[1] != "b2" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
	if err := svc.Delete(ctx, "b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "b1"); err == nil {
		t.Fatalf("expected error for deleted blob")
	}
	keys, _ = svc.List(ctx)
	if len(keys) != 1 {
		t.Fatalf("expected 1 key after delete, got %d", len(keys))
	}
}

func TestInMemoryStore_NotFoundSentinel(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()
	if _, err := svc.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_Concurrency(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("b%d", i%10)
			if err := svc.Save(ctx, key, []byte("data")); err != nil {
				t.Errorf("save err: %v", err)
			}
			_, _ = svc.List(ctx)
		}()
	}
	wg.Wait()
	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 10 {
		t.Fatalf("expected 10 blobs, got %d", len(keys))
	}
}
