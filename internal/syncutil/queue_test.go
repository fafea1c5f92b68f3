package syncutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 50; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Len() != 50 {
		t.Fatalf("expected 50 buffered, got %d", q.Len())
	}
	for i := 0; i < 50; i++ {
		v, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Dequeue(context.Background())
		if err != nil {
			got <- "err:" + err.Error()
			return
		}
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue("hello"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("expected hello, got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe cancellation")
	}
}

func TestQueue_CancellationWinsOverBufferedItems(t *testing.T) {
	q := NewQueue[int]()
	_ = q.Enqueue(1)
	_ = q.Enqueue(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("cancelled dequeue must not consume, got len %d", q.Len())
	}

	// a fresh context drains normally
	v, err := q.Dequeue(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %d (%v)", v, err)
	}
}

func TestQueue_CloseSemantics(t *testing.T) {
	q := NewQueue[int]()
	_ = q.Enqueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err == nil {
		t.Fatal("second close should error")
	}
	if err := q.Enqueue(2); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close should fail with ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("dequeue after close should fail with ErrQueueClosed, got %v", err)
	}
	if !q.Closed() {
		t.Fatal("Closed should report true")
	}
}

func TestQueue_CloseWakesBlockedConsumer(t *testing.T) {
	q := NewQueue[int]()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked consumer not woken by close")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[string]()
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := q.Enqueue(fmt.Sprintf("p%d-%d", p, i)); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if q.Len() != 200 {
		t.Fatalf("expected 200 items, got %d", q.Len())
	}

	// per-producer order must hold even though producers interleave
	lastSeen := map[int]int{}
	for i := 0; i < 200; i++ {
		v, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		var p, seq int
		if _, err := fmt.Sscanf(v, "p%d-%d", &p, &seq); err != nil {
			t.Fatalf("unparseable item %q", v)
		}
		if prev, ok := lastSeen[p]; ok && seq != prev+1 {
			t.Fatalf("producer %d order violated: %d after %d", p, seq, prev)
		}
		lastSeen[p] = seq
	}
}

type panicRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (p *panicRecorder) Error(msg string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func TestGo_RecoversPanics(t *testing.T) {
	rec := &panicRecorder{}
	done := make(chan struct{})
	Go(rec, "exploding", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}
	// recovery runs after fn returns; give it a beat
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || rec.msgs[0] != "goroutine panic" {
		t.Fatalf("expected one panic report, got %v", rec.msgs)
	}
}

func TestGo_NilLoggerDoesNotCrash(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "", func() {
		defer close(done)
		panic("ignored")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}
}
