package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agenthive/core"
)

// Delivery is one message observed by a Recorder together with its arrival
// time, so tests can assert on ordering and pacing.
type Delivery struct {
	Msg core.Message
	At  time.Time
}

// Recorder is a goroutine-safe message handler that captures everything it
// receives. The zero value is ready to use; it satisfies the agent handler
// contract, so a Recorder can back a test agent directly.
type Recorder struct {
	mu  sync.Mutex
	got []Delivery
}

// HandleMessage records the message. It never fails.
func (r *Recorder) HandleMessage(_ context.Context, msg core.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Delivery{Msg: msg, At: time.Now()})
	return nil
}

// Count returns how many messages have been recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// Contents returns the recorded message contents in arrival order.
func (r *Recorder) Contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, d := range r.got {
		out[i] = d.Msg.Content
	}
	return out
}

// Messages returns a copy of the recorded messages in arrival order.
func (r *Recorder) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Message, len(r.got))
	for i, d := range r.got {
		out[i] = d.Msg
	}
	return out
}

// Snapshot returns a copy of the recorded deliveries in arrival order.
func (r *Recorder) Snapshot() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}
