package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/internal/syncutil"
	"github.com/hupe1980/agenthive/logging"
)

var (
	// ErrAgentDestroyed is returned by lifecycle calls and SendMessage once an
	// agent has reached its terminal state.
	ErrAgentDestroyed = errors.New("agent is destroyed")
	// ErrNotInitialized is returned by Start when Initialize has not completed.
	ErrNotInitialized = errors.New("agent is not initialized")
)

const (
	// DefaultLivenessWindow bounds how stale lastActivity may be for a running
	// agent to still report healthy.
	DefaultLivenessWindow = 60 * time.Second
	// DefaultSettleDelay is the pause between Stop and Start during Restart.
	DefaultSettleDelay = 100 * time.Millisecond
)

// Handler processes messages consumed from an agent's inbound queue. The
// context is the agent's session context and is cancelled when the agent
// stops, so blocking work inside a handler unwinds promptly. A returned error
// increments the agent's error counter, emits an error event and is otherwise
// absorbed; it never reaches the sender and never terminates the consumption
// loop.
type Handler interface {
	HandleMessage(ctx context.Context, msg core.Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg core.Message) error

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg core.Message) error { return f(ctx, msg) }

// Options configures construction of a BaseAgent.
//
// Use functional options with New to override defaults.
type Options struct {
	// Description documents the agent's purpose. Defaults to "Agent <name>".
	Description string

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// LivenessWindow bounds time-since-last-activity for health reporting.
	LivenessWindow time.Duration

	// SettleDelay is the pause Restart inserts between Stop and Start.
	SettleDelay time.Duration

	// Setup runs during Initialize after the consumption loop has started.
	// A Setup failure aborts initialization and resets the agent to
	// uninitialized.
	Setup func() error

	// Teardown runs during Destroy after consumption has stopped.
	Teardown func() error
}

// BaseAgent implements the full agent lifecycle: the state machine
// Uninitialized → Initialized → Running ⇄ Stopped → Destroyed, the unbounded
// inbound queue with its background consumption loop, throughput counters and
// health reporting. Embed it in concrete agent implementations and supply a
// Handler for the message hook. All exported methods are goroutine-safe.
//
// Start and Stop race safely: the running flag toggles via atomic
// compare-and-swap so concurrent calls resolve to exactly one winner and the
// loser observes a logged no-op, never an error. Restart is Stop + settle
// delay + Start and is deliberately not atomic; an external Stop or Start can
// interleave (documented limitation).
type BaseAgent struct {
	id          string
	name        string
	description string

	handler Handler
	logger  logging.Logger
	emitter *core.Emitter
	queue   *syncutil.Queue[core.Message]

	// lifecycle flags
	initialized atomic.Bool
	running     atomic.Bool
	destroyed   atomic.Bool

	// consumption loop plumbing; mu serializes Initialize/Destroy bodies
	mu         sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	resumeCh   chan struct{}

	// per-run session context cancelled by Stop
	sessMu     sync.Mutex
	sessCtx    context.Context
	sessCancel context.CancelFunc

	// counters (unix nanos for times)
	processed    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
	startTime    atomic.Int64

	livenessWindow time.Duration
	settleDelay    time.Duration

	setup    func() error
	teardown func() error
}

// New constructs a BaseAgent with the given identity and message handler.
// A nil handler is replaced by a no-op so the agent can still exercise its
// lifecycle (useful in tests and for purely event-driven agents).
func New(id, name string, handler Handler, optFns ...func(o *Options)) *BaseAgent {
	opts := Options{
		Description:    fmt.Sprintf("Agent %s", name),
		Logger:         logging.NoOpLogger{},
		LivenessWindow: DefaultLivenessWindow,
		SettleDelay:    DefaultSettleDelay,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if handler == nil {
		handler = HandlerFunc(func(context.Context, core.Message) error { return nil })
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &BaseAgent{
		id:             id,
		name:           name,
		description:    opts.Description,
		handler:        handler,
		logger:         opts.Logger,
		emitter:        core.NewEmitter(opts.Logger),
		queue:          syncutil.NewQueue[core.Message](),
		resumeCh:       make(chan struct{}, 1),
		livenessWindow: opts.LivenessWindow,
		settleDelay:    opts.SettleDelay,
		setup:          opts.Setup,
		teardown:       opts.Teardown,
	}
}

// ID returns the unique identifier for this agent.
func (b *BaseAgent) ID() string { return b.id }

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// Initialize transitions the agent from Uninitialized to Initialized. The
// background consumption loop is started before the setup hook runs, so setup
// code may already send messages to the agent. Initialize is idempotent: a
// repeated call is a logged no-op, not an error. A setup failure stops the
// loop, resets the agent to Uninitialized and returns the error.
func (b *BaseAgent) Initialize() error {
	if b.destroyed.Load() {
		return ErrAgentDestroyed
	}

	if !b.initialized.CompareAndSwap(false, true) {
		b.logger.Debug("agent.initialize.noop", "agent_id", b.id)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	b.loopCancel = cancel
	b.loopDone = make(chan struct{})
	syncutil.Go(b.logger, fmt.Sprintf("agent[%s].consume", b.id), func() {
		b.consumeLoop(loopCtx)
	})

	if b.setup != nil {
		if err := b.setup(); err != nil {
			cancel()
			<-b.loopDone
			b.loopCancel = nil
			b.loopDone = nil
			// drop any stale resume signal so a later Initialize starts clean
			select {
			case <-b.resumeCh:
			default:
			}
			b.initialized.Store(false)
			return fmt.Errorf("agent %s setup: %w", b.id, err)
		}
	}

	b.emitter.Emit(core.NewEvent(core.EventInitialized, b.id))
	b.logger.Info("agent.initialized", "agent_id", b.id, "name", b.name)
	return nil
}

// Start transitions the agent to running so the consumption loop begins
// draining the inbound queue. Concurrent Start calls race to exactly one
// winner via compare-and-swap; the loser's call is a logged no-op, not an
// error. Starting an uninitialized agent is an error.
func (b *BaseAgent) Start() error {
	if b.destroyed.Load() {
		return ErrAgentDestroyed
	}
	if !b.initialized.Load() {
		return fmt.Errorf("agent %s: %w", b.id, ErrNotInitialized)
	}

	if !b.running.CompareAndSwap(false, true) {
		b.logger.Debug("agent.start.noop", "agent_id", b.id)
		return nil
	}

	b.sessMu.Lock()
	b.sessCtx, b.sessCancel = context.WithCancel(context.Background())
	b.sessMu.Unlock()

	now := time.Now()
	b.startTime.Store(now.UnixNano())
	b.lastActivity.Store(now.UnixNano())

	select {
	case b.resumeCh <- struct{}{}:
	default:
	}

	b.emitter.Emit(core.NewEvent(core.EventStarted, b.id))
	b.logger.Info("agent.started", "agent_id", b.id, "name", b.name)
	return nil
}

// Stop pauses message consumption. Queued and newly sent messages are
// retained and become visible to the loop once the agent starts again.
// Concurrent Stop calls race to exactly one winner; the loser's call is a
// logged no-op, not an error.
func (b *BaseAgent) Stop() error {
	if b.destroyed.Load() {
		return ErrAgentDestroyed
	}

	if !b.running.CompareAndSwap(true, false) {
		b.logger.Debug("agent.stop.noop", "agent_id", b.id)
		return nil
	}

	b.sessMu.Lock()
	if b.sessCancel != nil {
		b.sessCancel()
	}
	b.sessMu.Unlock()

	b.emitter.Emit(core.NewEvent(core.EventStopped, b.id))
	b.logger.Info("agent.stopped", "agent_id", b.id, "name", b.name)
	return nil
}

// Restart stops the agent, waits a fixed settle delay and starts it again.
// The sequence is not atomic: an external Stop or Start can interleave with
// it (documented limitation, kept deliberately).
func (b *BaseAgent) Restart() error {
	if err := b.Stop(); err != nil {
		return err
	}
	time.Sleep(b.settleDelay)
	if err := b.Start(); err != nil {
		return err
	}
	b.emitter.Emit(core.NewEvent(core.EventRestarted, b.id))
	b.logger.Info("agent.restarted", "agent_id", b.id, "name", b.name)
	return nil
}

// Destroy forces a Stop if running, runs the teardown hook, closes the
// inbound queue (discarding buffered messages) and marks the agent terminal.
// Destroy is idempotent; after it returns, SendMessage fails fast with
// ErrAgentDestroyed and no further lifecycle hook fires. A teardown failure
// is returned but does not leave the agent half-destroyed.
func (b *BaseAgent) Destroy() error {
	if !b.destroyed.CompareAndSwap(false, true) {
		b.logger.Debug("agent.destroy.noop", "agent_id", b.id)
		return nil
	}

	if b.running.CompareAndSwap(true, false) {
		b.sessMu.Lock()
		if b.sessCancel != nil {
			b.sessCancel()
		}
		b.sessMu.Unlock()
	}

	b.mu.Lock()
	if b.loopCancel != nil {
		b.loopCancel()
		<-b.loopDone
		b.loopCancel = nil
		b.loopDone = nil
	}

	var teardownErr error
	if b.teardown != nil {
		if err := b.teardown(); err != nil {
			teardownErr = fmt.Errorf("agent %s teardown: %w", b.id, err)
		}
	}

	_ = b.queue.Close()
	b.mu.Unlock()

	b.emitter.Emit(core.NewEvent(core.EventDestroyed, b.id))
	b.logger.Info("agent.destroyed", "agent_id", b.id, "name", b.name)
	return teardownErr
}

// SendMessage enqueues a message on the agent's unbounded inbound queue and
// returns immediately; it never blocks for capacity. Messages enqueued while
// the agent is stopped are retained until consumption resumes. Sending to a
// destroyed agent fails fast with ErrAgentDestroyed.
func (b *BaseAgent) SendMessage(msg core.Message) error {
	if b.destroyed.Load() {
		return fmt.Errorf("agent %s: %w", b.id, ErrAgentDestroyed)
	}
	if err := b.queue.Enqueue(msg); err != nil {
		// queue closes only on destroy; map the race to the sentinel
		return fmt.Errorf("agent %s: %w", b.id, ErrAgentDestroyed)
	}
	return nil
}

// Status returns a point-in-time snapshot of the agent's lifecycle flags and
// counters. Uptime is measured from the most recent Start and reads zero for
// a non-running agent.
func (b *BaseAgent) Status() core.AgentStatus {
	var uptime time.Duration
	if b.running.Load() {
		if st := b.startTime.Load(); st > 0 {
			uptime = time.Since(time.Unix(0, st))
		}
	}
	return core.AgentStatus{
		AgentID:           b.id,
		Name:              b.name,
		Description:       b.description,
		Running:           b.running.Load(),
		Initialized:       b.initialized.Load(),
		QueueDepth:        b.queue.Len(),
		Uptime:            uptime,
		ProcessedMessages: b.processed.Load(),
		ErrorCount:        b.errorCount.Load(),
	}
}

// IsHealthy reports whether the agent is running and has shown activity
// within the liveness window. Advisory telemetry only: nothing at this layer
// restarts an unhealthy agent.
func (b *BaseAgent) IsHealthy() bool {
	if !b.running.Load() {
		return false
	}
	last := b.lastActivity.Load()
	return last > 0 && time.Since(time.Unix(0, last)) < b.livenessWindow
}

// AddListener registers an event listener and returns its registration id.
func (b *BaseAgent) AddListener(l core.Listener) string { return b.emitter.AddListener(l) }

// RemoveListener deregisters the listener with the given registration id.
func (b *BaseAgent) RemoveListener(id string) { b.emitter.RemoveListener(id) }

// Emit delivers an event to this agent's listeners. Exposed so concrete
// agents can report domain-level outcomes (e.g. task completion).
func (b *BaseAgent) Emit(ev core.Event) { b.emitter.Emit(ev) }

// Logger returns the agent's logger for use by embedding implementations.
func (b *BaseAgent) Logger() logging.Logger { return b.logger }

// consumeLoop drains the inbound queue while the agent is running. The loop
// parks between runs on the resume signal and exits only when the loop
// context is cancelled (destroy) or the queue closes.
func (b *BaseAgent) consumeLoop(ctx context.Context) {
	defer close(b.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.resumeCh:
		}

		sctx := b.sessionContext()
		if sctx == nil {
			continue
		}

		for {
			msg, err := b.queue.Dequeue(sctx)
			if err != nil {
				if errors.Is(err, syncutil.ErrQueueClosed) {
					return
				}
				// session cancelled by Stop; park until the next Start
				break
			}
			b.process(sctx, msg)
		}
	}
}

func (b *BaseAgent) sessionContext() context.Context {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	return b.sessCtx
}

// process runs the message hook for one message. Hook panics are recovered
// and treated as handler errors so a single message can never terminate the
// loop.
func (b *BaseAgent) process(ctx context.Context, msg core.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.errorCount.Add(1)
			err := fmt.Errorf("handler panic: %v", r)
			b.emitter.Emit(core.NewErrorEvent(b.id, err))
			b.logger.Error("agent.message.panic", "agent_id", b.id, "message_id", msg.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := b.handler.HandleMessage(ctx, msg); err != nil {
		b.errorCount.Add(1)
		b.emitter.Emit(core.NewErrorEvent(b.id, err))
		b.logger.Error("agent.message.error", "agent_id", b.id, "message_id", msg.ID, "error", err.Error())
		return
	}

	b.processed.Add(1)
	b.lastActivity.Store(time.Now().UnixNano())
	b.emitter.Emit(core.NewMessageProcessedEvent(b.id, msg.ID))
	b.logger.Debug("agent.message.processed", "agent_id", b.id, "message_id", msg.ID)
}
