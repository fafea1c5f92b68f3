package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/internal/syncutil"
	"github.com/hupe1980/agenthive/logging"
)

var (
	// ErrCoordinatorClosed is returned by all operations after Close.
	ErrCoordinatorClosed = errors.New("coordinator is closed")
	// ErrAgentNotFound is returned by registry mutations that name an unknown
	// agent id. Routing misses never surface it; unknown dispatch targets are
	// dropped silently.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrWorkflowNotFound is returned by ExecuteWorkflow for an unknown
	// workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// opKind discriminates the operations flowing through the routing queue.
type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opSubscribe
	opUnsubscribe
	opSend
	opBroadcast
	opPublish
	opShutdown
)

// op is one unit of work for the routing consumer. Registry and subscription
// mutations carry an ack channel so the caller observes completion; dispatch
// ops are fire-and-forget and leave ack nil.
type op struct {
	kind     opKind
	agent    core.Agent
	agentID  string
	targetID string
	exclude  string
	msg      core.Message
	ack      chan error
}

// Options configures a Coordinator instance using the functional options
// pattern.
type Options struct {
	// Logger provides structured logging for routing decisions.
	// Defaults to NoOp logger if nil so the coordinator carries no logging
	// dependencies.
	Logger logging.Logger
}

// Coordinator routes messages between agents and executes workflows within
// the AgentHive runtime.
//
// The Coordinator serves as the central switchboard that bridges agent-level
// messaging with runtime-level orchestration. It provides:
//
// Core Responsibilities:
//   - Agent Registry: Registration and lookup of agents by id
//   - Direct Routing: Point-to-point message delivery by target id
//   - Fan-Out: Broadcast to all agents and publish to subscribers
//   - Subscription Graph: Per-subscriber publisher sets with idempotent edits
//   - Workflow Execution: Ordered, paced multi-step command dispatch
//
// Concurrency Model:
//   - One internal ordered op queue drained by a single consumer goroutine;
//     every routing decision passes through it, so decisions have a total
//     order without a global lock
//   - Registry and subscription mutations carry an ack channel; the caller
//     blocks until the consumer has applied the change
//   - Send, broadcast and publish are fire-and-forget: they enqueue and
//     return, delivery happens on the consumer goroutine
//   - Delivery into a target uses the agent's own unbounded inbound queue and
//     never blocks the consumer
//
// Error Handling:
//   - Mutations report validation failures through their ack (for example
//     ErrAgentNotFound)
//   - Unknown dispatch targets are dropped with a debug log, never an error
//   - Delivery failures (destroyed agents) are logged and absorbed
//
// The design keeps routing policy out of the agents: an agent only ever sees
// its own queue, while the Coordinator decides who receives what and in which
// order those decisions are made.
//
// Example Usage:
//
//	coord := coordinator.New(func(o *coordinator.Options) {
//	    o.Logger = logger
//	})
//	defer coord.Close()
//
//	_ = coord.Register(worker)
//	_ = coord.Register(observer)
//	_ = coord.Subscribe(observer.ID(), worker.ID())
//
//	// direct dispatch
//	_ = coord.SendMessage(worker.ID(), core.NewCommand("cli", "execute_script", data))
//
//	// fan-out from a publisher to its subscribers
//	_ = coord.Publish(worker.ID(), core.NewNotification(worker.ID(), "progress", nil))
type Coordinator struct {
	logger logging.Logger

	// routing queue - all coordinator decisions flow through here
	ops          *syncutil.Queue[op]
	consumerDone chan struct{}

	// registry and subscription graph - mutated only on the consumer
	// goroutine, read-locked for lookups
	mu     sync.RWMutex
	agents map[string]core.Agent
	subs   map[string]map[string]struct{} // subscriber id -> set of publisher ids

	// workflow catalog and in-flight execution tracking
	wfMu      sync.RWMutex
	workflows map[string]*Workflow
	wfWG      sync.WaitGroup

	closed atomic.Bool
}

// New creates a Coordinator and starts its routing consumer.
//
// The returned Coordinator is immediately ready for use and is safe for
// concurrent access. Callers own its lifecycle and must call Close to stop
// the consumer and wait for in-flight workflow executions.
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	c := &Coordinator{
		logger:       opts.Logger,
		ops:          syncutil.NewQueue[op](),
		consumerDone: make(chan struct{}),
		agents:       make(map[string]core.Agent),
		subs:         make(map[string]map[string]struct{}),
		workflows:    make(map[string]*Workflow),
	}

	syncutil.Go(c.logger, "coordinator.consume", c.consume)

	return c
}

// Register adds an agent to the registry, making it routable by its id. An
// agent with an already registered id replaces the previous registration
// without warning. The call returns once the routing consumer has applied
// the change, so a subsequent SendMessage is guaranteed to see the agent.
//
// The coordinator does not take ownership of the agent's lifecycle; callers
// keep initializing, starting and destroying their agents.
func (c *Coordinator) Register(a core.Agent) error {
	return c.await(op{kind: opRegister, agent: a})
}

// Unregister removes the agent with the given id from the registry along
// with its subscriptions. Subscriptions other agents hold on the removed id
// survive, so re-registering the same id resumes publishing to them.
// Returns ErrAgentNotFound for an unknown id.
func (c *Coordinator) Unregister(agentID string) error {
	return c.await(op{kind: opUnregister, agentID: agentID})
}

// Subscribe adds publisherID to the subscriber's publisher set. Subscribing
// twice is a no-op. The subscriber must be registered; the publisher may be
// registered later.
func (c *Coordinator) Subscribe(subscriberID, publisherID string) error {
	return c.await(op{kind: opSubscribe, agentID: subscriberID, targetID: publisherID})
}

// Unsubscribe removes publisherID from the subscriber's publisher set.
// Removing an unknown pair is a no-op, not an error.
func (c *Coordinator) Unsubscribe(subscriberID, publisherID string) error {
	return c.await(op{kind: opUnsubscribe, agentID: subscriberID, targetID: publisherID})
}

// SendMessage routes a message to the agent with the given target id. The
// call enqueues the routing decision and returns immediately; an unknown
// target is dropped by the consumer with a debug log, never an error.
func (c *Coordinator) SendMessage(targetID string, msg core.Message) error {
	return c.dispatch(op{kind: opSend, targetID: targetID, msg: msg})
}

// Broadcast routes a message to every registered agent except the optional
// excluded id. Fire-and-forget like SendMessage.
func (c *Coordinator) Broadcast(msg core.Message, excludeID string) error {
	return c.dispatch(op{kind: opBroadcast, msg: msg, exclude: excludeID})
}

// Publish routes a message to every subscriber whose publisher set contains
// publisherID, exactly once per subscriber. Fire-and-forget like
// SendMessage.
func (c *Coordinator) Publish(publisherID string, msg core.Message) error {
	return c.dispatch(op{kind: opPublish, agentID: publisherID, msg: msg})
}

// Agent retrieves a registered agent by id. The boolean indicates whether
// the id is registered.
func (c *Coordinator) Agent(agentID string) (core.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentID]
	return a, ok
}

// AgentIDs returns the ids of all registered agents. The slice is a snapshot
// safe for caller mutation.
func (c *Coordinator) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	return ids
}

// Subscribers returns the ids of agents subscribed to the given publisher.
func (c *Coordinator) Subscribers(publisherID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for subscriberID, publishers := range c.subs {
		if _, ok := publishers[publisherID]; ok {
			ids = append(ids, subscriberID)
		}
	}
	return ids
}

// Close waits for in-flight workflow executions to finish, then stops the
// routing consumer after it has drained all previously enqueued operations.
// Close is idempotent; operations after Close fail with ErrCoordinatorClosed.
// A workflow step already sleeping its delay cannot be aborted, Close waits
// it out, and the steps it dispatches are still routed.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		c.logger.Debug("coordinator close: already closed")
		return nil
	}

	// executions dispatch straight onto the op queue, so they must finish
	// before the queue drains
	c.wfWG.Wait()

	// the shutdown op acks once everything enqueued before it was applied
	ack := make(chan error, 1)
	if err := c.ops.Enqueue(op{kind: opShutdown, ack: ack}); err == nil {
		<-ack
	}
	_ = c.ops.Close()
	<-c.consumerDone

	c.logger.Info("coordinator closed")
	return nil
}

// await enqueues a mutation and blocks until the consumer applied it. The
// consumerDone guard prevents a hang if the op races Close and gets
// discarded with the queue.
func (c *Coordinator) await(o op) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	o.ack = make(chan error, 1)
	if err := c.ops.Enqueue(o); err != nil {
		return ErrCoordinatorClosed
	}
	select {
	case err := <-o.ack:
		return err
	case <-c.consumerDone:
		return ErrCoordinatorClosed
	}
}

// dispatch enqueues a fire-and-forget routing op.
func (c *Coordinator) dispatch(o op) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	if err := c.ops.Enqueue(o); err != nil {
		return ErrCoordinatorClosed
	}
	return nil
}

// consume drains the routing queue until it closes. Runs on its own
// goroutine; all registry and subscription writes happen here.
func (c *Coordinator) consume() {
	defer close(c.consumerDone)
	for {
		o, err := c.ops.Dequeue(context.Background())
		if err != nil {
			return
		}
		c.apply(o)
	}
}

func (c *Coordinator) apply(o op) {
	switch o.kind {
	case opShutdown:
		o.ack <- nil

	case opRegister:
		c.mu.Lock()
		c.agents[o.agent.ID()] = o.agent
		c.mu.Unlock()
		c.logger.Info("registered agent %s (%s)", o.agent.ID(), o.agent.Name())
		o.ack <- nil

	case opUnregister:
		c.mu.Lock()
		_, ok := c.agents[o.agentID]
		if ok {
			delete(c.agents, o.agentID)
			delete(c.subs, o.agentID)
		}
		c.mu.Unlock()
		if !ok {
			o.ack <- fmt.Errorf("unregister %s: %w", o.agentID, ErrAgentNotFound)
			return
		}
		c.logger.Info("unregistered agent %s", o.agentID)
		o.ack <- nil

	case opSubscribe:
		c.mu.Lock()
		_, ok := c.agents[o.agentID]
		if ok {
			set := c.subs[o.agentID]
			if set == nil {
				set = make(map[string]struct{})
				c.subs[o.agentID] = set
			}
			set[o.targetID] = struct{}{}
		}
		c.mu.Unlock()
		if !ok {
			o.ack <- fmt.Errorf("subscribe %s: %w", o.agentID, ErrAgentNotFound)
			return
		}
		c.logger.Debug("agent %s subscribed to %s", o.agentID, o.targetID)
		o.ack <- nil

	case opUnsubscribe:
		c.mu.Lock()
		if set, ok := c.subs[o.agentID]; ok {
			delete(set, o.targetID)
			if len(set) == 0 {
				delete(c.subs, o.agentID)
			}
		}
		c.mu.Unlock()
		c.logger.Debug("agent %s unsubscribed from %s", o.agentID, o.targetID)
		o.ack <- nil

	case opSend:
		c.deliver(o.targetID, o.msg)

	case opBroadcast:
		c.mu.RLock()
		targets := make([]core.Agent, 0, len(c.agents))
		for id, a := range c.agents {
			if id == o.exclude {
				continue
			}
			targets = append(targets, a)
		}
		c.mu.RUnlock()
		for _, a := range targets {
			c.send(a, o.msg)
		}

	case opPublish:
		c.mu.RLock()
		var targets []core.Agent
		for subscriberID, publishers := range c.subs {
			if _, ok := publishers[o.agentID]; !ok {
				continue
			}
			if a, ok := c.agents[subscriberID]; ok {
				targets = append(targets, a)
			}
		}
		c.mu.RUnlock()
		if len(targets) == 0 {
			c.logger.Debug("publish from %s has no subscribers", o.agentID)
			return
		}
		for _, a := range targets {
			c.send(a, o.msg)
		}
	}
}

// deliver resolves the target id and hands the message to the agent.
// Unknown ids are dropped silently apart from a debug log.
func (c *Coordinator) deliver(targetID string, msg core.Message) {
	c.mu.RLock()
	target, ok := c.agents[targetID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("dropping message %s for unknown agent %s", msg.ID, targetID)
		return
	}
	c.send(target, msg)
}

func (c *Coordinator) send(target core.Agent, msg core.Message) {
	if err := target.SendMessage(msg); err != nil {
		c.logger.Warn("error delivering message %s to agent %s: %v", msg.ID, target.ID(), err)
	}
}

// Interface compliance (compile-time assertion)
var _ core.Router = (*Coordinator)(nil)
