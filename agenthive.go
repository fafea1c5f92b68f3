// Package agenthive provides a high-level façade over the runtime's
// composition root (manager, coordinator, execution monitor) enabling rapid
// construction of multi-agent automation systems. Most applications interact
// with this package by:
//  1. Creating an AgentHive via New() (optionally overriding the default
//     in-memory blob store and NoOp logger)
//  2. Registering one or more agents (generator, analyzer, executor, storage,
//     custom)
//  3. Starting the agents and driving them with messages or workflows
//
// The façade delegates orchestration to manager.Manager while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable blob store
// and a structured logger.
package agenthive

import (
	"github.com/hupe1980/agenthive/coordinator"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/logging"
	"github.com/hupe1980/agenthive/manager"
	"github.com/hupe1980/agenthive/monitor"
	"github.com/hupe1980/agenthive/store"
)

// Options configures the AgentHive instance.
type Options struct {
	// Logger provides structured logging for the whole runtime. Defaults to
	// NoOp logger if nil.
	Logger logging.Logger

	// Store holds script payloads, screenshots and other keyed blobs shared
	// by the agents. Defaults to an in-memory implementation.
	Store core.BlobStore

	// Coordinator overrides the internally constructed coordinator.
	Coordinator *coordinator.Coordinator

	// Monitor overrides the internally constructed execution monitor.
	Monitor *monitor.Monitor
}

// AgentHive is the high-level façade aggregating the runtime components.
type AgentHive struct {
	opts    Options
	manager *manager.Manager
}

// New creates a new AgentHive instance with optional overrides. Any unset
// component is initialized with an in-process implementation.
func New(optFns ...func(o *Options)) *AgentHive {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Store:  store.NewInMemoryStore(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	mgr := manager.New(func(o *manager.Options) {
		o.Logger = opts.Logger
		o.Coordinator = opts.Coordinator
		o.Monitor = opts.Monitor
	})

	return &AgentHive{opts: opts, manager: mgr}
}

// Register initializes an agent and adds it to the runtime. Executor agents
// are wired to the execution monitor automatically.
func (h *AgentHive) Register(a core.Agent) error { return h.manager.Register(a) }

// StartAll starts every registered agent.
func (h *AgentHive) StartAll() error { return h.manager.StartAll() }

// StopAll stops every registered agent.
func (h *AgentHive) StopAll() error { return h.manager.StopAll() }

// SendMessage routes a message to the agent with the given id.
// Fire-and-forget; unknown targets are dropped silently.
func (h *AgentHive) SendMessage(agentID string, msg core.Message) error {
	return h.manager.SendMessage(agentID, msg)
}

// Broadcast routes a message to every registered agent except the optional
// excluded id.
func (h *AgentHive) Broadcast(msg core.Message, excludeID string) error {
	return h.manager.Broadcast(msg, excludeID)
}

// Publish routes a message to every subscriber of the given publisher.
func (h *AgentHive) Publish(publisherID string, msg core.Message) error {
	return h.manager.Publish(publisherID, msg)
}

// Subscribe adds publisherID to the subscriber's publisher set.
func (h *AgentHive) Subscribe(subscriberID, publisherID string) error {
	return h.manager.Subscribe(subscriberID, publisherID)
}

// RegisterWorkflow adds a workflow definition to the runtime's catalog.
func (h *AgentHive) RegisterWorkflow(wf *coordinator.Workflow) error {
	return h.manager.RegisterWorkflow(wf)
}

// LoadWorkflowFiles parses YAML workflow definitions and registers them.
func (h *AgentHive) LoadWorkflowFiles(paths ...string) error {
	return h.manager.LoadWorkflowFiles(paths...)
}

// ExecuteWorkflow starts an asynchronous execution of a registered workflow
// and returns its execution id. Steps are dispatched in order and paced by
// their delays; they are fired, not awaited.
func (h *AgentHive) ExecuteWorkflow(workflowID string, seed map[string]any) (string, error) {
	return h.manager.ExecuteWorkflow(workflowID, seed)
}

// Status returns a point-in-time status snapshot of one agent.
func (h *AgentHive) Status(agentID string) (core.AgentStatus, error) {
	return h.manager.Status(agentID)
}

// Metrics returns an aggregated snapshot of the runtime.
func (h *AgentHive) Metrics() manager.RuntimeMetrics { return h.manager.Metrics() }

// Store returns the configured blob store so callers can hand it to the
// agents that need one.
func (h *AgentHive) Store() core.BlobStore { return h.opts.Store }

// Manager exposes the underlying composition root for operations the façade
// does not surface (per-agent lifecycle, pub/sub edits, monitor access).
func (h *AgentHive) Manager() *manager.Manager { return h.manager }

// Close destroys all agents and shuts the runtime down.
func (h *AgentHive) Close() error { return h.manager.Close() }
