package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agenthive/agent"
	"github.com/hupe1980/agenthive/coordinator"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/logging"
	"github.com/hupe1980/agenthive/monitor"
)

var (
	// ErrManagerClosed is returned by Register after Close.
	ErrManagerClosed = errors.New("manager is closed")
	// ErrDuplicateAgent is returned by Register when the agent id is already
	// managed.
	ErrDuplicateAgent = errors.New("agent already registered")
)

// ScriptExecutor is satisfied by agents that run supervised device scripts.
// Register wires such agents to the execution monitor: task notifications flow
// from the agent to the monitor and retry relaunches flow back through the
// agent's command queue. agent.ExecutorAgent satisfies this interface.
type ScriptExecutor interface {
	core.Agent
	SetNotifier(n agent.TaskNotifier)
	LaunchScript(taskID, script, deviceID string, timeout time.Duration) error
}

// RuntimeMetrics is an aggregated point-in-time snapshot of the runtime. Agent
// counters are summed over all managed agents; task counters come from the
// execution monitor. Like core.AgentStatus it is a value copy, not a stream.
type RuntimeMetrics struct {
	Agents            int   `json:"agents"`
	RunningAgents     int   `json:"running_agents"`
	QueueDepth        int   `json:"queue_depth"`
	ProcessedMessages int64 `json:"processed_messages"`
	ErrorCount        int64 `json:"error_count"`
	ActiveTasks       int   `json:"active_tasks"`
	TrackedTasks      int   `json:"tracked_tasks"`
	Workflows         int   `json:"workflows"`
}

// Options configures a Manager instance using the functional options pattern.
type Options struct {
	// Logger provides structured logging. It is shared with any coordinator
	// and monitor the manager constructs itself. Defaults to NoOp logger if
	// nil.
	Logger logging.Logger

	// Coordinator routes messages and executes workflows. Defaults to a fresh
	// coordinator using the manager's logger.
	Coordinator *coordinator.Coordinator

	// Monitor supervises script executions. Defaults to a fresh monitor using
	// the manager's logger.
	Monitor *monitor.Monitor
}

// Manager is the composition root of the AgentHive runtime: it builds and
// wires agents, the coordinator and the execution monitor, and exposes one
// uniform surface over all of them.
//
// Core Responsibilities:
//   - Agent Registry: Register initializes an agent and makes it routable
//     through the coordinator
//   - Lifecycle Surface: Start, Stop, Restart and Destroy per agent id, plus
//     StartAll/StopAll/DestroyAll fan-out over every managed agent
//   - Monitor Wiring: agents satisfying ScriptExecutor are connected to the
//     execution monitor on registration
//   - Status Surface: per-agent status snapshots and an aggregated
//     RuntimeMetrics snapshot
//   - Messaging and Workflows: direct send, broadcast, publish/subscribe and
//     workflow execution pass through to the coordinator
//
// Concurrency Model:
//   - The managed-agent map is guarded by an RWMutex; lookups take the read
//     lock
//   - StartAll, StopAll and DestroyAll fan out over agents concurrently and
//     collect the first error (errgroup)
//   - Everything else delegates to components that carry their own
//     synchronization
//
// The manager owns the lifecycle of its coordinator and monitor: Close
// destroys all managed agents, then closes both components, whether they were
// constructed internally or supplied through Options.
//
// Example Usage:
//
//	mgr := manager.New(func(o *manager.Options) {
//	    o.Logger = logger
//	})
//	defer mgr.Close()
//
//	executor := agent.NewExecutorAgent("executor", "Executor", runner)
//	if err := mgr.Register(executor); err != nil {
//	    return err
//	}
//	if err := mgr.StartAll(); err != nil {
//	    return err
//	}
//
//	_ = mgr.SendMessage("executor", core.NewCommand("cli", agent.CommandExecuteScript, data))
type Manager struct {
	logger  logging.Logger
	coord   *coordinator.Coordinator
	monitor *monitor.Monitor

	mu     sync.RWMutex
	agents map[string]core.Agent

	closed atomic.Bool
}

// New creates a Manager with optional overrides. Unset components are
// constructed with in-process defaults, so a bare New() yields a fully
// functional runtime.
func New(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Coordinator == nil {
		opts.Coordinator = coordinator.New(func(o *coordinator.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Monitor == nil {
		opts.Monitor = monitor.New(func(o *monitor.Options) {
			o.Logger = opts.Logger
		})
	}

	return &Manager{
		logger:  opts.Logger,
		coord:   opts.Coordinator,
		monitor: opts.Monitor,
		agents:  make(map[string]core.Agent),
	}
}

// Register initializes an agent, adds it to the coordinator's registry and
// starts managing its lifecycle. Agents satisfying ScriptExecutor are wired to
// the execution monitor. Returns ErrDuplicateAgent for an already managed id;
// a failed initialization leaves the agent unmanaged.
//
// Registering makes the agent routable but does not start it; call Start or
// StartAll afterwards.
func (m *Manager) Register(a core.Agent) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	m.mu.Lock()
	if _, exists := m.agents[a.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("register %s: %w", a.ID(), ErrDuplicateAgent)
	}
	m.agents[a.ID()] = a
	m.mu.Unlock()

	if err := a.Initialize(); err != nil {
		m.remove(a.ID())
		return fmt.Errorf("initialize %s: %w", a.ID(), err)
	}
	if err := m.coord.Register(a); err != nil {
		m.remove(a.ID())
		return fmt.Errorf("register %s: %w", a.ID(), err)
	}

	if ex, ok := a.(ScriptExecutor); ok {
		ex.SetNotifier(m.monitor)
		m.monitor.SetLauncher(ex)
		m.logger.Debug("wired executor %s to the execution monitor", a.ID())
	}

	m.logger.Info("managing agent %s (%s)", a.ID(), a.Name())
	return nil
}

// Agent retrieves a managed agent by id.
func (m *Manager) Agent(agentID string) (core.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	return a, ok
}

// AgentIDs returns the ids of all managed agents, sorted.
func (m *Manager) AgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start starts the agent with the given id.
func (m *Manager) Start(agentID string) error {
	a, ok := m.Agent(agentID)
	if !ok {
		return fmt.Errorf("start %s: %w", agentID, coordinator.ErrAgentNotFound)
	}
	return a.Start()
}

// Stop stops the agent with the given id. Messages sent to a stopped agent
// are retained in its queue and drained on the next Start.
func (m *Manager) Stop(agentID string) error {
	a, ok := m.Agent(agentID)
	if !ok {
		return fmt.Errorf("stop %s: %w", agentID, coordinator.ErrAgentNotFound)
	}
	return a.Stop()
}

// Restart stops and restarts the agent with the given id.
func (m *Manager) Restart(agentID string) error {
	a, ok := m.Agent(agentID)
	if !ok {
		return fmt.Errorf("restart %s: %w", agentID, coordinator.ErrAgentNotFound)
	}
	return a.Restart()
}

// Destroy destroys the agent with the given id and removes it from both the
// manager and the coordinator. The id becomes free for re-registration.
func (m *Manager) Destroy(agentID string) error {
	m.mu.Lock()
	a, ok := m.agents[agentID]
	if ok {
		delete(m.agents, agentID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy %s: %w", agentID, coordinator.ErrAgentNotFound)
	}

	if err := m.coord.Unregister(agentID); err != nil {
		m.logger.Debug("unregister %s during destroy: %v", agentID, err)
	}
	return a.Destroy()
}

// StartAll starts every managed agent concurrently and returns the first
// error. Agents already running report no error.
func (m *Manager) StartAll() error {
	var g errgroup.Group
	for _, a := range m.snapshot() {
		g.Go(a.Start)
	}
	return g.Wait()
}

// StopAll stops every managed agent concurrently and returns the first error.
func (m *Manager) StopAll() error {
	var g errgroup.Group
	for _, a := range m.snapshot() {
		g.Go(a.Stop)
	}
	return g.Wait()
}

// DestroyAll destroys every managed agent concurrently, unregisters them from
// the coordinator and empties the managed set. Returns the first error.
func (m *Manager) DestroyAll() error {
	return m.destroyAll()
}

// Status returns a point-in-time status snapshot of the agent with the given
// id.
func (m *Manager) Status(agentID string) (core.AgentStatus, error) {
	a, ok := m.Agent(agentID)
	if !ok {
		return core.AgentStatus{}, fmt.Errorf("status %s: %w", agentID, coordinator.ErrAgentNotFound)
	}
	return a.Status(), nil
}

// StatusAll returns status snapshots of every managed agent, sorted by agent
// id.
func (m *Manager) StatusAll() []core.AgentStatus {
	agents := m.snapshot()
	statuses := make([]core.AgentStatus, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].AgentID < statuses[j].AgentID })
	return statuses
}

// Metrics returns an aggregated snapshot over all managed agents, the
// execution monitor and the workflow catalog.
func (m *Manager) Metrics() RuntimeMetrics {
	metrics := RuntimeMetrics{
		ActiveTasks:  m.monitor.ActiveCount(),
		TrackedTasks: len(m.monitor.Tasks()),
		Workflows:    len(m.coord.WorkflowIDs()),
	}

	for _, status := range m.StatusAll() {
		metrics.Agents++
		if status.Running {
			metrics.RunningAgents++
		}
		metrics.QueueDepth += status.QueueDepth
		metrics.ProcessedMessages += status.ProcessedMessages
		metrics.ErrorCount += status.ErrorCount
	}
	return metrics
}

// SendMessage routes a message to the agent with the given id through the
// coordinator. Fire-and-forget; unknown targets are dropped silently.
func (m *Manager) SendMessage(agentID string, msg core.Message) error {
	return m.coord.SendMessage(agentID, msg)
}

// Broadcast routes a message to every registered agent except the optional
// excluded id.
func (m *Manager) Broadcast(msg core.Message, excludeID string) error {
	return m.coord.Broadcast(msg, excludeID)
}

// Publish routes a message to every subscriber of the given publisher.
func (m *Manager) Publish(publisherID string, msg core.Message) error {
	return m.coord.Publish(publisherID, msg)
}

// Subscribe adds publisherID to the subscriber's publisher set.
func (m *Manager) Subscribe(subscriberID, publisherID string) error {
	return m.coord.Subscribe(subscriberID, publisherID)
}

// Unsubscribe removes publisherID from the subscriber's publisher set.
func (m *Manager) Unsubscribe(subscriberID, publisherID string) error {
	return m.coord.Unsubscribe(subscriberID, publisherID)
}

// RegisterWorkflow adds a workflow definition to the coordinator's catalog.
func (m *Manager) RegisterWorkflow(wf *coordinator.Workflow) error {
	return m.coord.RegisterWorkflow(wf)
}

// LoadWorkflowFiles parses YAML workflow definitions and registers them.
func (m *Manager) LoadWorkflowFiles(paths ...string) error {
	return m.coord.LoadWorkflowFiles(paths...)
}

// ExecuteWorkflow starts an asynchronous execution of a registered workflow
// and returns its execution id.
func (m *Manager) ExecuteWorkflow(workflowID string, seed map[string]any) (string, error) {
	return m.coord.ExecuteWorkflow(workflowID, seed)
}

// Coordinator exposes the underlying coordinator for advanced use.
func (m *Manager) Coordinator() *coordinator.Coordinator { return m.coord }

// Monitor exposes the underlying execution monitor for advanced use.
func (m *Manager) Monitor() *monitor.Monitor { return m.monitor }

// Close destroys all managed agents, then shuts down the execution monitor
// and the coordinator. Close is idempotent and returns the first error
// encountered; later shutdown steps still run.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		m.logger.Debug("manager close: already closed")
		return nil
	}

	err := m.destroyAll()
	if cerr := m.monitor.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := m.coord.Close(); cerr != nil && err == nil {
		err = cerr
	}

	m.logger.Info("manager closed")
	return err
}

// snapshot returns the managed agents at this instant.
func (m *Manager) snapshot() []core.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]core.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	return agents
}

// remove drops an agent from the managed set.
func (m *Manager) remove(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}

// destroyAll empties the managed set, unregisters the agents from the
// coordinator and destroys them concurrently.
func (m *Manager) destroyAll() error {
	m.mu.Lock()
	agents := m.agents
	m.agents = make(map[string]core.Agent)
	m.mu.Unlock()

	for id := range agents {
		if err := m.coord.Unregister(id); err != nil {
			m.logger.Debug("unregister %s during destroy: %v", id, err)
		}
	}

	var g errgroup.Group
	for _, a := range agents {
		g.Go(a.Destroy)
	}
	return g.Wait()
}
