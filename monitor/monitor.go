package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agenthive/internal/syncutil"
	"github.com/hupe1980/agenthive/logging"
)

const (
	// DefaultPollInterval is the supervision loop cadence.
	DefaultPollInterval = time.Second
	// DefaultMaxRetries bounds retry attempts per task unless a recovery
	// action overrides it.
	DefaultMaxRetries = 3
	// DefaultHistorySize bounds the retained terminal outcome records.
	DefaultHistorySize = 256
)

// ScriptLauncher restarts the underlying script of a supervised task. The
// executor agent satisfies this interface; relaunches flow through its
// command queue so they obey the same ordering as first runs.
type ScriptLauncher interface {
	LaunchScript(taskID, script, deviceID string, timeout time.Duration) error
}

// HealthChecker probes a running task for liveness or correctness problems.
// A non-nil error marks the task unhealthy; the error text becomes the
// task's failure reason.
type HealthChecker interface {
	CheckTask(t ExecutionTask) error
}

// HealthCheckerFunc adapts a plain function to the HealthChecker interface.
type HealthCheckerFunc func(t ExecutionTask) error

// CheckTask implements HealthChecker.
func (f HealthCheckerFunc) CheckTask(t ExecutionTask) error { return f(t) }

// Options configures a Monitor instance.
//
// Use functional options with New to override defaults.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// PollInterval is the supervision loop cadence.
	PollInterval time.Duration

	// MaxRetries bounds retry attempts per task. A RecoveryAction with a
	// positive MaxRetries overrides it for tasks failing in its category.
	MaxRetries int

	// Launcher restarts scripts for retries and recoveries. Without one,
	// retried tasks are reset to running but their script is not relaunched.
	Launcher ScriptLauncher

	// Controller executes device-level recovery actions. Without one, those
	// actions fail and the task falls through to the retry path.
	Controller DeviceController

	// Health probes running tasks each poll cycle. Optional.
	Health HealthChecker

	// Sink receives the outcome record of every terminal task. Optional.
	Sink MetricsSink

	// Registerer receives the Prometheus collectors. Defaults to the global
	// registry (shared across monitors); supply a fresh registry in tests.
	Registerer prometheus.Registerer

	// HistorySize bounds the retained terminal outcome records.
	HistorySize int

	// RecoveryActions maps error categories to remedial actions. Defaults
	// to DefaultRecoveryActions.
	RecoveryActions map[ErrorCategory]RecoveryAction

	// RetryStrategies maps error categories to delay policies. Defaults to
	// DefaultRetryStrategies.
	RetryStrategies map[ErrorCategory]RetryStrategy
}

// Monitor supervises a population of long-running script executions: it polls
// for timeouts and health failures, classifies errors, attempts recovery
// actions and schedules retries with per-category backoff.
//
// Task State Machine:
//
//	Running → {Completed | Failed | Timeout} → (recover/retry) Running | terminal Failed
//
// Supervision Model:
//   - A poll loop wakes every PollInterval and checks each running task for
//     (a) elapsed time beyond its timeout budget and (b) an unhealthy signal
//     from the configured HealthChecker
//   - Direct notifications (HandleScriptStarted, HandleScriptFinished,
//     HandleScriptError) arm, settle and fail tasks without waiting for the
//     next poll
//   - Every failure runs the pipeline: classify the error, attempt the
//     category's recovery action, otherwise schedule a retry while attempts
//     remain, otherwise mark the task terminally failed
//
// Timeout budgets refresh per attempt: a retry resets the task's start time,
// so the full timeout window applies to every attempt rather than
// cumulatively. Retry counts are monotonic and reset only by ResetErrors.
//
// Terminal successes leave the active set; terminal failures are kept for
// inspection. Every terminal outcome is recorded to the metrics sink, the
// Prometheus collectors and a bounded history.
//
// All exported methods are goroutine-safe. Field updates on a task are
// individually atomic under the task's lock, but the monitor does not
// serialize whole pipeline runs against external notifications; the retrying
// flag only prevents two pipeline runs from owning the same task at once.
type Monitor struct {
	logger       logging.Logger
	pollInterval time.Duration
	maxRetries   int
	controller   DeviceController
	health       HealthChecker
	sink         MetricsSink
	metrics      *Metrics
	recoveries   map[ErrorCategory]RecoveryAction
	strategies   map[ErrorCategory]RetryStrategy

	launchMu sync.RWMutex
	launcher ScriptLauncher

	mu    sync.RWMutex
	tasks map[string]*task

	history *lru.Cache[string, ExecutionMetrics]

	pipelineWG sync.WaitGroup
	stopCh     chan struct{}
	loopDone   chan struct{}
	closed     atomic.Bool
}

// New creates a Monitor and starts its supervision loop.
//
// The returned Monitor is immediately ready to track tasks. Callers own its
// lifecycle and must call Close to stop the loop and wait for in-flight
// recovery and retry runs.
func New(optFns ...func(o *Options)) *Monitor {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		PollInterval:    DefaultPollInterval,
		MaxRetries:      DefaultMaxRetries,
		HistorySize:     DefaultHistorySize,
		RecoveryActions: DefaultRecoveryActions(),
		RetryStrategies: DefaultRetryStrategies(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}

	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = MustNewMetrics(opts.Registerer)
	} else {
		metrics = defaultMetrics()
	}

	// lru.New only fails for a non-positive size, which is guarded above
	history, _ := lru.New[string, ExecutionMetrics](opts.HistorySize)

	m := &Monitor{
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		maxRetries:   opts.MaxRetries,
		launcher:     opts.Launcher,
		controller:   opts.Controller,
		health:       opts.Health,
		sink:         opts.Sink,
		metrics:      metrics,
		recoveries:   opts.RecoveryActions,
		strategies:   opts.RetryStrategies,
		tasks:        make(map[string]*task),
		history:      history,
		stopCh:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	syncutil.Go(m.logger, "monitor.poll", m.pollLoop)

	return m
}

// SetLauncher wires the script launcher after construction. The monitor and
// the executor agent reference each other, so one side has to be attached
// late.
func (m *Monitor) SetLauncher(l ScriptLauncher) {
	m.launchMu.Lock()
	m.launcher = l
	m.launchMu.Unlock()
}

// HandleScriptStarted begins supervision for a script execution: the task is
// tracked as running and its timeout timer armed. A started notification for
// an already tracked task re-arms its timer without touching the retry count,
// which is how relaunches after a retry report back.
func (m *Monitor) HandleScriptStarted(taskID, script, deviceID string, timeout time.Duration) {
	if m.closed.Load() {
		m.logger.Debug("monitor.started.ignored", "task_id", taskID, "reason", "monitor closed")
		return
	}

	now := time.Now()

	m.mu.Lock()
	if t, ok := m.tasks[taskID]; ok {
		m.mu.Unlock()
		t.mu.Lock()
		t.script = script
		t.deviceID = deviceID
		t.status = StatusRunning
		t.startTime = now
		t.endTime = time.Time{}
		t.timeout = timeout
		t.mu.Unlock()
		m.logger.Debug("monitor.task.rearmed", "task_id", taskID, "timeout", timeout.String())
		return
	}
	m.tasks[taskID] = &task{
		id:        taskID,
		script:    script,
		deviceID:  deviceID,
		status:    StatusRunning,
		armedAt:   now,
		startTime: now,
		timeout:   timeout,
	}
	m.mu.Unlock()

	m.metrics.IncActiveTasks()
	m.logger.Info("monitor.task.armed", "task_id", taskID, "device_id", deviceID, "timeout", timeout.String())
}

// HandleScriptFinished settles a task: the outcome is recorded and the task
// leaves the active set whether it succeeded or was stopped. Unknown task ids
// are ignored.
func (m *Monitor) HandleScriptFinished(taskID string, success bool) {
	t := m.lookup(taskID)
	if t == nil {
		m.logger.Debug("monitor.finished.unknown", "task_id", taskID)
		return
	}

	t.mu.Lock()
	if success {
		t.status = StatusCompleted
	} else {
		t.status = StatusCancelled
	}
	t.endTime = time.Now()
	rec := t.terminalRecordLocked()
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()

	m.metrics.DecActiveTasks()
	m.recordTerminal(rec)
	m.logger.Info("monitor.task.finished", "task_id", taskID, "success", success, "retries", rec.Retries, "duration_ms", rec.Duration.Milliseconds())
}

// HandleScriptError fails a task with the given reason and runs the failure
// pipeline. Unknown task ids and tasks already owned by a pipeline run are
// ignored.
func (m *Monitor) HandleScriptError(taskID, errMsg string) {
	t := m.lookup(taskID)
	if t == nil {
		m.logger.Debug("monitor.error.unknown", "task_id", taskID)
		return
	}

	t.mu.Lock()
	if t.retrying || isTerminal(t.status) {
		t.mu.Unlock()
		m.logger.Debug("monitor.error.ignored", "task_id", taskID, "reason", "pipeline already owns task")
		return
	}
	t.status = StatusFailed
	t.lastError = errMsg
	t.endTime = time.Now()
	t.retrying = true
	t.mu.Unlock()

	m.logger.Warn("monitor.task.failed", "task_id", taskID, "error", errMsg)
	m.startPipeline(taskID)
}

// Task returns a snapshot of the tracked task with the given id.
func (m *Monitor) Task(taskID string) (ExecutionTask, bool) {
	t := m.lookup(taskID)
	if t == nil {
		return ExecutionTask{}, false
	}
	return t.snapshot(), true
}

// Tasks returns snapshots of every tracked task, including terminal failures
// retained for inspection.
func (m *Monitor) Tasks() []ExecutionTask {
	m.mu.RLock()
	tracked := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tracked = append(tracked, t)
	}
	m.mu.RUnlock()

	out := make([]ExecutionTask, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, t.snapshot())
	}
	return out
}

// ActiveCount reports the number of tasks currently in the running state.
func (m *Monitor) ActiveCount() int {
	count := 0
	for _, t := range m.Tasks() {
		if t.Status == StatusRunning {
			count++
		}
	}
	return count
}

// History returns the retained terminal outcome records, oldest first. The
// history is bounded; the oldest records are evicted once it fills up.
func (m *Monitor) History() []ExecutionMetrics {
	return m.history.Values()
}

// ResetErrors clears the retry counters and last error text of every tracked
// task. This is the only way retry counts reset; normal supervision never
// lowers them.
func (m *Monitor) ResetErrors() {
	m.mu.RLock()
	tracked := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tracked = append(tracked, t)
	}
	m.mu.RUnlock()

	for _, t := range tracked {
		t.mu.Lock()
		t.retryCount = 0
		t.lastError = ""
		t.mu.Unlock()
	}

	m.logger.Info("monitor.errors.reset", "tasks", len(tracked))
}

// Close stops the supervision loop and waits for in-flight recovery and
// retry runs to finish. A retry already sleeping its backoff delay cannot be
// aborted; Close waits it out. Close is idempotent; notifications arriving
// afterwards are ignored.
func (m *Monitor) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		m.logger.Debug("monitor close: already closed")
		return nil
	}

	close(m.stopCh)
	<-m.loopDone
	m.pipelineWG.Wait()

	m.logger.Info("monitor closed")
	return nil
}

// lookup fetches the mutable task record for an id.
func (m *Monitor) lookup(taskID string) *task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[taskID]
}

// pollLoop drives periodic supervision until Close.
func (m *Monitor) pollLoop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// pollOnce checks every running task for a timeout breach or an unhealthy
// signal and hands offenders to the failure pipeline.
func (m *Monitor) pollOnce() {
	now := time.Now()

	m.mu.RLock()
	tracked := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tracked = append(tracked, t)
	}
	m.mu.RUnlock()

	for _, t := range tracked {
		t.mu.Lock()
		if t.status != StatusRunning || t.retrying {
			t.mu.Unlock()
			continue
		}

		if t.timeout > 0 && now.Sub(t.startTime) > t.timeout {
			t.status = StatusTimeout
			t.lastError = fmt.Sprintf("execution timeout after %s", t.timeout)
			t.endTime = now
			t.retrying = true
			id := t.id
			elapsed := now.Sub(t.startTime)
			t.mu.Unlock()

			m.logger.Warn("monitor.task.timeout", "task_id", id, "elapsed_ms", elapsed.Milliseconds())
			m.startPipeline(id)
			continue
		}
		snap := t.snapshotLocked()
		t.mu.Unlock()

		if m.health == nil {
			continue
		}
		if err := m.health.CheckTask(snap); err != nil {
			t.mu.Lock()
			if t.status != StatusRunning || t.retrying {
				t.mu.Unlock()
				continue
			}
			t.status = StatusFailed
			t.lastError = err.Error()
			t.endTime = time.Now()
			t.retrying = true
			t.mu.Unlock()

			m.logger.Warn("monitor.task.unhealthy", "task_id", snap.ID, "reason", err.Error())
			m.startPipeline(snap.ID)
		}
	}
}

// startPipeline runs the failure pipeline for a task on a tracked goroutine.
func (m *Monitor) startPipeline(taskID string) {
	if m.closed.Load() {
		m.logger.Debug("monitor.pipeline.skipped", "task_id", taskID, "reason", "monitor closed")
		return
	}
	m.pipelineWG.Add(1)
	syncutil.Go(m.logger, fmt.Sprintf("monitor.pipeline[%s]", taskID), func() {
		defer m.pipelineWG.Done()
		m.runFailurePipeline(taskID)
	})
}

// runFailurePipeline drives one failed task through classification, recovery
// and retry. Exactly one pipeline run owns a task at a time (the retrying
// flag); the run ends by resetting the task to running or marking it
// terminally failed.
func (m *Monitor) runFailurePipeline(taskID string) {
	t := m.lookup(taskID)
	if t == nil {
		return
	}

	t.mu.Lock()
	lastError := t.lastError
	retryCount := t.retryCount
	script := t.script
	deviceID := t.deviceID
	timeout := t.timeout
	t.mu.Unlock()

	category := ClassifyError(lastError)
	m.logger.Info("monitor.pipeline.start", "task_id", taskID, "category", string(category), "retry_count", retryCount)

	maxRetries := m.maxRetries
	action, hasRecovery := m.recoveries[category]
	if hasRecovery && action.MaxRetries > 0 {
		maxRetries = action.MaxRetries
	}

	if hasRecovery {
		if err := m.remediate(action, deviceID); err != nil {
			m.logger.Warn("monitor.recovery.failed", "task_id", taskID, "action", string(action.Type), "error", err.Error())
		} else {
			if !m.resetToRunning(taskID) {
				return
			}
			m.metrics.IncRecovery(action.Type)
			m.relaunch(taskID, script, deviceID, timeout)
			m.logger.Info("monitor.recovery.applied", "task_id", taskID, "action", string(action.Type))
			return
		}
	}

	if retryCount < maxRetries {
		strategy, ok := m.strategies[category]
		if !ok {
			strategy = RetryStrategy{Policy: PolicyFixed, BaseDelay: DefaultBaseDelay}
		}
		delay := strategy.DelayFor(retryCount + 1)
		m.metrics.IncTaskRetry(category)
		m.logger.Info("monitor.retry.scheduled", "task_id", taskID, "attempt", retryCount+1, "max_retries", maxRetries, "delay_ms", delay.Milliseconds())

		// backoff sleep; deliberately not abortable once scheduled
		time.Sleep(delay)

		if !m.resetToRunning(taskID) {
			return
		}
		m.relaunch(taskID, script, deviceID, timeout)
		return
	}

	t.mu.Lock()
	t.status = StatusFailed
	if t.endTime.IsZero() {
		t.endTime = time.Now()
	}
	t.retrying = false
	rec := t.terminalRecordLocked()
	t.mu.Unlock()

	m.metrics.DecActiveTasks()
	m.metrics.IncTaskFailure(category)
	m.recordTerminal(rec)
	m.logger.Error("monitor.task.exhausted", "task_id", taskID, "retries", rec.Retries, "error", rec.LastError)
}

// resetToRunning moves a task back to the running state for its next
// attempt: the retry counter increments and the start time resets, so the
// full timeout budget applies to the new attempt. Returns false if the task
// left the active set while the pipeline slept.
func (m *Monitor) resetToRunning(taskID string) bool {
	t := m.lookup(taskID)
	if t == nil {
		m.logger.Debug("monitor.reset.skipped", "task_id", taskID, "reason", "task settled during pipeline")
		return false
	}
	t.mu.Lock()
	t.retryCount++
	t.startTime = time.Now()
	t.endTime = time.Time{}
	t.status = StatusRunning
	t.retrying = false
	t.mu.Unlock()
	return true
}

// relaunch restarts the underlying script through the configured launcher.
func (m *Monitor) relaunch(taskID, script, deviceID string, timeout time.Duration) {
	m.launchMu.RLock()
	launcher := m.launcher
	m.launchMu.RUnlock()

	if launcher == nil {
		m.logger.Warn("monitor.relaunch.skipped", "task_id", taskID, "reason", "no launcher configured")
		return
	}
	if err := launcher.LaunchScript(taskID, script, deviceID, timeout); err != nil {
		m.logger.Error("monitor.relaunch.error", "task_id", taskID, "error", err.Error())
	}
}

// recordTerminal fans a terminal outcome record out to the metrics sink, the
// Prometheus collectors and the bounded history.
func (m *Monitor) recordTerminal(rec ExecutionMetrics) {
	m.metrics.ObserveTaskDuration(rec.Status, rec.Duration)
	if m.sink != nil {
		m.sink.RecordExecution(rec)
	}
	m.history.Add(rec.TaskID, rec)
}

// isTerminal reports whether a status ends supervision for the task.
func isTerminal(s TaskStatus) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}
