package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/internal/syncutil"
	"github.com/hupe1980/agenthive/logging"
)

// Command names understood by ExecutorAgent.
const (
	// CommandExecuteScript runs an automation script against a device.
	CommandExecuteScript = "execute_script"
	// CommandCancelTask aborts a running script by task id.
	CommandCancelTask = "cancel_task"
)

// DefaultScriptTimeout bounds script execution when a command carries no
// explicit timeout.
const DefaultScriptTimeout = 30 * time.Second

// ScriptRunner executes an automation script against a device. The context
// carries both the agent session lifetime and the per-script timeout;
// implementations must honor cancellation.
type ScriptRunner interface {
	RunScript(ctx context.Context, script, deviceID string) error
}

// RunnerFunc adapts a plain function to the ScriptRunner interface.
type RunnerFunc func(ctx context.Context, script, deviceID string) error

// RunScript implements ScriptRunner.
func (f RunnerFunc) RunScript(ctx context.Context, script, deviceID string) error {
	return f(ctx, script, deviceID)
}

// SimulatedRunner is a ScriptRunner for examples and tests. It pretends to
// execute scripts by sleeping for the configured delay and then returning the
// configured error (nil for success).
type SimulatedRunner struct {
	Delay time.Duration
	Err   error
}

// RunScript implements ScriptRunner.
func (r *SimulatedRunner) RunScript(ctx context.Context, _, _ string) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Err
}

// TaskNotifier receives script execution notifications so an external
// supervisor can track task progress. monitor.Monitor satisfies this
// interface.
type TaskNotifier interface {
	HandleScriptStarted(taskID, script, deviceID string, timeout time.Duration)
	HandleScriptFinished(taskID string, success bool)
	HandleScriptError(taskID, errMsg string)
}

// ExecutorAgentOptions configures an ExecutorAgent instance.
//
// Use functional options with NewExecutorAgent to override defaults.
type ExecutorAgentOptions struct {
	// Description documents the agent's purpose.
	Description string
	// Logger provides structured logging.
	Logger logging.Logger
	// Notifier receives script lifecycle notifications. Optional.
	Notifier TaskNotifier
	// Store resolves script payloads referenced by blob key. Optional.
	Store core.BlobStore
	// DefaultTimeout bounds script execution when a command carries no
	// timeout_ms field.
	DefaultTimeout time.Duration
}

// ExecutorAgent runs automation scripts against devices and reports their
// outcome.
//
// The agent reacts to two commands:
//
//   - CommandExecuteScript with the payload fields task_id (required),
//     script or blob_key (one required), device_id and timeout_ms. The
//     script runs in a background goroutine so the agent stays responsive to
//     cancellation while scripts execute.
//   - CommandCancelTask with the payload field task_id, aborting the
//     matching in-flight script.
//
// Script contexts derive from the agent session, so stopping the agent
// aborts every in-flight script. Outcomes surface three ways: through the
// configured TaskNotifier, as task-completed events and in the structured
// log.
//
// ExecutorAgent also serves as the relaunch hook for supervised retries via
// LaunchScript, which feeds the script back through the same command queue.
type ExecutorAgent struct {
	*BaseAgent
	runner         ScriptRunner
	notifier       TaskNotifier
	store          core.BlobStore
	defaultTimeout time.Duration

	inflightMu sync.Mutex
	inflight   map[string]*inflightScript
	scriptWG   sync.WaitGroup
}

type inflightScript struct {
	cancel    context.CancelFunc
	cancelled bool
}

// NewExecutorAgent creates a script execution agent backed by the given
// runner.
func NewExecutorAgent(id, name string, runner ScriptRunner, optFns ...func(o *ExecutorAgentOptions)) *ExecutorAgent {
	opts := ExecutorAgentOptions{
		Description:    "Executes automation scripts on devices",
		DefaultTimeout: DefaultScriptTimeout,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if runner == nil {
		runner = &SimulatedRunner{}
	}

	a := &ExecutorAgent{
		runner:         runner,
		notifier:       opts.Notifier,
		store:          opts.Store,
		defaultTimeout: opts.DefaultTimeout,
		inflight:       make(map[string]*inflightScript),
	}

	a.BaseAgent = New(id, name, a, func(o *Options) {
		o.Description = opts.Description
		o.Logger = opts.Logger
	})

	return a
}

// SetNotifier wires the task notifier after construction. The executor and
// its supervisor reference each other, so one side has to be attached late.
func (a *ExecutorAgent) SetNotifier(n TaskNotifier) { a.notifier = n }

// LaunchScript feeds a script into the executor's command queue. Supervisors
// use it to relaunch scripts for retries; the relaunch goes through the same
// queue as first runs so ordering guarantees hold.
func (a *ExecutorAgent) LaunchScript(taskID, script, deviceID string, timeout time.Duration) error {
	msg := core.NewCommand(a.ID(), CommandExecuteScript, map[string]any{
		"task_id":    taskID,
		"script":     script,
		"device_id":  deviceID,
		"timeout_ms": int(timeout.Milliseconds()),
	})
	return a.SendMessage(msg)
}

// RunningTasks returns the ids of scripts currently executing.
func (a *ExecutorAgent) RunningTasks() []string {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	ids := make([]string, 0, len(a.inflight))
	for id := range a.inflight {
		ids = append(ids, id)
	}
	return ids
}

// Destroy cancels all in-flight scripts and destroys the underlying agent.
// The script wait happens after the consumption loop has stopped so no new
// script can sneak in behind the cancellation pass.
func (a *ExecutorAgent) Destroy() error {
	a.inflightMu.Lock()
	for _, rs := range a.inflight {
		rs.cancelled = true
		rs.cancel()
	}
	a.inflightMu.Unlock()

	err := a.BaseAgent.Destroy()
	a.scriptWG.Wait()
	return err
}

// HandleMessage implements Handler.
func (a *ExecutorAgent) HandleMessage(ctx context.Context, msg core.Message) error {
	if msg.Type != core.MessageTypeCommand {
		a.Logger().Debug("executor.ignore", "agent_id", a.ID(), "type", string(msg.Type))
		return nil
	}

	switch msg.Content {
	case CommandExecuteScript:
		return a.handleExecute(ctx, msg)
	case CommandCancelTask:
		return a.handleCancel(msg)
	default:
		return fmt.Errorf("executor %s: unknown command %q", a.ID(), msg.Content)
	}
}

func (a *ExecutorAgent) handleExecute(ctx context.Context, msg core.Message) error {
	taskID, err := msg.StringField("task_id")
	if err != nil {
		return fmt.Errorf("executor %s: %w", a.ID(), err)
	}

	script, err := a.resolveScript(ctx, msg)
	if err != nil {
		return fmt.Errorf("executor %s: %w", a.ID(), err)
	}

	deviceID, _ := msg.StringField("device_id")

	timeout := a.defaultTimeout
	if ms, err := msg.IntField("timeout_ms"); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	a.inflightMu.Lock()
	if _, exists := a.inflight[taskID]; exists {
		a.inflightMu.Unlock()
		return fmt.Errorf("executor %s: task %s already running", a.ID(), taskID)
	}
	scriptCtx, cancel := context.WithTimeout(ctx, timeout)
	rs := &inflightScript{cancel: cancel}
	a.inflight[taskID] = rs
	a.inflightMu.Unlock()

	if a.notifier != nil {
		a.notifier.HandleScriptStarted(taskID, script, deviceID, timeout)
	}
	a.Logger().Info("executor.script.started", "agent_id", a.ID(), "task_id", taskID, "device_id", deviceID, "timeout", timeout.String())

	a.scriptWG.Add(1)
	syncutil.Go(a.Logger(), fmt.Sprintf("executor[%s].script[%s]", a.ID(), taskID), func() {
		defer a.scriptWG.Done()
		defer cancel()
		a.runScript(scriptCtx, rs, taskID, script, deviceID, timeout)
	})

	return nil
}

// runScript executes one script to completion and reports the outcome.
func (a *ExecutorAgent) runScript(ctx context.Context, rs *inflightScript, taskID, script, deviceID string, timeout time.Duration) {
	start := time.Now()
	err := a.runner.RunScript(ctx, script, deviceID)

	a.inflightMu.Lock()
	cancelled := rs.cancelled
	delete(a.inflight, taskID)
	a.inflightMu.Unlock()

	switch {
	case err == nil:
		a.Logger().Info("executor.script.finished", "agent_id", a.ID(), "task_id", taskID, "duration_ms", time.Since(start).Milliseconds())
		a.Emit(core.NewTaskCompletedEvent(a.ID(), taskID, true))
		if a.notifier != nil {
			a.notifier.HandleScriptFinished(taskID, true)
		}
	case cancelled:
		a.Logger().Warn("executor.script.cancelled", "agent_id", a.ID(), "task_id", taskID, "duration_ms", time.Since(start).Milliseconds())
		a.Emit(core.NewTaskCompletedEvent(a.ID(), taskID, false))
		if a.notifier != nil {
			a.notifier.HandleScriptFinished(taskID, false)
		}
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("script execution timeout after %s", timeout)
		}
		a.Logger().Error("executor.script.error", "agent_id", a.ID(), "task_id", taskID, "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		a.Emit(core.NewTaskCompletedEvent(a.ID(), taskID, false))
		if a.notifier != nil {
			a.notifier.HandleScriptError(taskID, err.Error())
		}
	}
}

func (a *ExecutorAgent) handleCancel(msg core.Message) error {
	taskID, err := msg.StringField("task_id")
	if err != nil {
		return fmt.Errorf("executor %s: %w", a.ID(), err)
	}

	a.inflightMu.Lock()
	rs, ok := a.inflight[taskID]
	if ok {
		rs.cancelled = true
		rs.cancel()
	}
	a.inflightMu.Unlock()

	if !ok {
		a.Logger().Debug("executor.cancel.miss", "agent_id", a.ID(), "task_id", taskID)
		return nil
	}

	a.Logger().Info("executor.cancel.requested", "agent_id", a.ID(), "task_id", taskID)
	return nil
}

// resolveScript returns the script payload, fetching it from the blob store
// when only a key is supplied.
func (a *ExecutorAgent) resolveScript(ctx context.Context, msg core.Message) (string, error) {
	if script, err := msg.StringField("script"); err == nil && script != "" {
		return script, nil
	}
	blobKey, err := msg.StringField("blob_key")
	if err != nil {
		return "", fmt.Errorf("message carries neither script nor blob_key")
	}
	if a.store == nil {
		return "", fmt.Errorf("blob_key %q given but no store configured", blobKey)
	}
	data, err := a.store.Get(ctx, blobKey)
	if err != nil {
		return "", fmt.Errorf("load script %q: %w", blobKey, err)
	}
	return string(data), nil
}
