package monitor

import (
	"math"
	"sync"
	"time"
)

// TaskStatus is the supervision state of one tracked execution.
type TaskStatus string

const (
	// StatusPending marks a task that is known but not yet running.
	StatusPending TaskStatus = "pending"
	// StatusRunning marks a task under active supervision.
	StatusRunning TaskStatus = "running"
	// StatusCompleted marks a task that finished successfully.
	StatusCompleted TaskStatus = "completed"
	// StatusFailed marks a task that failed. The status is transient while
	// the recovery pipeline runs and terminal once retries are exhausted.
	StatusFailed TaskStatus = "failed"
	// StatusCancelled marks a task stopped on request.
	StatusCancelled TaskStatus = "cancelled"
	// StatusTimeout marks a task whose attempt exceeded its timeout budget.
	StatusTimeout TaskStatus = "timeout"
	// StatusSkipped marks a task that was never attempted.
	StatusSkipped TaskStatus = "skipped"
)

// ExecutionTask is a point-in-time snapshot of one supervised execution.
type ExecutionTask struct {
	ID         string        `json:"id"`
	Script     string        `json:"script"`
	DeviceID   string        `json:"device_id"`
	Status     TaskStatus    `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	RetryCount int           `json:"retry_count"`
	LastError  string        `json:"last_error"`
	Timeout    time.Duration `json:"timeout"`
}

// ExecutionMetrics is the outcome record written once a task reaches a
// terminal state.
type ExecutionMetrics struct {
	TaskID    string        `json:"task_id"`
	DeviceID  string        `json:"device_id"`
	Status    TaskStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	Retries   int           `json:"retries"`
	LastError string        `json:"last_error"`
}

// task is the mutable supervision record. Fields are guarded by mu; the
// monitor updates single fields under the lock but never holds it across a
// recovery call, a retry sleep or a relaunch.
type task struct {
	mu         sync.Mutex
	id         string
	script     string
	deviceID   string
	status     TaskStatus
	armedAt    time.Time
	startTime  time.Time
	endTime    time.Time
	retryCount int
	lastError  string
	timeout    time.Duration
	// retrying is set while a failure-pipeline run owns the task so the poll
	// loop and notification handlers do not dispatch a second run
	retrying bool
}

func (t *task) snapshot() ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// snapshotLocked builds a snapshot while the caller holds t.mu.
func (t *task) snapshotLocked() ExecutionTask {
	return ExecutionTask{
		ID:         t.id,
		Script:     t.script,
		DeviceID:   t.deviceID,
		Status:     t.status,
		StartTime:  t.startTime,
		EndTime:    t.endTime,
		RetryCount: t.retryCount,
		LastError:  t.lastError,
		Timeout:    t.timeout,
	}
}

// terminalRecordLocked builds the outcome record for a task that reached a
// terminal state. Duration spans from the first start to the terminal
// transition, across all retries. Caller holds t.mu.
func (t *task) terminalRecordLocked() ExecutionMetrics {
	return ExecutionMetrics{
		TaskID:    t.id,
		DeviceID:  t.deviceID,
		Status:    t.status,
		StartedAt: t.armedAt,
		EndedAt:   t.endTime,
		Duration:  t.endTime.Sub(t.armedAt),
		Retries:   t.retryCount,
		LastError: t.lastError,
	}
}

// RecoveryType names a remedial action attempted before falling back to a
// plain retry.
type RecoveryType string

const (
	RecoveryRestartTask      RecoveryType = "restart-task"
	RecoveryRestartApp       RecoveryType = "restart-app"
	RecoveryClearCache       RecoveryType = "clear-cache"
	RecoveryResetPermissions RecoveryType = "reset-permissions"
	RecoveryWaitRetry        RecoveryType = "wait-retry"
	RecoveryManual           RecoveryType = "manual"
)

// RecoveryAction is a stateless remedial policy selected by error category.
// MaxRetries, when positive, overrides the monitor's retry bound for tasks
// failing in this category.
type RecoveryAction struct {
	Type       RecoveryType      `json:"type"`
	Params     map[string]string `json:"params,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
}

// RetryPolicy names the delay curve of a RetryStrategy.
type RetryPolicy string

const (
	// PolicyFixed waits the base delay on every attempt.
	PolicyFixed RetryPolicy = "fixed"
	// PolicyLinear scales the base delay by the attempt number.
	PolicyLinear RetryPolicy = "linear"
	// PolicyExponential multiplies the delay by Multiplier per attempt.
	PolicyExponential RetryPolicy = "exponential"
	// PolicyAdaptive grows quadratically with the attempt number, between
	// linear and exponential.
	PolicyAdaptive RetryPolicy = "adaptive"
)

// RetryStrategy is a stateless delay policy for re-attempting failed tasks.
type RetryStrategy struct {
	Policy     RetryPolicy   `json:"policy"`
	BaseDelay  time.Duration `json:"base_delay"`
	Multiplier float64       `json:"multiplier,omitempty"`
	MaxDelay   time.Duration `json:"max_delay,omitempty"`
}

// DelayFor returns the wait before the given attempt. Attempts are 1-based;
// the delay never exceeds MaxDelay when one is set.
func (s RetryStrategy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := s.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	var delay time.Duration
	switch s.Policy {
	case PolicyLinear:
		delay = base * time.Duration(attempt)
	case PolicyExponential:
		mult := s.Multiplier
		if mult <= 1 {
			mult = 2
		}
		delay = time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
	case PolicyAdaptive:
		delay = base * time.Duration(attempt*attempt)
	default:
		delay = base
	}

	if s.MaxDelay > 0 && delay > s.MaxDelay {
		delay = s.MaxDelay
	}
	return delay
}

// DefaultBaseDelay is used by DelayFor when a strategy carries no base delay.
const DefaultBaseDelay = 2 * time.Second

// DefaultRetryStrategies maps each error category to its stock delay policy.
func DefaultRetryStrategies() map[ErrorCategory]RetryStrategy {
	return map[ErrorCategory]RetryStrategy{
		CategoryTimeout:         {Policy: PolicyExponential, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		CategoryNetwork:         {Policy: PolicyExponential, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Minute},
		CategoryElementNotFound: {Policy: PolicyLinear, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		CategoryPermission:      {Policy: PolicyFixed, BaseDelay: 3 * time.Second},
		CategoryUnknown:         {Policy: PolicyFixed, BaseDelay: 2 * time.Second},
	}
}

// DefaultRecoveryActions maps error categories to stock remedial actions.
// Categories without an entry go straight to the retry path.
func DefaultRecoveryActions() map[ErrorCategory]RecoveryAction {
	return map[ErrorCategory]RecoveryAction{
		CategoryPermission:      {Type: RecoveryResetPermissions},
		CategoryElementNotFound: {Type: RecoveryRestartApp},
	}
}
