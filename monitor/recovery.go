package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrManualIntervention is returned when a failure category is mapped to the
// manual recovery action. It always fails the recovery step so the task falls
// through to the retry path and, once retries are exhausted, stays terminally
// failed for a human to inspect.
var ErrManualIntervention = errors.New("manual intervention required")

const (
	// DefaultRecoveryTimeout bounds a single device controller call.
	DefaultRecoveryTimeout = 30 * time.Second
	// DefaultRecoveryWait is the pause applied by the wait-retry action when
	// its params carry no explicit wait duration.
	DefaultRecoveryWait = 3 * time.Second
)

// DeviceController executes device-level remedial effects on behalf of the
// monitor. Implementations talk to the automation target (restart the app
// under test, clear its cache, re-grant permissions) and may block on I/O;
// calls are bounded by a timeout context.
type DeviceController interface {
	RestartApp(ctx context.Context, deviceID string) error
	ClearCache(ctx context.Context, deviceID string) error
	ResetPermissions(ctx context.Context, deviceID string) error
}

// remediate executes the remedial part of a recovery action. A nil return
// means the remediation succeeded and the task can be relaunched; an error
// sends the task to the retry path instead.
func (m *Monitor) remediate(action RecoveryAction, deviceID string) error {
	switch action.Type {
	case RecoveryRestartTask:
		// the relaunch after remediation is the restart
		return nil

	case RecoveryRestartApp:
		return m.withController(func(ctx context.Context, c DeviceController) error {
			return c.RestartApp(ctx, deviceID)
		})

	case RecoveryClearCache:
		return m.withController(func(ctx context.Context, c DeviceController) error {
			return c.ClearCache(ctx, deviceID)
		})

	case RecoveryResetPermissions:
		return m.withController(func(ctx context.Context, c DeviceController) error {
			return c.ResetPermissions(ctx, deviceID)
		})

	case RecoveryWaitRetry:
		time.Sleep(recoveryWait(action))
		return nil

	case RecoveryManual:
		return ErrManualIntervention

	default:
		return fmt.Errorf("unknown recovery action %q", action.Type)
	}
}

// withController runs a device-level effect under a bounded context. Without
// a configured controller the effect fails, which routes the task to the
// retry path.
func (m *Monitor) withController(fn func(ctx context.Context, c DeviceController) error) error {
	if m.controller == nil {
		return errors.New("no device controller configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRecoveryTimeout)
	defer cancel()
	return fn(ctx, m.controller)
}

// recoveryWait resolves the wait-retry pause from the action params.
func recoveryWait(action RecoveryAction) time.Duration {
	raw, ok := action.Params["wait"]
	if !ok {
		return DefaultRecoveryWait
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait <= 0 {
		return DefaultRecoveryWait
	}
	return wait
}
