package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Collectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncActiveTasks()
	m.IncActiveTasks()
	m.DecActiveTasks()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasksActive))

	m.IncTaskRetry(CategoryNetwork)
	m.IncTaskRetry(CategoryNetwork)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.taskRetries.WithLabelValues("network")))

	m.IncTaskFailure(CategoryUnknown)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.taskFailures.WithLabelValues("unknown")))

	m.IncRecovery(RecoveryRestartApp)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recoveries.WithLabelValues("restart-app")))

	m.ObserveTaskDuration(StatusCompleted, 1500*time.Millisecond)
	count := testutil.CollectAndCount(m.taskDuration, "agenthive_monitor_task_duration_seconds")
	assert.Equal(t, 1, count)
}

func TestMustNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncTaskRetry(CategoryTimeout)
	second.IncTaskRetry(CategoryTimeout)

	// both instances share the same underlying collectors
	assert.Equal(t, float64(2), testutil.ToFloat64(first.taskRetries.WithLabelValues("timeout")))
	assert.Equal(t, float64(2), testutil.ToFloat64(second.taskRetries.WithLabelValues("timeout")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncActiveTasks()
		m.DecActiveTasks()
		m.IncTaskRetry(CategoryNetwork)
		m.IncTaskFailure(CategoryNetwork)
		m.IncRecovery(RecoveryManual)
		m.ObserveTaskDuration(StatusFailed, time.Second)
	})
}
