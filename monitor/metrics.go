package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink receives the outcome record of every task that reaches a
// terminal state. Implementations must be fast; the monitor calls them
// inline from its supervision paths.
type MetricsSink interface {
	RecordExecution(m ExecutionMetrics)
}

// MetricsSinkFunc adapts a function to the MetricsSink interface.
type MetricsSinkFunc func(m ExecutionMetrics)

// RecordExecution implements MetricsSink.
func (f MetricsSinkFunc) RecordExecution(m ExecutionMetrics) { f(m) }

// Metrics exposes Prometheus collectors that report supervision activity.
type Metrics struct {
	tasksActive  prometheus.Gauge
	taskRetries  *prometheus.CounterVec
	taskFailures *prometheus.CounterVec
	recoveries   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once so
// multiple monitors in one process do not trip duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Supply a fresh registry when unique collectors are required, for example in
// tests. Registration errors other than AlreadyRegistered panic, mirroring
// promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	tasksActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agenthive",
		Subsystem: "monitor",
		Name:      "tasks_active",
		Help:      "Number of executions currently under supervision.",
	})
	taskRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agenthive",
		Subsystem: "monitor",
		Name:      "task_retries_total",
		Help:      "Number of task retries scheduled, by error category.",
	}, []string{"category"})
	taskFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agenthive",
		Subsystem: "monitor",
		Name:      "task_failures_total",
		Help:      "Number of tasks that failed terminally, by error category.",
	}, []string{"category"})
	recoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agenthive",
		Subsystem: "monitor",
		Name:      "task_recoveries_total",
		Help:      "Number of successful recovery actions, by action type.",
	}, []string{"action"})
	taskDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agenthive",
		Subsystem: "monitor",
		Name:      "task_duration_seconds",
		Help:      "Supervised execution duration from first start to terminal state.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	collectors := []prometheus.Collector{tasksActive, taskRetries, taskFailures, recoveries, taskDuration}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					taskDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target {
					case taskRetries:
						taskRetries = already.ExistingCollector.(*prometheus.CounterVec)
					case taskFailures:
						taskFailures = already.ExistingCollector.(*prometheus.CounterVec)
					case recoveries:
						recoveries = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		tasksActive:  tasksActive,
		taskRetries:  taskRetries,
		taskFailures: taskFailures,
		recoveries:   recoveries,
		taskDuration: taskDuration,
	}
}

// IncActiveTasks marks a task as supervised.
func (m *Metrics) IncActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActiveTasks marks a task as terminal.
func (m *Metrics) DecActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}

// IncTaskRetry counts one scheduled retry for the given category.
func (m *Metrics) IncTaskRetry(category ErrorCategory) {
	if m == nil || m.taskRetries == nil {
		return
	}
	m.taskRetries.WithLabelValues(string(category)).Inc()
}

// IncTaskFailure counts one terminal failure for the given category.
func (m *Metrics) IncTaskFailure(category ErrorCategory) {
	if m == nil || m.taskFailures == nil {
		return
	}
	m.taskFailures.WithLabelValues(string(category)).Inc()
}

// IncRecovery counts one successful recovery action.
func (m *Metrics) IncRecovery(action RecoveryType) {
	if m == nil || m.recoveries == nil {
		return
	}
	m.recoveries.WithLabelValues(string(action)).Inc()
}

// ObserveTaskDuration records the supervised duration of a terminal task.
func (m *Metrics) ObserveTaskDuration(status TaskStatus, duration time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}
