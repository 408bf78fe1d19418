// Package metrics provides Prometheus instrumentation for the sync orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gitpulse"

// Metrics holds the orchestrator's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tasksEnqueued   *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	syncDuration    *prometheus.HistogramVec
	rateLimitWaits  prometheus.Counter
	rateLimitWaited prometheus.Counter
}

// New creates the collectors and registers them with reg.
// If reg is nil, it returns nil (no-op metrics).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		tasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks accepted by the orchestrator",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status",
		}, []string{"kind", "status"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing a task",
		}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repository_sync_duration_seconds",
			Help:      "Duration of single repository syncs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Throttled remote responses that were waited out",
		}),
		rateLimitWaited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Time spent waiting on remote rate limits",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.tasksEnqueued, m.tasksFinished, m.activeWorkers,
		m.syncDuration, m.rateLimitWaits, m.rateLimitWaited,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TaskEnqueued counts a task accepted into the queue
func (m *Metrics) TaskEnqueued(kind string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(kind).Inc()
}

// TaskFinished counts a task reaching a terminal status
func (m *Metrics) TaskFinished(kind, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(kind, status).Inc()
}

// WorkerBusy tracks a worker picking up (delta 1) or releasing (-1) a task
func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.activeWorkers.Add(delta)
}

// ObserveSync records how long one repository sync took
func (m *Metrics) ObserveSync(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RateLimitWait records a throttling pause. Its signature matches
// syncer.Retrier.OnThrottle.
func (m *Metrics) RateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
	m.rateLimitWaited.Add(d.Seconds())
}
