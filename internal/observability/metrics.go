// Package observability exposes Prometheus metrics fed by the internal
// event bus, so instrumentation never touches the hot path directly.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colonyops/tether/internal/core/eventbus"
)

// Metrics owns a dedicated Prometheus registry and the tether collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	tasksClosed   prometheus.Counter
	tasksTrunc    prometheus.Counter
	undoRestored  prometheus.Counter
	undoFailed    prometheus.Counter
	droppedEvents prometheus.CounterFunc
}

// New builds the metric set. queueDepth and droppedEvents are sampled at
// scrape time.
func New(queueDepth func() float64, droppedEvents func() float64) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tether_jobs_total",
			Help: "Commands executed by the bridge consumer, by command and status.",
		}, []string{"command", "status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tether_job_duration_seconds",
			Help:    "Wall time of one command execution on the host tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		tasksClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_tasks_closed_total",
			Help: "Workflow tasks committed to history.",
		}),
		tasksTrunc: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_tasks_truncated_total",
			Help: "Tasks that hit the snapshot cap.",
		}),
		undoRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_undo_restored_total",
			Help: "Targets restored by undo passes.",
		}),
		undoFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_undo_failed_total",
			Help: "Targets an undo pass could not restore.",
		}),
		droppedEvents: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tether_bus_dropped_events_total",
			Help: "Events discarded because the bus buffer was full.",
		}, droppedEvents),
	}

	reg.MustRegister(
		m.jobsTotal, m.jobDuration,
		m.tasksClosed, m.tasksTrunc,
		m.undoRestored, m.undoFailed,
		m.droppedEvents,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tether_bridge_queue_depth",
			Help: "Jobs waiting for the next host tick.",
		}, queueDepth),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Bind subscribes the collectors to bus events.
func (m *Metrics) Bind(bus *eventbus.EventBus) {
	bus.SubscribeJobExecuted(func(p eventbus.JobExecutedPayload) {
		m.jobsTotal.WithLabelValues(p.Command, p.Status).Inc()
		m.jobDuration.Observe(p.Duration.Seconds())
	})
	bus.SubscribeTaskClosed(func(p eventbus.TaskClosedPayload) {
		m.tasksClosed.Inc()
		if p.Truncated {
			m.tasksTrunc.Inc()
		}
	})
	bus.SubscribeTaskUndone(func(p eventbus.TaskUndonePayload) {
		m.undoRestored.Add(float64(p.Restored))
		m.undoFailed.Add(float64(p.Failed))
	})
}

// Handler serves the scrape endpoint for this registry only.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
