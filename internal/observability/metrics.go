package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the system exposes. Each
// component depends only on the narrow metrics interface it declares
// itself (ingress.Metrics, smtp.SubmissionMetrics, engine.SenderMetrics,
// outbound.Metrics); the small adapter types below satisfy those
// interfaces by delegating into the collectors here, so Prometheus stays
// an implementation detail of this package alone.
type Metrics struct {
	IngressOutcomesTotal  *prometheus.CounterVec
	OutboundOutcomesTotal *prometheus.CounterVec

	SubmissionSessionsTotal     *prometheus.CounterVec
	SubmissionAuthAttemptsTotal *prometheus.CounterVec

	EmailSendDuration    prometheus.Histogram
	SMTPConnectionsTotal *prometheus.CounterVec

	TasksProcessedTotal *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	TasksInFlight       prometheus.Gauge

	BusListenersGauge prometheus.Gauge

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngressOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "ingress",
			Name:      "outcomes_total",
			Help:      "Total number of ingress handler outcomes, by outcome.",
		}, []string{"outcome"}),
		OutboundOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "outbound",
			Name:      "outcomes_total",
			Help:      "Total number of outbound delivery outcomes, by resulting message status.",
		}, []string{"outcome"}),

		SubmissionSessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "smtp",
			Name:      "sessions_total",
			Help:      "Total submission server sessions, by result.",
		}, []string{"result"}),
		SubmissionAuthAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "smtp",
			Name:      "auth_attempts_total",
			Help:      "Total AUTH attempts on the submission server, by result.",
		}, []string{"result"}),

		EmailSendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remails",
			Subsystem: "outbound",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver an email via a single SMTP session.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SMTPConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "outbound",
			Name:      "smtp_connections_total",
			Help:      "Total outbound SMTP connections attempted, by destination MX host and result.",
		}, []string{"mx_host", "result"}),

		TasksProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "scheduler",
			Name:      "tasks_processed_total",
			Help:      "Total periodic scheduler tasks processed, by task type and result.",
		}, []string{"task_type", "result"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "remails",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Periodic scheduler task processing duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"task_type"}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "remails",
			Subsystem: "scheduler",
			Name:      "tasks_in_flight",
			Help:      "Number of periodic scheduler tasks currently being processed.",
		}),

		BusListenersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "remails",
			Subsystem: "bus",
			Name:      "listeners",
			Help:      "Number of WebSocket listeners currently connected to the message bus.",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remails",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total management-API HTTP requests, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "remails",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Management-API HTTP request duration in seconds, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "remails",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of management-API HTTP requests currently being served.",
		}),
	}
}

// IngressMetrics adapts Metrics to ingress.Metrics.
type IngressMetrics struct{ M *Metrics }

func (a IngressMetrics) IncOutcome(outcome string) {
	a.M.IngressOutcomesTotal.WithLabelValues(outcome).Inc()
}

// OutboundMetrics adapts Metrics to outbound.Metrics.
type OutboundMetrics struct{ M *Metrics }

func (a OutboundMetrics) IncOutcome(outcome string) {
	a.M.OutboundOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SubmissionMetrics adapts Metrics to smtp.SubmissionMetrics.
type SubmissionMetrics struct{ M *Metrics }

func (a SubmissionMetrics) IncSession(result string) {
	a.M.SubmissionSessionsTotal.WithLabelValues(result).Inc()
}

func (a SubmissionMetrics) IncAuthAttempt(result string) {
	a.M.SubmissionAuthAttemptsTotal.WithLabelValues(result).Inc()
}

// SenderMetrics adapts Metrics to engine.SenderMetrics.
type SenderMetrics struct{ M *Metrics }

func (a SenderMetrics) ObserveEmailSendDuration(seconds float64) {
	a.M.EmailSendDuration.Observe(seconds)
}

func (a SenderMetrics) IncSMTPConnection(mxHost, result string) {
	a.M.SMTPConnectionsTotal.WithLabelValues(mxHost, result).Inc()
}
