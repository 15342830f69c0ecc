package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the dispatcher and recorder.
type Metrics struct {
	registry *prometheus.Registry

	emailsSentTotal    *prometheus.CounterVec
	emailsFailedTotal  *prometheus.CounterVec
	emailsSkippedTotal *prometheus.CounterVec
	sendDuration       *prometheus.HistogramVec
	workerInflight     prometheus.Gauge
	claimRacesTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkmailer",
				Name:      "emails_sent_total",
				Help:      "Total number of emails transmitted successfully.",
			},
			[]string{"account"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkmailer",
				Name:      "emails_failed_total",
				Help:      "Total number of jobs that ended in failed state, by reason class.",
			},
			[]string{"account", "reason"},
		),
		emailsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulkmailer",
				Name:      "emails_skipped_total",
				Help:      "Total number of jobs skipped, mostly unsubscribed recipients.",
			},
			[]string{"account"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bulkmailer",
				Name:      "email_send_duration_seconds",
				Help:      "SMTP transmission duration in seconds grouped by account.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"account"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bulkmailer",
				Name:      "worker_inflight",
				Help:      "Current number of workers with a claimed job.",
			},
		),
		claimRacesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bulkmailer",
				Name:      "queue_claim_races_total",
				Help:      "Total number of claim attempts lost to another worker.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailsSkippedTotal,
		m.sendDuration,
		m.workerInflight,
		m.claimRacesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEmailSent(accountID string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeLabel(accountID)).Inc()
}

func (m *Metrics) IncEmailFailed(accountID string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.emailsFailedTotal.WithLabelValues(normalizeLabel(accountID), reasonLabel).Inc()
}

func (m *Metrics) IncEmailSkipped(accountID string) {
	if m == nil {
		return
	}
	m.emailsSkippedTotal.WithLabelValues(normalizeLabel(accountID)).Inc()
}

func (m *Metrics) ObserveSendDuration(accountID string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(accountID)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncClaimRace() {
	if m == nil {
		return
	}
	m.claimRacesTotal.Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
