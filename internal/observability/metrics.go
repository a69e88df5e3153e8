package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the prometheus collectors exported by the service.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	ingested        *prometheus.CounterVec
	pollCycles      *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	slaBreaches     prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"route", "method", "code"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_inbound_messages_total",
			Help: "Inbound messages by ingestion outcome.",
		}, []string{"action"}),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_poll_cycles_total",
			Help: "Mailbox poll cycles by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_poll_cycle_duration_seconds",
			Help:    "Duration of a mailbox poll cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		slaBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_sla_breaches_total",
			Help: "Tickets flipped to BREACHED by the SLA monitor.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.errors, m.ingested, m.pollCycles, m.pollDuration, m.slaBreaches)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordIngest counts one inbound message outcome.
func (m *Metrics) RecordIngest(action string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(action).Inc()
}

// RecordPollCycle counts a finished poll cycle.
func (m *Metrics) RecordPollCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(result).Inc()
	m.pollDuration.Observe(duration.Seconds())
}

// RecordSLABreaches adds n breached tickets.
func (m *Metrics) RecordSLABreaches(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.slaBreaches.Add(float64(n))
}
