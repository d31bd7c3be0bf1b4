package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes per-queue counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	enqueuedTotal  *prometheus.CounterVec
	completedTotal *prometheus.CounterVec
	failedTotal    *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
}

// NewMetrics registers the queue metric family on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_queue_jobs_enqueued_total",
			Help: "Jobs accepted per channel queue.",
		}, []string{"queue"}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_queue_jobs_completed_total",
			Help: "Jobs completed per channel queue.",
		}, []string{"queue"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_queue_jobs_failed_total",
			Help: "Jobs terminally failed per channel queue.",
		}, []string{"queue"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_queue_job_retries_total",
			Help: "Transient-error retries per channel queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(m.enqueuedTotal, m.completedTotal, m.failedTotal, m.retriesTotal)
	return m
}

func (m *Metrics) enqueued(q Name) {
	if m != nil {
		m.enqueuedTotal.WithLabelValues(string(q)).Inc()
	}
}

func (m *Metrics) completed(q Name) {
	if m != nil {
		m.completedTotal.WithLabelValues(string(q)).Inc()
	}
}

func (m *Metrics) failed(q Name) {
	if m != nil {
		m.failedTotal.WithLabelValues(string(q)).Inc()
	}
}

func (m *Metrics) retried(q Name) {
	if m != nil {
		m.retriesTotal.WithLabelValues(string(q)).Inc()
	}
}
