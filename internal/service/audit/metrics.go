package audit

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	written *prometheus.CounterVec
	failed  *prometheus.CounterVec
	dropped *prometheus.CounterVec
	queued  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridchat_audit_written_total",
			Help: "Audit records written to the sink, by kind.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridchat_audit_failures_total",
			Help: "Audit sink write failures, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridchat_audit_dropped_total",
			Help: "Audit records dropped before reaching the sink.",
		}, []string{"reason"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybridchat_audit_queue_depth",
			Help: "Audit records waiting for the sink.",
		}),
	}

	reg.MustRegister(m.written, m.failed, m.dropped, m.queued)
	return m
}

func (m *Metrics) recordWritten(kind string) {
	if m == nil {
		return
	}
	m.written.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordFailure(kind string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
