package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	activeConns  prometheus.Gauge
	frames       *prometheus.CounterVec
	frameErrors  *prometheus.CounterVec
	frameLatency *prometheus.HistogramVec
	deliveries   prometheus.Counter
	storeErrors  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybridchat_connections_active",
			Help: "Current number of open real-time connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridchat_frames_total",
			Help: "Inbound frames handled, by type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridchat_frame_errors_total",
			Help: "Rejected inbound frames, by error code.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybridchat_frame_latency_seconds",
			Help:    "Latency for handling inbound frames.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"type"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybridchat_broadcast_deliveries_total",
			Help: "Message frames accepted by subscriber connections.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybridchat_message_store_errors_total",
			Help: "Message store appends that failed; the broadcast still happened.",
		}),
	}

	reg.MustRegister(
		m.activeConns,
		m.frames,
		m.frameErrors,
		m.frameLatency,
		m.deliveries,
		m.storeErrors,
	)
	return m
}

func (m *Metrics) incConn() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
}

func (m *Metrics) decConn() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) recordFrame(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) observeLatency(kind string, dur time.Duration) {
	if m == nil || kind == "" {
		return
	}
	m.frameLatency.WithLabelValues(kind).Observe(dur.Seconds())
}

func (m *Metrics) recordDeliveries(n int) {
	if m == nil {
		return
	}
	m.deliveries.Add(float64(n))
}

func (m *Metrics) recordStoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}
