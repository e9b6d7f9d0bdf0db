package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	InboundTotal    *prometheus.CounterVec
	OutboundTotal   *prometheus.CounterVec
	SendDuration    *prometheus.HistogramVec
	ReconnectsTotal *prometheus.CounterVec
	ThreadDecisions *prometheus.CounterVec
	ThreadFailures  *prometheus.CounterVec
	Connected       *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	StatusRequests  prometheus.Counter
}{
	InboundTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "inbound_total",
		Help:      "Inbound envelopes delivered to the host, by channel.",
	}, []string{"channel"}),

	OutboundTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "outbound_total",
		Help:      "Outbound sends by channel and status (ok, error, dropped).",
	}, []string{"channel", "status"}),

	SendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "send_duration_seconds",
		Help:      "Outbound send duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"channel"}),

	ReconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "reconnects_total",
		Help:      "Scheduled reconnect attempts by channel.",
	}, []string{"channel"}),

	ThreadDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "thread_decisions_total",
		Help:      "Outbound thread routing decisions.",
	}, []string{"decision"}),

	ThreadFailures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "thread_failures_total",
		Help:      "Thread creation failures by classified reason.",
	}, []string{"reason"}),

	Connected: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "connected",
		Help:      "1 when the channel has a live connection.",
	}, []string{"channel"}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),

	StatusRequests: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "status_requests_total",
		Help:      "Requests served by the status endpoint.",
	}),
}

// SetConnected records the connection gauge for channel.
func SetConnected(channel string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	Metrics.Connected.WithLabelValues(channel).Set(v)
}
