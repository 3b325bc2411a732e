package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_connections_active",
		Help: "Live signaling connections",
	})

	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_messages_total",
		Help: "Inbound frames by message type",
	}, []string{"type"})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_errors_total",
		Help: "Error frames sent, by code",
	}, []string{"code"})

	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_send_failures_total",
		Help: "Outbound sends that failed and dropped the recipient",
	})

	metricFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_broadcast_recipients",
		Help:    "Recipients per broadcast",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})
)

func typeLabel(m Inbound) string {
	if _, ok := m.(Unknown); ok {
		return "unknown"
	}
	return m.MessageType()
}
