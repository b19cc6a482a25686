package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	activeSockets  prometheus.Gauge
	transitions    *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	appended       prometheus.Counter
	appendFailures prometheus.Counter
	deliveries     prometheus.Counter
	droppedFrames  *prometheus.CounterVec
	backlogSize    prometheus.Histogram
}

// newRelayMetrics registers the relay collectors on reg. A nil reg leaves the
// collectors unregistered.
func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	m := &relayMetrics{
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentorchat_live_sockets",
			Help: "Sockets currently registered for live delivery.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorchat_session_transitions_total",
			Help: "Relay session state transitions.",
		}, []string{"from", "to"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorchat_handshakes_rejected_total",
			Help: "Handshakes closed before reaching the live state, by reason.",
		}, []string{"reason"}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorchat_messages_appended_total",
			Help: "Messages persisted from live sockets.",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorchat_message_append_failures_total",
			Help: "Inbound messages dropped because the store rejected them.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorchat_broadcast_deliveries_total",
			Help: "Live frames handed to subscriber sockets.",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorchat_inbound_frames_dropped_total",
			Help: "Inbound frames discarded before persistence, by reason.",
		}, []string{"reason"}),
		backlogSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentorchat_backlog_messages",
			Help:    "Messages delivered in a session's backlog batch.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeSockets,
			m.transitions,
			m.rejected,
			m.appended,
			m.appendFailures,
			m.deliveries,
			m.droppedFrames,
			m.backlogSize,
		)
	}
	return m
}
