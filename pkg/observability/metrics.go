package observability

import "github.com/prometheus/client_golang/prometheus"

// RemotingMetrics holds the transport-level counters and gauges.
// All fields are safe for concurrent use; a nil *RemotingMetrics is
// not valid, use NewRemotingMetrics with a private registry in tests.
type RemotingMetrics struct {
	SentFrames       prometheus.Counter
	DroppedMessages  *prometheus.CounterVec
	InboundMessages  prometheus.Counter
	GatedPeers       prometheus.Gauge
	QuarantinedPeers prometheus.Gauge
	CommandResults   *prometheus.CounterVec
}

// NewRemotingMetrics builds and registers the remoting metric set.
// reg may be nil, in which case a detached registry is used (metrics
// still count, nothing is exported).
func NewRemotingMetrics(reg prometheus.Registerer) *RemotingMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &RemotingMetrics{
		SentFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "sent_frames_total",
			Help:      "Frames handed to the connection layer.",
		}),
		DroppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "dropped_messages_total",
			Help:      "Messages dropped on the send or receive path, by reason.",
		}, []string{"reason"}),
		InboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "inbound_messages_total",
			Help:      "Envelopes delivered to the inbound handler.",
		}),
		GatedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "gated_peers",
			Help:      "Addresses currently under an unexpired gate.",
		}),
		QuarantinedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "quarantined_peers",
			Help:      "Peer incarnations under permanent quarantine.",
		}),
		CommandResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akka",
			Subsystem: "remoting",
			Name:      "management_results_total",
			Help:      "Resolved management command results, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.SentFrames, m.DroppedMessages, m.InboundMessages,
		m.GatedPeers, m.QuarantinedPeers, m.CommandResults)
	return m
}

// Drop counts one dropped message under the given reason.
func (m *RemotingMetrics) Drop(reason string) {
	m.DroppedMessages.WithLabelValues(reason).Inc()
}
