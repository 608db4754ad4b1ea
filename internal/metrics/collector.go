// Package peervpnmetrics exposes Prometheus instrumentation for the peer
// manager's data-plane and handshake activity.
package peervpnmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "peervpn"
	subsystem = "peer"
)

// Label names for peer manager metrics.
const (
	labelState    = "state"
	labelType     = "type"
	labelDropKind = "drop_kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Peer Manager Metrics
// -------------------------------------------------------------------------

// Collector holds all peer manager Prometheus metrics.
//
//   - PeersByState tracks how many slots currently sit in each FSM state.
//   - Packet counters track datagram volume by payload type and drop reason.
//   - HandshakeCompletions and RelayForwarded track protocol-level events.
type Collector struct {
	// PeersByState is the number of slots currently in each state
	// (Invalid, Authed, Complete).
	PeersByState *prometheus.GaugeVec

	// PacketsSent counts datagrams emitted by take_next_outgoing, labeled
	// by payload type.
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts datagrams accepted by handle_incoming, labeled
	// by payload type.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts datagrams rejected by handle_incoming, labeled
	// by drop reason.
	PacketsDropped *prometheus.CounterVec

	// HandshakeCompletions counts Authed -> Complete transitions.
	HandshakeCompletions prometheus.Counter

	// FragmentGroupsAssembled counts fragment buckets that reached
	// completion and surfaced a userdata payload.
	FragmentGroupsAssembled prometheus.Counter

	// RelayForwarded counts RELAY_IN packets re-staged as RELAY_OUT.
	RelayForwarded prometheus.Counter
}

// NewCollector creates a Collector with all peer manager metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PeersByState,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.HandshakeCompletions,
		c.FragmentGroupsAssembled,
		c.RelayForwarded,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		PeersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slots_by_state",
			Help:      "Number of peer slots currently in each FSM state.",
		}, []string{labelState}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total datagrams emitted by the outbound scheduler.",
		}, []string{labelType}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total datagrams accepted by the inbound dispatcher.",
		}, []string{labelType}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams dropped by the inbound dispatcher.",
		}, []string{labelDropKind}),

		HandshakeCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_completions_total",
			Help:      "Total Authed -> Complete transitions.",
		}),

		FragmentGroupsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fragment_groups_assembled_total",
			Help:      "Total fragment groups reassembled into a userdata payload.",
		}),

		RelayForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_forwarded_total",
			Help:      "Total RELAY_IN packets re-staged as RELAY_OUT.",
		}),
	}
}

// -------------------------------------------------------------------------
// Convenience recorders
// -------------------------------------------------------------------------

// SetPeersByState overwrites the gauge for a given state label.
func (c *Collector) SetPeersByState(state string, n int) {
	c.PeersByState.WithLabelValues(state).Set(float64(n))
}

// IncPacketsSent increments the sent counter for a payload type.
func (c *Collector) IncPacketsSent(payloadType string) {
	c.PacketsSent.WithLabelValues(payloadType).Inc()
}

// IncPacketsReceived increments the received counter for a payload type.
func (c *Collector) IncPacketsReceived(payloadType string) {
	c.PacketsReceived.WithLabelValues(payloadType).Inc()
}

// IncPacketsDropped increments the dropped counter for a drop reason.
func (c *Collector) IncPacketsDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncHandshakeCompletions increments the Authed -> Complete counter.
func (c *Collector) IncHandshakeCompletions() {
	c.HandshakeCompletions.Inc()
}

// IncFragmentGroupsAssembled increments the reassembled-fragment-group counter.
func (c *Collector) IncFragmentGroupsAssembled() {
	c.FragmentGroupsAssembled.Inc()
}

// IncRelayForwarded increments the relayed-packet counter.
func (c *Collector) IncRelayForwarded() {
	c.RelayForwarded.Inc()
}
