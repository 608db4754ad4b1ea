package peer

// Metrics receives optional instrumentation callbacks from the peer
// manager. It follows a "functional option, defaults to a no-op" shape
// (WithMetrics(...), never nil). A concrete Prometheus-backed
// implementation lives in internal/metrics.
type Metrics interface {
	SetPeersByState(state string, n int)
	IncPacketsSent(payloadType string)
	IncPacketsReceived(payloadType string)
	IncPacketsDropped(reason string)
	IncHandshakeCompletions()
	IncFragmentGroupsAssembled()
	IncRelayForwarded()
}

// noopMetrics discards every call. It is the Manager's default Metrics
// implementation so call sites never need a nil check.
type noopMetrics struct{}

func (noopMetrics) SetPeersByState(string, int)    {}
func (noopMetrics) IncPacketsSent(string)          {}
func (noopMetrics) IncPacketsReceived(string)      {}
func (noopMetrics) IncPacketsDropped(string)       {}
func (noopMetrics) IncHandshakeCompletions()       {}
func (noopMetrics) IncFragmentGroupsAssembled()    {}
func (noopMetrics) IncRelayForwarded()             {}
