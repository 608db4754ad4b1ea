// Package peer implements the session- and packet-oriented hub of an
// authenticated, encrypted, connectionless peer-to-peer overlay: the peer
// manager. It owns the per-peer session table, the outbound scheduler that
// multiplexes user traffic, keepalives, authentication messages, ping/pong
// and relay traffic over a single datagram egress, and the inbound
// dispatcher that runs decryption, replay checking, fragment reassembly and
// relay decapsulation.
//
// The Manager is deliberately single-threaded and poll-driven: it holds no
// goroutines, no sync primitives, and no atomics. Every exported method
// runs to completion and returns; the host process is responsible for
// calling HandleIncoming and TakeNextOutgoing from a single goroutine.
package peer

import "time"

// Tunables.
const (
	// MsgMin is the maximum plaintext size of one fragment (also the
	// threshold above which userdata is split into fragments).
	MsgMin = 1024

	// MsgMax is the largest datagram the manager will ever produce or
	// accept, and the largest userdata payload after reassembly.
	MsgMax = 8192

	// PingSize is the payload length of a PING request.
	PingSize = 64

	// FragbufCount is the number of concurrent fragment-reassembly buckets.
	FragbufCount = 64

	// DecodeRecursionMaxDepth bounds relay decapsulation recursion.
	DecodeRecursionMaxDepth = 2

	// RecvTimeout is the idle timeout after which a slot is deleted.
	RecvTimeout = 100 * time.Second

	// KeepaliveInterval is the per-slot keepalive cadence.
	KeepaliveInterval = 10 * time.Second

	// NewConnectInterval throttles the dial loop globally.
	NewConnectInterval = 1 * time.Second

	// NewConnectMaxAge caps NodeDb candidate staleness for dialing.
	NewConnectMaxAge = 7 * 24 * time.Hour
)

// Local capability flags.
const (
	FlagUserdata uint16 = 1 << 0
	FlagRelay    uint16 = 1 << 1
)

// PeerID is a dense slot index in [0, N). Slot 0 is reserved for the local
// node and for anonymous, pre-authentication traffic.
type PeerID uint32

// LocalPeerID is the reserved slot for the local node.
const LocalPeerID PeerID = 0

// NodeID is the long-term public identity of a participant.
type NodeID [32]byte

// IsZero reports whether id is the zero NodeID.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// State is a PeerSlot's lifecycle stage.
type State uint8

const (
	// StateInvalid marks an unused or torn-down slot.
	StateInvalid State = iota
	// StateAuthed marks a slot accepted by AuthMgt but awaiting session keys.
	StateAuthed
	// StateComplete marks a slot with live session keys, eligible for data traffic.
	StateComplete
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateAuthed:
		return "Authed"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// PayloadType tags the plaintext payload carried by a decoded packet.
type PayloadType uint8

const (
	PayloadUserdata PayloadType = iota + 1
	PayloadUserdataFragment
	PayloadPeerinfo
	PayloadPing
	PayloadPong
	PayloadRelayIn
	PayloadRelayOut
	PayloadAuth
)

// String implements fmt.Stringer.
func (t PayloadType) String() string {
	switch t {
	case PayloadUserdata:
		return "USERDATA"
	case PayloadUserdataFragment:
		return "USERDATA_FRAGMENT"
	case PayloadPeerinfo:
		return "PEERINFO"
	case PayloadPing:
		return "PING"
	case PayloadPong:
		return "PONG"
	case PayloadRelayIn:
		return "RELAY_IN"
	case PayloadRelayOut:
		return "RELAY_OUT"
	case PayloadAuth:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}
