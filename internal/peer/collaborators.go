package peer

import "golang.org/x/crypto/chacha20poly1305"

// AuthMgt is the external authentication sub-driver:
// a handshake state machine with its own bounded slot pool, independent
// from the Complete-peer slot table this package owns. The peer manager
// treats it as a black box that produces two hooks per message processed
//: a freshly authenticated NodeID, and later, a completed
// NodeID with session keys ready.
type AuthMgt interface {
	// Start begins a handshake attempt toward addr. Returns false if no slot is available.
	Start(addr PeerAddr) bool

	// DecodeMsg feeds one anonymous-context AUTH payload, received from
	// src, into the handshake state machine.
	DecodeMsg(buf []byte, src PeerAddr) bool

	// NextMsg writes the next outbound handshake message into buf and
	// reports its destination. ok is false when there is nothing to send.
	NextMsg(buf []byte) (n int, target PeerAddr, ok bool)

	// AuthedPeerNodeID reports a NodeID that has just authenticated
	// itself, if any is pending.
	AuthedPeerNodeID() (NodeID, bool)

	// AcceptAuthedPeer hands back the slot index, local starting sequence
	// number, and local flags for a NodeID returned by AuthedPeerNodeID.
	AcceptAuthedPeer(peerid PeerID, seq uint64, flags uint16)

	// RejectAuthedPeer refuses the most recently reported authed peer,
	// used when its NodeID already has a live session in another slot.
	RejectAuthedPeer()

	// CompletedPeerNodeID reports a NodeID whose session keys are ready,
	// if any is pending.
	CompletedPeerNodeID() (NodeID, bool)

	// CompletedPeerDetails returns the remote's own view of this
	// session's slot index, its confirmed address, the derived session
	// key, the peer's starting sequence number, and its capability flags.
	CompletedPeerDetails() (remoteID PeerID, addr PeerAddr, sessionKey [chacha20poly1305.KeySize]byte, remoteSeq uint64, remoteFlags uint16)

	// FinishCompletedPeer acknowledges consumption of CompletedPeerDetails.
	FinishCompletedPeer()

	// UsedSlotCount and SlotCount report the handshake pool's occupancy,
	// consulted by the dial loop's "≥ half its slots free" gate.
	UsedSlotCount() int
	SlotCount() int
}
