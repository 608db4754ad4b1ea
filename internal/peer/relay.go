package peer

import (
	"encoding/binary"
	"time"

	"github.com/blahgeek/peervpn/internal/wire"
)

// Relay envelope format: a 4-byte PeerID prefix followed by
// an opaque inner payload that the relay never inspects or decrypts.
// RELAY_IN carries the forwarding target's slot id (as seen by the relay);
// RELAY_OUT carries the origin's slot id (also as seen by the relay). Both
// share this layout, so one pair of helpers serves both directions.
const relayEnvelopeHeaderSize = 4

func encodeRelayEnvelope(id PeerID, inner []byte) []byte {
	out := make([]byte, relayEnvelopeHeaderSize+len(inner))
	binary.BigEndian.PutUint32(out[0:4], uint32(id))
	copy(out[relayEnvelopeHeaderSize:], inner)
	return out
}

func decodeRelayEnvelope(payload []byte) (PeerID, []byte, bool) {
	if len(payload) < relayEnvelopeHeaderSize {
		return 0, nil, false
	}
	id := PeerID(binary.BigEndian.Uint32(payload[0:4]))
	return id, payload[relayEnvelopeHeaderSize:], true
}

// WrapRelay encapsulates an already-encoded outer datagram (inner) destined
// for targetID, whose resolved address is indirect, as a RELAY_IN packet
// addressed to the relay peer. It refuses to wrap if the relay's session
// has been replaced since the indirect address was recorded. Encapsulation
// never recurses: the caller must pass an already-complete datagram.
func (m *Manager) WrapRelay(buf []byte, targetID PeerID, inner []byte, now time.Time) (int, PeerAddr, bool) {
	if !m.slotmap.Valid(targetID) {
		return 0, PeerAddr{}, false
	}
	relayID, relayCT, innerID, ok := m.slots[targetID].RemoteAddr.GetIndirect()
	if !ok {
		return 0, PeerAddr{}, false
	}
	if !m.IsActiveRemoteCT(relayID, relayCT) {
		return 0, PeerAddr{}, false
	}

	relay := &m.slots[relayID]
	envelope := encodeRelayEnvelope(innerID, inner)
	seq := relay.RemoteSeq + 1
	n, err := wire.Encode(buf, uint32(relay.RemoteID), seq, uint8(PayloadRelayIn), 0, envelope, relay.CryptoCtx)
	if err != nil {
		return 0, PeerAddr{}, false
	}
	relay.RemoteSeq = seq
	relay.LastSend = now
	return n, relay.RemoteAddr, true
}

// HandleRelayIn processes an inbound RELAY_IN payload received (after outer
// decryption) from slot sid. It accepts only when the local node advertises
// the RELAY capability, and when valid, stages a RELAY_OUT packet toward
// the indicated target on the round-robin outbox. The inner
// payload is forwarded byte-for-byte; the relay never decrypts it.
func (m *Manager) HandleRelayIn(sid PeerID, payload []byte) bool {
	if !m.GetFlag(FlagRelay) {
		return false
	}
	targetID, inner, ok := decodeRelayEnvelope(payload)
	if !ok || !m.IsActive(targetID) {
		return false
	}
	if m.rrmsg.pending {
		// Request/response outbox already holds a pending message; this
		// RELAY_IN is dropped.
		return false
	}
	m.rrmsg = rrMsg{
		pending:     true,
		peerid:      targetID,
		payloadType: PayloadRelayOut,
		payload:     encodeRelayEnvelope(sid, inner),
	}
	m.metrics.IncRelayForwarded()
	return true
}

// HandleRelayOut decapsulates an inbound RELAY_OUT payload received from
// slot sid, returning the inner datagram and a synthetic indirect source
// address built from (sid, conn_time[sid], origin_peerid). The caller must
// recurse into HandleIncoming with depth+1; this function performs no
// recursion itself.
func (m *Manager) HandleRelayOut(sid PeerID, payload []byte) ([]byte, PeerAddr, bool) {
	originID, inner, ok := decodeRelayEnvelope(payload)
	if !ok {
		return nil, PeerAddr{}, false
	}
	src := IndirectAddr(sid, m.slots[sid].ConnTime, originID)
	return inner, src, true
}
