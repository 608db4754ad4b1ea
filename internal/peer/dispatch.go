package peer

import (
	"time"

	"github.com/blahgeek/peervpn/internal/wire"
)

// recvStaged holds the most recently assembled userdata payload, ready for
// RecvUserdata to pick up.
type recvStaged struct {
	valid   bool
	peerid  PeerID
	payload []byte
}

// HandleIncoming is the inbound entrypoint. It classifies
// the sender by the PeerID prefixed on the wire, decrypts and replay-checks
// under the corresponding slot's crypto context, and dispatches the
// decoded payload by type. Returns false if the packet was dropped for any
// reason (too short, auth failure, replay, inactive slot, disabled
// capability, or unrecognized type); a drop never surfaces an error code
// to the network, only this boolean to the caller.
func (m *Manager) HandleIncoming(packet []byte, source PeerAddr, now time.Time) bool {
	return m.handleIncoming(packet, source, now, 1)
}

func (m *Manager) handleIncoming(packet []byte, source PeerAddr, now time.Time, depth int) bool {
	if depth > DecodeRecursionMaxDepth {
		m.metrics.IncPacketsDropped("recursion_depth")
		return false
	}

	header, err := wire.UnmarshalHeader(packet)
	if err != nil {
		m.metrics.IncPacketsDropped("short_header")
		return false
	}
	sid := PeerID(header.PeerID)

	if sid == LocalPeerID {
		return m.handleAnonymous(packet, source, now)
	}

	if !m.IsActive(sid) {
		m.metrics.IncPacketsDropped("inactive_slot")
		return false
	}

	slot := &m.slots[sid]
	_, payload, err := wire.Decode(packet, slot.CryptoCtx)
	if err != nil {
		m.metrics.IncPacketsDropped("auth_failure")
		return false
	}
	if !slot.SeqState.Accept(header.Sequence) {
		m.metrics.IncPacketsDropped("replay")
		return false
	}

	accepted := m.dispatchPayload(sid, PayloadType(header.PayloadType), header.Options, header.Sequence, payload, source, now, depth)
	if accepted {
		slot.LastRecv = now
		if !source.IsInternal() {
			slot.RemoteAddr = source
		}
		m.metrics.IncPacketsReceived(PayloadType(header.PayloadType).String())
	}
	return accepted
}

// handleAnonymous processes a packet addressed to slot 0: decrypted under
// the shared group-password context, with no sequence check, and only
// AUTH payloads accepted.
func (m *Manager) handleAnonymous(packet []byte, source PeerAddr, now time.Time) bool {
	header, payload, err := wire.Decode(packet, m.anonCtx)
	if err != nil {
		m.metrics.IncPacketsDropped("auth_failure")
		return false
	}
	if PayloadType(header.PayloadType) != PayloadAuth {
		m.metrics.IncPacketsDropped("anonymous_non_auth")
		return false
	}
	if !m.authmgt.DecodeMsg(payload, source) {
		m.metrics.IncPacketsDropped("auth_rejected")
		return false
	}
	m.PumpAuth(now)
	m.metrics.IncPacketsReceived(PayloadAuth.String())
	return true
}

// dispatchPayload type-switches a decoded, authenticated payload.
func (m *Manager) dispatchPayload(sid PeerID, pt PayloadType, options uint8, seq uint64, payload []byte, source PeerAddr, now time.Time, depth int) bool {
	switch pt {
	case PayloadUserdata:
		if m.slots[sid].RemoteFlags&FlagUserdata == 0 {
			return false
		}
		m.recv = recvStaged{valid: true, peerid: sid, payload: payload}
		return true

	case PayloadUserdataFragment:
		if m.slots[sid].RemoteFlags&FlagUserdata == 0 {
			return false
		}
		return m.handleFragment(sid, options, seq, payload)

	case PayloadPeerinfo:
		m.HandlePeerinfo(payload, now)
		return true

	case PayloadPing:
		if m.rrmsg.pending {
			return false
		}
		m.rrmsg = rrMsg{pending: true, peerid: sid, payloadType: PayloadPong, payload: payload}
		return true

	case PayloadPong:
		// Accepted but currently unused; an RTT hook is reserved for a
		// future revision.
		return true

	case PayloadRelayIn:
		return m.HandleRelayIn(sid, payload)

	case PayloadRelayOut:
		inner, syntheticSrc, ok := m.HandleRelayOut(sid, payload)
		if !ok {
			return false
		}
		return m.handleIncoming(inner, syntheticSrc, now, depth+1)

	default:
		return false
	}
}

// handleFragment decodes the (count, pos) options byte and feeds the
// fragment to the reassembly table, staging msgbuf on completion. seq is
// this packet's own sequence number, not the slot's highest accepted one:
// fragments of the same group can arrive out of order within the replay
// window, so each packet must derive the group's base sequence from its
// own seq - pos rather than from whatever SeqState.Get() last recorded.
func (m *Manager) handleFragment(sid PeerID, options uint8, seq uint64, payload []byte) bool {
	count := int(options>>4) & 0x0f
	pos := int(options & 0x0f)
	if count == 0 || pos >= count {
		return false
	}
	baseSeq := seq - uint64(pos)
	assembled, done := m.dfrag.Assemble(m.slots[sid].ConnTime, sid, baseSeq, payload, pos, count)
	if !done {
		return true // fragment accepted into the group, just incomplete
	}
	m.recv = recvStaged{valid: true, peerid: sid, payload: assembled}
	m.metrics.IncFragmentGroupsAssembled()
	return true
}
