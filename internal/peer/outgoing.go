package peer

import (
	"time"

	"github.com/blahgeek/peervpn/internal/wire"
)

// TakeNextOutgoing is the outbound entrypoint: a strict
// priority scheduler that produces at most one datagram per call. Returns
// (0, _, false) when there is nothing to send this round.
func (m *Manager) TakeNextOutgoing(buf []byte, now time.Time) (int, PeerAddr, bool) {
	n, target, peerid, payloadType, ok := m.scheduleNext(buf, now)
	if !ok {
		return 0, PeerAddr{}, false
	}

	if target.IsInternal() {
		relayBuf := make([]byte, len(buf))
		rn, relayTarget, wrapped := m.WrapRelay(relayBuf, peerid, buf[:n], now)
		if !wrapped {
			// The relay session was replaced since this address was
			// recorded; drop the datagram rather than leak it to a stale
			// path.
			return 0, PeerAddr{}, false
		}
		copy(buf, relayBuf[:rn])
		n = rn
		target = relayTarget
	}

	if m.slotmap.Valid(peerid) {
		m.slots[peerid].LastSend = now
	}
	m.metrics.IncPacketsSent(payloadType.String())
	return n, target, true
}

// scheduleNext runs priority tiers 1-7 and returns the raw (pre-relay-wrap)
// datagram along with the logical target slot its payload is meant for.
func (m *Manager) scheduleNext(buf []byte, now time.Time) (int, PeerAddr, PeerID, PayloadType, bool) {
	if n, addr, pid, pt, ok := m.takeUserdataOrFragment(buf, now); ok {
		return n, addr, pid, pt, true
	}
	if n, addr, pid, pt, ok := m.takeRRMsg(buf); ok {
		return n, addr, pid, pt, true
	}
	if n, addr, pid, pt, ok := m.takeKeepalive(buf, now); ok {
		return n, addr, pid, pt, true
	}
	if n, addr, pid, pt, ok := m.takeAuthTraffic(buf); ok {
		return n, addr, pid, pt, true
	}
	m.maybeDial(now)
	return 0, PeerAddr{}, 0, 0, false
}

// takeUserdataOrFragment implements priority tiers 1-3: a pending unicast
// payload, an in-progress fragmentation run, or the next recipient of a
// broadcast payload.
func (m *Manager) takeUserdataOrFragment(buf []byte, now time.Time) (int, PeerAddr, PeerID, PayloadType, bool) {
	if m.fragOut.active {
		return m.emitNextFragment(buf, now)
	}

	if !m.outmsg.pending {
		return 0, PeerAddr{}, 0, 0, false
	}

	id := m.outmsg.peerid
	if !m.IsActive(id) {
		if m.outmsg.broadcast {
			return m.advanceBroadcast(buf, now)
		}
		m.outmsg = outMsg{}
		return 0, PeerAddr{}, 0, 0, false
	}
	if m.slots[id].RemoteFlags&FlagUserdata == 0 {
		if m.outmsg.broadcast {
			return m.advanceBroadcast(buf, now)
		}
		m.outmsg = outMsg{}
		return 0, PeerAddr{}, 0, 0, false
	}

	payload := m.outmsg.payload
	if m.fragmentOn && len(payload) > MsgMin {
		m.fragOut = fragOut{
			active:  true,
			peerid:  id,
			baseSeq: m.slots[id].RemoteSeq + 1,
			count:   (len(payload) + MsgMin - 1) / MsgMin,
			pos:     0,
			data:    payload,
		}
		if m.outmsg.broadcast {
			return m.advanceBroadcast(buf, now)
		}
		m.outmsg = outMsg{}
		return m.emitNextFragment(buf, now)
	}

	n, err := m.encodeToSlot(buf, id, PayloadUserdata, 0, payload, now)
	if err != nil {
		m.outmsg = outMsg{}
		return 0, PeerAddr{}, 0, 0, false
	}
	addr := m.slots[id].RemoteAddr

	if m.outmsg.broadcast {
		return m.advanceBroadcastAfterEmit(buf, now, n, addr, id)
	}
	m.outmsg = outMsg{}
	return n, addr, id, PayloadUserdata, true
}

// advanceBroadcast moves the broadcast cursor to the next active recipient
// without having emitted this round (used when the current cursor target
// is no longer eligible).
func (m *Manager) advanceBroadcast(buf []byte, now time.Time) (int, PeerAddr, PeerID, PayloadType, bool) {
	m.outmsg.broadcastCount++
	if m.outmsg.broadcastCount >= m.slotmap.Used() {
		m.outmsg = outMsg{}
		return 0, PeerAddr{}, 0, 0, false
	}
	next, ok := m.slotmap.NextID(m.outmsg.peerid)
	if !ok {
		m.outmsg = outMsg{}
		return 0, PeerAddr{}, 0, 0, false
	}
	m.outmsg.peerid = next
	return m.takeUserdataOrFragment(buf, now)
}

// advanceBroadcastAfterEmit records the emission just produced for id and
// advances the cursor for the next call, stopping once every currently
// active peer has been visited.
func (m *Manager) advanceBroadcastAfterEmit(buf []byte, now time.Time, n int, addr PeerAddr, id PeerID) (int, PeerAddr, PeerID, PayloadType, bool) {
	m.outmsg.broadcastCount++
	if m.outmsg.broadcastCount >= m.slotmap.Used() {
		m.outmsg = outMsg{}
		return n, addr, id, PayloadUserdata, true
	}
	if next, ok := m.slotmap.NextID(id); ok {
		m.outmsg.peerid = next
	}
	return n, addr, id, PayloadUserdata, true
}

// emitNextFragment sends fragment pos of the in-progress fragmentation run.
// Aborts the whole group if the target slot stopped being active mid-run.
func (m *Manager) emitNextFragment(buf []byte, now time.Time) (int, PeerAddr, PeerID, PayloadType, bool) {
	id := m.fragOut.peerid
	if !m.IsActive(id) {
		m.fragOut = fragOut{}
		return 0, PeerAddr{}, 0, 0, false
	}

	offset := m.fragOut.pos * MsgMin
	remaining := len(m.fragOut.data) - offset
	size := MsgMin
	if remaining < size {
		size = remaining
	}
	chunk := m.fragOut.data[offset : offset+size]
	options := uint8(m.fragOut.count<<4) | uint8(m.fragOut.pos)

	n, err := m.encodeToSlot(buf, id, PayloadUserdataFragment, options, chunk, now)
	if err != nil {
		m.fragOut = fragOut{}
		return 0, PeerAddr{}, 0, 0, false
	}
	addr := m.slots[id].RemoteAddr

	m.fragOut.pos++
	if m.fragOut.pos >= m.fragOut.count {
		m.fragOut = fragOut{}
	}
	return n, addr, id, PayloadUserdataFragment, true
}

// takeRRMsg implements priority tier 4: the single-slot request/response
// outbox used for PONG and RELAY_OUT replies.
func (m *Manager) takeRRMsg(buf []byte) (int, PeerAddr, PeerID, PayloadType, bool) {
	if !m.rrmsg.pending {
		return 0, PeerAddr{}, 0, 0, false
	}
	id := m.rrmsg.peerid
	msg := m.rrmsg
	m.rrmsg = rrMsg{}

	if !m.IsActive(id) {
		return 0, PeerAddr{}, 0, 0, false
	}
	n, err := m.encodeToSlot(buf, id, msg.payloadType, 0, msg.payload, time.Time{})
	if err != nil {
		return 0, PeerAddr{}, 0, 0, false
	}
	return n, m.slots[id].RemoteAddr, id, msg.payloadType, true
}

// takeKeepalive implements priority tier 5: idle-timeout eviction and
// keepalive emission, one emission per call.
func (m *Manager) takeKeepalive(buf []byte, now time.Time) (int, PeerAddr, PeerID, PayloadType, bool) {
	start, ok := m.slotmap.NextID(m.keepaliveCursor)
	if !ok {
		return 0, PeerAddr{}, 0, 0, false
	}

	cur := start
	for {
		if m.IsActive(cur) {
			slot := &m.slots[cur]
			if now.Sub(slot.LastRecv) >= RecvTimeout {
				m.reset(cur)
			} else if slot.State == StateComplete && now.Sub(slot.LastSend) > KeepaliveInterval {
				info := make([]byte, MsgMin)
				pn, ok := m.BuildPeerinfo(info)
				if ok {
					n, err := m.encodeToSlot(buf, cur, PayloadPeerinfo, 0, info[:pn], now)
					if err == nil {
						m.keepaliveCursor = cur
						return n, slot.RemoteAddr, cur, PayloadPeerinfo, true
					}
				}
			}
		}
		next, ok := m.slotmap.NextID(cur)
		if !ok || next == start {
			m.keepaliveCursor = cur
			return 0, PeerAddr{}, 0, 0, false
		}
		cur = next
	}
}

// takeAuthTraffic implements priority tier 6: pulling the next outbound
// handshake message from AuthMgt, addressed anonymously to PeerID 0.
func (m *Manager) takeAuthTraffic(buf []byte) (int, PeerAddr, PeerID, PayloadType, bool) {
	msg := make([]byte, MsgMax)
	n, target, ok := m.authmgt.NextMsg(msg)
	if !ok {
		return 0, PeerAddr{}, 0, 0, false
	}
	seq := randomSeq()
	out, err := wire.Encode(buf, uint32(LocalPeerID), seq, uint8(PayloadAuth), 0, msg[:n], m.anonCtx)
	if err != nil {
		return 0, PeerAddr{}, 0, 0, false
	}
	return out, target, LocalPeerID, PayloadAuth, true
}

// maybeDial implements priority tier 7: opportunistic dialing, throttled
// globally by NewConnectInterval.
func (m *Manager) maybeDial(now time.Time) {
	if now.Sub(m.lastDial) <= NewConnectInterval {
		return
	}
	if m.authmgt.UsedSlotCount()*2 > m.authmgt.SlotCount() {
		return
	}
	id, addr, ok := m.nodedb.Candidate(now, func(n NodeID) bool {
		i, ok := m.slotmap.GetByKey(n)
		return ok && m.IsActive(i)
	})
	if !ok {
		return
	}
	if m.authmgt.Start(addr) {
		m.nodedb.MarkDialed(id, now)
		m.lastDial = now
	}
}

// DialBootstrap starts a handshake toward a configured seed address
// directly, without a NodeDb entry. NodeDb is keyed by NodeID, but a bootstrap address from config has no NodeID until its
// handshake completes, so it cannot be entered into the candidate pool
// maybeDial draws from. It reports whether AuthMgt accepted the attempt
// (a free auth slot and no handshake already in flight toward addr); the
// cmd/peervpn startup caller logs a false result and does not retry it. A
// bootstrap peer's NodeID is learned and folded into
// NodeDb like any other once its handshake completes.
func (m *Manager) DialBootstrap(addr PeerAddr) bool {
	return m.authmgt.Start(addr)
}

// encodeToSlot seals payload for delivery to id, advancing its outbound
// sequence counter. now is not used here: TakeNextOutgoing stamps LastSend
// for every datagram it emits.
func (m *Manager) encodeToSlot(buf []byte, id PeerID, pt PayloadType, options uint8, payload []byte, now time.Time) (int, error) {
	slot := &m.slots[id]
	seq := slot.RemoteSeq + 1
	n, err := wire.Encode(buf, uint32(slot.RemoteID), seq, uint8(pt), options, payload, slot.CryptoCtx)
	if err != nil {
		return 0, err
	}
	slot.RemoteSeq = seq
	return n, nil
}
