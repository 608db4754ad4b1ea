package peer

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// PumpAuth drains every pending AuthMgt event and applies the resulting
// slot transitions. It is called once per
// HandleIncoming/TakeNextOutgoing cycle so handshake progress surfaces
// promptly without the Manager ever blocking on AuthMgt.
func (m *Manager) PumpAuth(now time.Time) {
	m.pumpAuthed(now)
	m.pumpCompleted(now)
}

// pumpAuthed allocates a slot for every NodeID AuthMgt reports as freshly
// authenticated, or rejects it if no slot is free or the NodeID is already
// live in another slot.
func (m *Manager) pumpAuthed(now time.Time) {
	for {
		nodeID, ok := m.authmgt.AuthedPeerNodeID()
		if !ok {
			return
		}

		if existing, ok := m.slotmap.GetByKey(nodeID); ok && m.slots[existing].State != StateInvalid {
			m.authmgt.RejectAuthedPeer()
			continue
		}

		id, ok := m.slotmap.Add(nodeID)
		if !ok {
			m.authmgt.RejectAuthedPeer()
			continue
		}

		m.slots[id].reset()
		seq := randomSeq()
		m.slots[id].RemoteSeq = seq
		next, _ := ApplyEvent(m.slots[id].State, EventAuthAccepted)
		m.slots[id].State = next

		m.authmgt.AcceptAuthedPeer(id, seq, m.localFlags)
		m.logger.Debug("peer authenticated", "peerid", id)
		m.refreshStateMetric()
	}
}

// pumpCompleted installs session keys and remote metadata for every NodeID
// AuthMgt reports as handshake-complete.
func (m *Manager) pumpCompleted(now time.Time) {
	for {
		nodeID, ok := m.authmgt.CompletedPeerNodeID()
		if !ok {
			return
		}

		id, ok := m.slotmap.GetByKey(nodeID)
		if !ok {
			m.authmgt.FinishCompletedPeer()
			continue
		}

		remoteID, addr, key, remoteSeq, remoteFlags := m.authmgt.CompletedPeerDetails()
		slot := &m.slots[id]
		slot.RemoteID = remoteID
		slot.RemoteAddr = addr
		slot.CryptoCtx.SetSessionKeys(key)
		slot.SeqState = NewSeq(remoteSeq)
		slot.RemoteFlags = remoteFlags
		slot.ConnTime = ConnTime(now.Unix())
		slot.LastRecv = now
		slot.LastSend = now

		next, changed := ApplyEvent(slot.State, EventHandshakeComplete)
		slot.State = next
		if changed {
			m.metrics.IncHandshakeCompletions()
			m.nodedb.Update(nodeID, addr, true, now)
			m.logger.Info("peer handshake complete", "peerid", id, "addr", addr)
		}

		m.authmgt.FinishCompletedPeer()
		m.refreshStateMetric()
	}
}

// randomSeq picks the starting outbound sequence number for a newly authed
// slot. A random, rather than zero, start hardens against an off-path
// attacker that recorded discarded traffic from a prior session at the same
// slot.
func randomSeq() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
