package peer

import (
	"crypto/rand"
	"errors"
)

// ErrSendBusy indicates the single-slot outbound userdata queue already
// holds an unsent payload; the caller must wait for TakeNextOutgoing to
// drain it.
var ErrSendBusy = errors.New("peer: outbound userdata slot busy")

// ErrControlBusy indicates the single-slot round-robin control outbox
// already holds an unsent message.
var ErrControlBusy = errors.New("peer: control message slot busy")

// ErrNotActive indicates the target slot has no live session.
var ErrNotActive = errors.New("peer: target peer not active")

// ErrPayloadSize indicates payload is empty or exceeds MsgMax.
var ErrPayloadSize = errors.New("peer: payload size out of range")

// outMsg is the single pending outbound userdata payload.
type outMsg struct {
	pending        bool
	peerid         PeerID
	broadcast      bool
	broadcastCount int
	payload        []byte
}

// SendUserdata queues payload for delivery to id. Only one
// userdata payload may be pending at a time; callers must poll
// TakeNextOutgoing until it drains before queuing another. If id is the
// local slot and loopback is enabled, payload is delivered directly to
// RecvUserdata without ever touching TakeNextOutgoing.
func (m *Manager) SendUserdata(id PeerID, payload []byte) error {
	if len(payload) == 0 || len(payload) > MsgMax {
		return ErrPayloadSize
	}
	if id == LocalPeerID {
		if !m.loopback {
			return ErrNotActive
		}
		m.recv = recvStaged{valid: true, peerid: LocalPeerID, payload: payload}
		return nil
	}
	if m.outmsg.pending {
		return ErrSendBusy
	}
	if !m.IsActive(id) {
		return ErrNotActive
	}
	m.outmsg = outMsg{pending: true, peerid: id, payload: payload}
	return nil
}

// SendBroadcastUserdata queues payload for delivery to every currently
// active remote peer, one recipient consumed per TakeNextOutgoing call.
func (m *Manager) SendBroadcastUserdata(payload []byte) error {
	if len(payload) == 0 || len(payload) > MsgMax {
		return ErrPayloadSize
	}
	if m.outmsg.pending {
		return ErrSendBusy
	}
	start, ok := m.slotmap.NextID(LocalPeerID)
	if !ok {
		return nil // no peers at all; nothing to broadcast
	}
	m.outmsg = outMsg{pending: true, peerid: start, broadcast: true, payload: payload}
	return nil
}

// SendPing stages a PING control message addressed to id, filled with
// PingSize random bytes. Only one round-robin control message may be
// pending at a time; callers must poll TakeNextOutgoing until it drains
// before sending another ping, pong or relay reply.
func (m *Manager) SendPing(id PeerID) error {
	if !m.IsActive(id) {
		return ErrNotActive
	}
	if m.rrmsg.pending {
		return ErrControlBusy
	}
	payload := make([]byte, PingSize)
	if _, err := rand.Read(payload); err != nil {
		return err
	}
	m.rrmsg = rrMsg{pending: true, peerid: id, payloadType: PayloadPing, payload: payload}
	return nil
}

// RecvUserdata returns and clears the most recently assembled inbound
// userdata payload, if any.
func (m *Manager) RecvUserdata() (PeerID, []byte, bool) {
	if !m.recv.valid {
		return 0, nil, false
	}
	id, payload := m.recv.peerid, m.recv.payload
	m.recv = recvStaged{}
	return id, payload, true
}
