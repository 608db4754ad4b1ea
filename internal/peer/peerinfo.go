package peer

import (
	"encoding/binary"
	"net/netip"
	"time"
)

// Peerinfo gossip wire format: a 32-bit record count followed
// by fixed-size records of (PeerID | NodeID | PeerAddr). Addresses are
// encoded as either a direct 16-byte IP + 2-byte port, or an indirect
// (relay PeerID | relay ConnTime | inner PeerID) triple; a one-byte kind
// tag distinguishes the two.
const (
	peerinfoAddrDirect   = 0
	peerinfoAddrIndirect = 1

	peerinfoRecordSize = 4 + 32 + 1 + 18 // PeerID + NodeID + kind + addr payload
	peerinfoHeaderSize = 4
)

// encodePeerinfoRecord writes one gossip record to buf, which must be at
// least peerinfoRecordSize bytes.
func encodePeerinfoRecord(buf []byte, id PeerID, node NodeID, addr PeerAddr) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(id))
	copy(buf[4:36], node[:])

	rest := buf[37:55]
	for i := range rest {
		rest[i] = 0
	}
	if relayID, relayCT, innerID, ok := addr.GetIndirect(); ok {
		buf[36] = peerinfoAddrIndirect
		binary.BigEndian.PutUint32(rest[0:4], uint32(relayID))
		binary.BigEndian.PutUint64(rest[4:12], uint64(relayCT))
		binary.BigEndian.PutUint32(rest[12:16], uint32(innerID))
		return
	}
	buf[36] = peerinfoAddrDirect
	ap := addr.Direct()
	ip16 := ap.Addr().As16()
	copy(rest[0:16], ip16[:])
	binary.BigEndian.PutUint16(rest[16:18], ap.Port())
}

// decodePeerinfoRecord parses one gossip record from buf.
func decodePeerinfoRecord(buf []byte) (PeerID, NodeID, PeerAddr) {
	id := PeerID(binary.BigEndian.Uint32(buf[0:4]))
	var node NodeID
	copy(node[:], buf[4:36])

	rest := buf[37:55]
	var addr PeerAddr
	switch buf[36] {
	case peerinfoAddrIndirect:
		relayID := PeerID(binary.BigEndian.Uint32(rest[0:4]))
		relayCT := ConnTime(binary.BigEndian.Uint64(rest[4:12]))
		innerID := PeerID(binary.BigEndian.Uint32(rest[12:16]))
		addr = IndirectAddr(relayID, relayCT, innerID)
	default:
		var ip16 [16]byte
		copy(ip16[:], rest[0:16])
		port := binary.BigEndian.Uint16(rest[16:18])
		addr = DirectAddr(netip.AddrPortFrom(netip.AddrFrom16(ip16).Unmap(), port))
	}
	return id, node, addr
}

// BuildPeerinfo fills buf with a gossip message describing up to as many
// active peers as fit, starting from a rotating cursor so that over
// successive calls every active peer is eventually advertised. Returns the number of
// bytes written and false if there is nothing to advertise.
func (m *Manager) BuildPeerinfo(buf []byte) (int, bool) {
	if len(buf) < peerinfoHeaderSize+peerinfoRecordSize {
		return 0, false
	}
	maxRecords := (len(buf) - peerinfoHeaderSize) / peerinfoRecordSize

	start, ok := m.slotmap.NextID(m.keepaliveCursor)
	if !ok {
		return 0, false
	}

	records := 0
	cur := start
	for records < maxRecords {
		if m.IsActive(cur) {
			node, _ := m.slotmap.GetByID(cur)
			off := peerinfoHeaderSize + records*peerinfoRecordSize
			encodePeerinfoRecord(buf[off:off+peerinfoRecordSize], cur, node, m.slots[cur].RemoteAddr)
			records++
		}
		next, ok := m.slotmap.NextID(cur)
		if !ok || next == start {
			break
		}
		cur = next
	}
	if records == 0 {
		return 0, false
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(records))
	m.keepaliveCursor = cur
	return peerinfoHeaderSize + records*peerinfoRecordSize, true
}

// HandlePeerinfo ingests a gossip message, merging every advertised address
// into the candidate directory. It never overwrites the
// address of a peer the local node already has an active session with.
func (m *Manager) HandlePeerinfo(payload []byte, now time.Time) {
	if len(payload) < peerinfoHeaderSize {
		return
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	payload = payload[peerinfoHeaderSize:]

	for i := uint32(0); i < count; i++ {
		off := int(i) * peerinfoRecordSize
		if off+peerinfoRecordSize > len(payload) {
			return
		}
		_, node, addr := decodePeerinfoRecord(payload[off : off+peerinfoRecordSize])
		if node.IsZero() || node == m.localNodeKey {
			continue
		}
		live := false
		if id, ok := m.slotmap.GetByKey(node); ok {
			live = m.IsActive(id)
		}
		m.nodedb.MergeGossip(node, addr, now, live)
	}
}
