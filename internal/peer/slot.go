package peer

import (
	"time"

	"github.com/blahgeek/peervpn/internal/wire"
)

// PeerSlot is one entry of the dense, fixed-capacity slot table.
type PeerSlot struct {
	State State

	// RemoteAddr is the last confirmed source address of the peer.
	RemoteAddr PeerAddr

	// RemoteID is the remote peer's own slot index for this session.
	RemoteID PeerID

	// RemoteSeq is the last sequence number sent to the remote peer.
	RemoteSeq uint64

	// RemoteFlags is the 16-bit capability bitmap the remote announced
	// at handshake completion.
	RemoteFlags uint16

	// CryptoCtx holds the symmetric session keys for this slot.
	CryptoCtx *wire.CryptoContext

	// SeqState is the replay window for sequence numbers received from
	// this peer.
	SeqState *Seq

	// ConnTime is the session epoch assigned when this slot entered Authed.
	ConnTime ConnTime

	// LastRecv and LastSend drive idle-timeout and keepalive scheduling.
	LastRecv time.Time
	LastSend time.Time
}

// reset restores a slot to its just-allocated, pre-handshake shape: zeroed
// address, Invalid state, and freshly reseeded (random garbage) crypto keys
// so that stale packets encrypted under the old session can never decrypt.
func (s *PeerSlot) reset() {
	s.State = StateInvalid
	s.RemoteAddr = PeerAddr{}
	s.RemoteID = 0
	s.RemoteSeq = 0
	s.RemoteFlags = 0
	if s.CryptoCtx == nil {
		s.CryptoCtx = wire.NewCryptoContext()
	} else {
		s.CryptoCtx.ReseedRandom()
	}
	s.SeqState = NewSeq(0)
	s.ConnTime = 0
	s.LastRecv = time.Time{}
	s.LastSend = time.Time{}
}

// -------------------------------------------------------------------------
// Map — dense NodeID <-> PeerID slot allocator.
// -------------------------------------------------------------------------

// Map is the sole NodeID -> slot index. It allocates the smallest free
// index, recycling holes left by Remove. Index 0 is allocated like any
// other when free; the Manager keeps it for the local node by taking it
// with AddAt at creation and never removing it.
type Map struct {
	size    int
	keys    []NodeID // keys[i] is valid only if valid[i]
	valid   []bool
	index   map[NodeID]PeerID
	order   []PeerID // insertion order of currently-active slots, for NextID
}

// NewMap creates a Map with capacity for n slots (indices [0, n)).
func NewMap(n int) *Map {
	return &Map{
		size:  n,
		keys:  make([]NodeID, n),
		valid: make([]bool, n),
		index: make(map[NodeID]PeerID, n),
	}
}

// Add allocates the smallest free slot for key, or returns ok=false if the
// map is full or key is already present.
func (m *Map) Add(key NodeID) (PeerID, bool) {
	if _, exists := m.index[key]; exists {
		return 0, false
	}
	for i := 0; i < m.size; i++ {
		if !m.valid[i] {
			m.keys[i] = key
			m.valid[i] = true
			m.index[key] = PeerID(i)
			m.order = append(m.order, PeerID(i))
			return PeerID(i), true
		}
	}
	return 0, false
}

// AddAt forces key into a specific slot (used to pre-populate slot 0 at
// init). Fails if the slot is already valid or out of range.
func (m *Map) AddAt(id PeerID, key NodeID) bool {
	if int(id) >= m.size || m.valid[id] {
		return false
	}
	m.keys[id] = key
	m.valid[id] = true
	m.index[key] = id
	m.order = append(m.order, id)
	return true
}

// Remove frees key's slot, if any.
func (m *Map) Remove(key NodeID) {
	id, ok := m.index[key]
	if !ok {
		return
	}
	m.valid[id] = false
	m.keys[id] = NodeID{}
	delete(m.index, key)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// GetByKey returns the slot index for key.
func (m *Map) GetByKey(key NodeID) (PeerID, bool) {
	id, ok := m.index[key]
	return id, ok
}

// GetByID returns the NodeID occupying slot id.
func (m *Map) GetByID(id PeerID) (NodeID, bool) {
	if int(id) >= m.size || !m.valid[id] {
		return NodeID{}, false
	}
	return m.keys[id], true
}

// Valid reports whether slot id is currently occupied.
func (m *Map) Valid(id PeerID) bool {
	return int(id) < m.size && m.valid[id]
}

// Size returns the total slot capacity.
func (m *Map) Size() int {
	return m.size
}

// Used returns the number of currently occupied slots.
func (m *Map) Used() int {
	return len(m.index)
}

// NextID returns the active slot following cur in insertion order, wrapping
// around; it is not required to be fair but must eventually visit every
// active slot. ok is false if there are no active slots at all.
func (m *Map) NextID(cur PeerID) (PeerID, bool) {
	if len(m.order) == 0 {
		return 0, false
	}
	for i, id := range m.order {
		if id == cur {
			return m.order[(i+1)%len(m.order)], true
		}
	}
	return m.order[0], true
}
