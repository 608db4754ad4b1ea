package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blahgeek/peervpn/internal/wire"
)

// -------------------------------------------------------------------------
// Manager errors
// -------------------------------------------------------------------------

// Sentinel errors for Manager operations.
var (
	// ErrInvalidPeerSlots indicates a non-positive peer slot count.
	ErrInvalidPeerSlots = errors.New("peer slot count must be positive")

	// ErrInvalidAuthSlots indicates the AuthMgt collaborator was not supplied.
	ErrInvalidAuthSlots = errors.New("authmgt collaborator is required")

	// ErrUnknownPeer indicates a lookup by NodeID or PeerID found nothing.
	ErrUnknownPeer = errors.New("unknown peer")
)

// createManagerErrPrefix is the common error prefix for construction failures.
const createManagerErrPrefix = "create manager"

// -------------------------------------------------------------------------
// Clock — injected time source, overridden by tests
// -------------------------------------------------------------------------

// Clock abstracts wall-clock access. The Manager stores one (realClock by
// default) but does not read it: HandleIncoming, TakeNextOutgoing and
// PumpAuth take the current time as an explicit now argument.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// -------------------------------------------------------------------------
// Manager
// -------------------------------------------------------------------------

// fragOut tracks an in-progress outbound fragmentation run: the userdata currently being split
// into MsgMin-sized pieces, one fragment per TakeNextOutgoing call.
type fragOut struct {
	active  bool
	peerid  PeerID
	baseSeq uint64
	count   int
	pos     int
	data    []byte
}

// rrMsg is a single pending round-robin control message (ping, pong, or
// relay-out) queued for the next TakeNextOutgoing call.
type rrMsg struct {
	pending     bool
	peerid      PeerID
	payloadType PayloadType
	payload     []byte
}

// Manager is the single-threaded peer manager. It
// owns the slot table, the fragment reassembly table, the candidate
// directory, and the outbound scheduling state, and drives its two
// entrypoints — HandleIncoming and TakeNextOutgoing — from whatever single
// goroutine the host process dedicates to it.
type Manager struct {
	netid        string
	localNodeKey NodeID
	localFlags   uint16
	loopback     bool
	fastauth     bool
	fragmentOn   bool

	slotmap *Map
	slots   []PeerSlot
	anonCtx *wire.CryptoContext

	authmgt AuthMgt
	nodedb  *NodeDb
	dfrag   *Dfrag

	fragOut fragOut
	rrmsg   rrMsg

	// outmsg is the pending unicast or broadcast userdata payload queued
	// by SendUserdata/SendBroadcastUserdata.
	outmsg outMsg

	// keepalive/dial round-robin cursors.
	keepaliveCursor PeerID
	lastDial        time.Time

	// recv stages the most recently assembled userdata payload for
	// RecvUserdata.
	recv recvStaged

	clock   Clock
	logger  *slog.Logger
	metrics Metrics
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithLogger sets the Manager's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the Manager's Metrics sink. Defaults to a no-op.
func WithMetrics(mr Metrics) ManagerOption {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithClock overrides the Manager's stored time source.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLoopback controls whether SendUserdata to LocalPeerID is delivered
// directly to RecvUserdata without producing a datagram.
func WithLoopback(enabled bool) ManagerOption {
	return func(m *Manager) { m.loopback = enabled }
}

// WithFastAuth records the fast-auth toggle. The Manager stores the value
// but no code path reads it; the handshake is the same either way.
func WithFastAuth(enabled bool) ManagerOption {
	return func(m *Manager) { m.fastauth = enabled }
}

// WithFragmentation controls whether oversized userdata is split into
// fragments rather than rejected outright.
func WithFragmentation(enabled bool) ManagerOption {
	return func(m *Manager) { m.fragmentOn = enabled }
}

// WithFlags sets the local node's advertised capability bitmap.
func WithFlags(flags uint16) ManagerOption {
	return func(m *Manager) { m.localFlags = flags }
}

// Create builds a Manager with peerSlots total slots (including the
// reserved local slot 0), backed by authmgt for handshake processing.
// netid seeds the anonymous crypto context shared by all
// pre-authentication traffic.
func Create(peerSlots int, netid string, password string, localNodeKey NodeID, authmgt AuthMgt, opts ...ManagerOption) (*Manager, error) {
	if peerSlots <= 0 {
		return nil, fmt.Errorf("%s: %w", createManagerErrPrefix, ErrInvalidPeerSlots)
	}
	if authmgt == nil {
		return nil, fmt.Errorf("%s: %w", createManagerErrPrefix, ErrInvalidAuthSlots)
	}

	anonCtx := wire.NewCryptoContext()
	anonCtx.SetKeysFromPassword(password, netid)

	m := &Manager{
		netid:        netid,
		localNodeKey: localNodeKey,
		loopback:     true,
		fragmentOn:   true,
		slotmap:      NewMap(peerSlots),
		slots:        make([]PeerSlot, peerSlots),
		anonCtx:      anonCtx,
		authmgt:      authmgt,
		nodedb:       NewNodeDb(),
		dfrag:        NewDfrag(),
		clock:        realClock{},
		logger:       slog.Default(),
		metrics:      noopMetrics{},
	}
	for i := range m.slots {
		m.slots[i].reset()
	}
	if !m.slotmap.AddAt(LocalPeerID, localNodeKey) {
		return nil, fmt.Errorf("%s: reserve local slot 0", createManagerErrPrefix)
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With("component", "peer.Manager", "netid", netid)
	return m, nil
}

// SetPassword re-derives the anonymous crypto context from a new network
// password.
func (m *Manager) SetPassword(password string) {
	m.anonCtx.SetKeysFromPassword(password, m.netid)
}

// SetFlags updates the local node's advertised capability bitmap.
func (m *Manager) SetFlags(flags uint16) {
	m.localFlags = flags
}

// SetNewConnectMaxAge overrides how stale a NodeDb candidate may be before
// the dial loop (outgoing.go's maybeDial) refuses to pick it.
func (m *Manager) SetNewConnectMaxAge(d time.Duration) {
	m.nodedb.SetMaxAge(d)
}

// GetFlag reports whether the local node advertises flag.
func (m *Manager) GetFlag(flag uint16) bool {
	return m.localFlags&flag != 0
}

// GetRemoteFlag reports whether the peer in slot id has announced flag.
func (m *Manager) GetRemoteFlag(id PeerID, flag uint16) bool {
	if !m.slotmap.Valid(id) {
		return false
	}
	return m.slots[id].RemoteFlags&flag != 0
}

// -------------------------------------------------------------------------
// Slot table queries
// -------------------------------------------------------------------------

// IsValid reports whether id names a currently-allocated slot, regardless
// of its handshake state.
func (m *Manager) IsValid(id PeerID) bool {
	return m.slotmap.Valid(id)
}

// IsActive reports whether id is allocated and has live session keys
// (State == StateComplete).
func (m *Manager) IsActive(id PeerID) bool {
	return m.slotmap.Valid(id) && m.slots[id].State == StateComplete
}

// IsActiveRemote reports whether id is an active remote slot. The local
// slot 0 never reaches StateComplete, so this is the same test as IsActive;
// IsActiveRemoteCT adds the epoch check.
func (m *Manager) IsActiveRemote(id PeerID) bool {
	return m.IsActive(id)
}

// IsActiveRemoteCT reports whether id is active at exactly epoch ct.
func (m *Manager) IsActiveRemoteCT(id PeerID, ct ConnTime) bool {
	return m.IsActive(id) && m.slots[id].ConnTime == ct
}

// IDOf returns the slot index for NodeID key.
func (m *Manager) IDOf(key NodeID) (PeerID, bool) {
	return m.slotmap.GetByKey(key)
}

// NodeIDOf returns the NodeID occupying slot id.
func (m *Manager) NodeIDOf(id PeerID) (NodeID, bool) {
	return m.slotmap.GetByID(id)
}

// Resolve returns the current PeerAddr for slot id, or the zero PeerAddr if
// id is not active.
func (m *Manager) Resolve(id PeerID) (PeerAddr, bool) {
	if !m.IsActive(id) {
		return PeerAddr{}, false
	}
	return m.slots[id].RemoteAddr, true
}

// NextID returns the next allocated slot after cur (in any handshake state,
// slot 0 included), for round-robin sweeps (keepalive, peerinfo gossip).
func (m *Manager) NextID(cur PeerID) (PeerID, bool) {
	return m.slotmap.NextID(cur)
}

// SlotCount returns the total slot table capacity.
func (m *Manager) SlotCount() int {
	return m.slotmap.Size()
}

// UsedSlotCount returns the number of currently allocated slots.
func (m *Manager) UsedSlotCount() int {
	return m.slotmap.Used()
}

// reset tears down slot id: clears its table entry, reseeds its crypto
// context to unusable random keys, and resets its FSM state to Invalid.
func (m *Manager) reset(id PeerID) {
	if id == LocalPeerID {
		return
	}
	if key, ok := m.slotmap.GetByID(id); ok {
		m.slotmap.Remove(key)
		m.dfrag.Clear(m.slots[id].ConnTime, id, 0)
	}
	m.slots[id].reset()
	m.refreshStateMetric()
}

// refreshStateMetric recomputes the PeersByState gauge across every slot.
func (m *Manager) refreshStateMetric() {
	counts := map[State]int{}
	for i := range m.slots {
		if m.slotmap.Valid(PeerID(i)) {
			counts[m.slots[i].State]++
		}
	}
	m.metrics.SetPeersByState(StateInvalid.String(), counts[StateInvalid])
	m.metrics.SetPeersByState(StateAuthed.String(), counts[StateAuthed])
	m.metrics.SetPeersByState(StateComplete.String(), counts[StateComplete])
}
