// Package authmgt implements the concrete AuthMgt collaborator consumed by
// internal/peer: a three-message handshake that derives per-session AEAD
// keys via X25519 ECDH and publishes completed sessions back to the peer
// manager.
//
// Wire exchange, all messages anonymous (PeerID 0) and sealed under the
// network's shared-password context:
//
//	1. Dialer   -> Responder: HELLO      (dialer's NodeID, ephemeral pubkey, flags, seq)
//	2. Responder -> Dialer:   HELLO_ACK  (responder's NodeID, pubkey, flags, seq,
//	                                      dialer's slot id on the responder)
//	3. Dialer   -> Responder: ESTABLISH  (dialer's NodeID, responder's slot id on the dialer)
//
// The responder derives its session key and reports AuthedPeerNodeID as
// soon as HELLO arrives; the dialer does the same on HELLO_ACK. Each side
// only reports CompletedPeerNodeID once it knows both its own local slot
// id (assigned by the peer manager via AcceptAuthedPeer) and the
// counterpart's slot id for this session (carried in HELLO_ACK for the
// dialer, in ESTABLISH for the responder) — exactly the pair
// CompletedPeerDetails must return.
package authmgt

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/blahgeek/peervpn/internal/peer"
)

// hkdfInfo binds derived session keys to this protocol and prevents them
// from being reused if the same X25519 shared secret ever arose elsewhere.
const hkdfInfo = "peervpn-session-v1"

// role distinguishes which side of a handshake a pendingAuth represents.
type role uint8

const (
	roleDialer role = iota
	roleResponder
)

// pendingAuth tracks one in-flight handshake, whether dialer- or
// responder-side, from its first message to FinishCompletedPeer.
type pendingAuth struct {
	role role
	addr peer.PeerAddr

	nodeID     peer.NodeID
	haveNode   bool
	priv       *ecdh.PrivateKey
	localSeq   uint64
	localFlags uint16

	remoteFlags uint16
	remoteSeq   uint64
	sessionKey  [chacha20poly1305.KeySize]byte
	haveRemote  bool

	localSlotID   peer.PeerID
	haveLocalSlot bool

	remoteSlotID   peer.PeerID
	haveRemoteSlot bool

	awaitingAck   bool // dialer: HELLO sent, HELLO_ACK not yet seen
	acked         bool // responder: HELLO_ACK sent, ESTABLISH not yet seen
	establishSent bool // dialer: ESTABLISH already transmitted
	completed     bool
}

func (p *pendingAuth) readyToComplete() bool {
	return p.haveRemote && p.haveLocalSlot && p.haveRemoteSlot && !p.completed
}

type outboxEntry struct {
	payload []byte
	target  peer.PeerAddr
}

// AuthMgt is the concrete peer.AuthMgt implementation.
type AuthMgt struct {
	netID        string
	localNodeKey peer.NodeID
	localFlags   uint16
	fastAuth     bool

	slotCount int
	byAddr    map[peer.PeerAddr]*pendingAuth
	byNode    map[peer.NodeID]*pendingAuth

	outbox []outboxEntry

	authedQueue    []peer.NodeID
	completedQueue []peer.NodeID
	lastCompleted  *pendingAuth

	logger *slog.Logger
}

// Option configures an AuthMgt.
type Option func(*AuthMgt)

// WithFastAuth records the fast-auth toggle. AuthMgt has no retransmission
// timer and no code path reads the value, so it does not change the
// handshake.
func WithFastAuth(enabled bool) Option {
	return func(a *AuthMgt) { a.fastAuth = enabled }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *AuthMgt) {
		if l != nil {
			a.logger = l
		}
	}
}

// ErrNoFreeSlot names the full-handshake-pool condition. No function in
// this package returns it: Start reports a full pool as a plain false.
var ErrNoFreeSlot = errors.New("authmgt: no free handshake slot")

// New creates an AuthMgt with room for slotCount concurrent handshakes.
func New(netID string, localNodeKey peer.NodeID, localFlags uint16, slotCount int, opts ...Option) *AuthMgt {
	a := &AuthMgt{
		netID:        netID,
		localNodeKey: localNodeKey,
		localFlags:   localFlags,
		slotCount:    slotCount,
		byAddr:       make(map[peer.PeerAddr]*pendingAuth),
		byNode:       make(map[peer.NodeID]*pendingAuth),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "authmgt")
	return a
}

func (a *AuthMgt) totalPending() int {
	seen := make(map[*pendingAuth]bool, len(a.byAddr)+len(a.byNode))
	for _, p := range a.byAddr {
		seen[p] = true
	}
	for _, p := range a.byNode {
		seen[p] = true
	}
	return len(seen)
}

// Start begins a dialer-side handshake toward addr.
func (a *AuthMgt) Start(addr peer.PeerAddr) bool {
	if a.totalPending() >= a.slotCount {
		return false
	}
	if _, exists := a.byAddr[addr]; exists {
		return false
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		a.logger.Error("generate ephemeral key", "err", err)
		return false
	}
	p := &pendingAuth{
		role:       roleDialer,
		addr:       addr,
		priv:       priv,
		localSeq:   randomSeq(),
		localFlags: a.localFlags,
		awaitingAck: true,
	}
	a.byAddr[addr] = p

	var pub [32]byte
	copy(pub[:], priv.PublicKey().Bytes())
	msg := encodeHello(helloMsg{nodeID: a.localNodeKey, pubKey: pub, flags: p.localFlags, seq: p.localSeq})
	a.outbox = append(a.outbox, outboxEntry{payload: msg, target: addr})
	return true
}

// DecodeMsg feeds one received handshake message into the state machine.
func (a *AuthMgt) DecodeMsg(buf []byte, src peer.PeerAddr) bool {
	if len(buf) == 0 {
		return false
	}
	switch buf[0] {
	case msgHello:
		return a.handleHello(buf, src)
	case msgHelloAck:
		return a.handleHelloAck(buf, src)
	case msgEstablish:
		return a.handleEstablish(buf)
	default:
		return false
	}
}

func (a *AuthMgt) handleHello(buf []byte, src peer.PeerAddr) bool {
	msg, err := decodeHello(buf)
	if err != nil {
		return false
	}
	if msg.nodeID == a.localNodeKey {
		return false // self-connect, ignore
	}
	if existing, ok := a.byNode[msg.nodeID]; ok && existing.completed {
		return false
	}
	if a.totalPending() >= a.slotCount {
		return false
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		a.logger.Error("generate ephemeral key", "err", err)
		return false
	}
	sessionKey, err := deriveSessionKey(priv, msg.pubKey, a.localNodeKey, msg.nodeID)
	if err != nil {
		a.logger.Warn("key derivation failed", "err", err)
		return false
	}

	p := &pendingAuth{
		role:        roleResponder,
		addr:        src,
		nodeID:      msg.nodeID,
		haveNode:    true,
		priv:        priv,
		localSeq:    randomSeq(),
		localFlags:  a.localFlags,
		remoteFlags: msg.flags,
		remoteSeq:   msg.seq,
		sessionKey:  sessionKey,
		haveRemote:  true,
	}
	a.byNode[msg.nodeID] = p
	a.authedQueue = append(a.authedQueue, msg.nodeID)
	return true
}

func (a *AuthMgt) handleHelloAck(buf []byte, src peer.PeerAddr) bool {
	msg, err := decodeHelloAck(buf)
	if err != nil {
		return false
	}
	p, ok := a.byAddr[src]
	if !ok || p.role != roleDialer || !p.awaitingAck {
		return false
	}
	sessionKey, err := deriveSessionKey(p.priv, msg.pubKey, a.localNodeKey, msg.nodeID)
	if err != nil {
		a.logger.Warn("key derivation failed", "err", err)
		return false
	}

	p.nodeID = msg.nodeID
	p.haveNode = true
	p.remoteFlags = msg.flags
	p.remoteSeq = msg.seq
	p.sessionKey = sessionKey
	p.haveRemote = true
	p.remoteSlotID = msg.remoteID
	p.haveRemoteSlot = true
	p.awaitingAck = false

	delete(a.byAddr, src)
	a.byNode[msg.nodeID] = p
	a.authedQueue = append(a.authedQueue, msg.nodeID)
	return true
}

func (a *AuthMgt) handleEstablish(buf []byte) bool {
	msg, err := decodeEstablish(buf)
	if err != nil {
		return false
	}
	p, ok := a.byNode[msg.nodeID]
	if !ok || p.role != roleResponder || !p.acked {
		return false
	}
	p.remoteSlotID = msg.remoteID
	p.haveRemoteSlot = true
	if p.readyToComplete() {
		a.completedQueue = append(a.completedQueue, msg.nodeID)
	}
	return true
}

// NextMsg dequeues the next handshake message to transmit, generating
// HELLO_ACK/ESTABLISH messages lazily once their preconditions are met
// (the manager has assigned a local slot via AcceptAuthedPeer).
func (a *AuthMgt) NextMsg(buf []byte) (int, peer.PeerAddr, bool) {
	for node, p := range a.byNode {
		switch {
		case p.role == roleResponder && p.haveLocalSlot && !p.acked:
			var pub [32]byte
			copy(pub[:], p.priv.PublicKey().Bytes())
			msg := encodeHelloAck(helloAckMsg{
				helloMsg: helloMsg{nodeID: a.localNodeKey, pubKey: pub, flags: p.localFlags, seq: p.localSeq},
				remoteID: p.localSlotID,
			})
			p.acked = true
			n := copy(buf, msg)
			return n, p.addr, true

		case p.role == roleDialer && p.haveLocalSlot && p.haveRemoteSlot && !p.establishSent:
			msg := encodeEstablish(establishMsg{nodeID: a.localNodeKey, remoteID: p.localSlotID})
			p.establishSent = true
			n := copy(buf, msg)
			_ = node
			return n, p.addr, true
		}
	}

	if len(a.outbox) == 0 {
		return 0, peer.PeerAddr{}, false
	}
	entry := a.outbox[0]
	a.outbox = a.outbox[1:]
	n := copy(buf, entry.payload)
	return n, entry.target, true
}

// AuthedPeerNodeID reports a NodeID whose first handshake message has
// arrived and which now needs a manager-assigned local slot.
func (a *AuthMgt) AuthedPeerNodeID() (peer.NodeID, bool) {
	if len(a.authedQueue) == 0 {
		return peer.NodeID{}, false
	}
	id := a.authedQueue[0]
	a.authedQueue = a.authedQueue[1:]
	return id, true
}

// AcceptAuthedPeer records the manager-assigned local slot id for nodeID's
// pending handshake. For a responder this unlocks sending HELLO_ACK; for a
// dialer it unlocks completion once the remote slot id is also known.
func (a *AuthMgt) AcceptAuthedPeer(peerid peer.PeerID, seq uint64, flags uint16) {
	p := a.mostRecentlyAuthed()
	if p == nil {
		return
	}
	p.localSlotID = peerid
	p.haveLocalSlot = true
	p.localSeq = seq
	p.localFlags = flags
	if p.readyToComplete() {
		a.completedQueue = append(a.completedQueue, p.nodeID)
	}
}

// RejectAuthedPeer discards the most recently reported authed peer.
func (a *AuthMgt) RejectAuthedPeer() {
	p := a.mostRecentlyAuthed()
	if p == nil {
		return
	}
	delete(a.byNode, p.nodeID)
	delete(a.byAddr, p.addr)
}

// mostRecentlyAuthed returns the pendingAuth entry waiting on an
// Accept/Reject decision: the one without a local slot assigned yet.
func (a *AuthMgt) mostRecentlyAuthed() *pendingAuth {
	for _, p := range a.byNode {
		if p.haveRemote && !p.haveLocalSlot {
			return p
		}
	}
	return nil
}

// CompletedPeerNodeID reports a NodeID whose handshake has fully
// converged on both sides' slot assignments.
func (a *AuthMgt) CompletedPeerNodeID() (peer.NodeID, bool) {
	if len(a.completedQueue) == 0 {
		return peer.NodeID{}, false
	}
	id := a.completedQueue[0]
	a.completedQueue = a.completedQueue[1:]
	a.lastCompleted = a.byNode[id]
	return id, true
}

// CompletedPeerDetails returns the session material for the NodeID most
// recently returned by CompletedPeerNodeID.
func (a *AuthMgt) CompletedPeerDetails() (peer.PeerID, peer.PeerAddr, [chacha20poly1305.KeySize]byte, uint64, uint16) {
	p := a.lastCompleted
	if p == nil {
		return 0, peer.PeerAddr{}, [chacha20poly1305.KeySize]byte{}, 0, 0
	}
	return p.remoteSlotID, p.addr, p.sessionKey, p.remoteSeq, p.remoteFlags
}

// FinishCompletedPeer releases the handshake slot for the session the
// manager just consumed.
func (a *AuthMgt) FinishCompletedPeer() {
	if a.lastCompleted == nil {
		return
	}
	a.lastCompleted.completed = true
	delete(a.byNode, a.lastCompleted.nodeID)
	a.lastCompleted = nil
}

// UsedSlotCount reports the number of in-flight handshakes.
func (a *AuthMgt) UsedSlotCount() int {
	return a.totalPending()
}

// SlotCount reports the handshake pool capacity.
func (a *AuthMgt) SlotCount() int {
	return a.slotCount
}

// randomSeq picks the starting sequence number a freshly accepted session
// advertises, so a restarted peer never resumes at a sequence number a
// stale remote session might still treat as replay-valid.
func randomSeq() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// deriveSessionKey computes the ChaCha20-Poly1305 key shared by both sides
// of a handshake: an X25519 ECDH shared secret run through HKDF-SHA256,
// with the two NodeIDs (in a canonical, order-independent combination)
// folded into the salt so each pair of identities gets a distinct key even
// if the ECDH secret were ever to repeat.
func deriveSessionKey(priv *ecdh.PrivateKey, remotePub [32]byte, a, b peer.NodeID) ([chacha20poly1305.KeySize]byte, error) {
	var out [chacha20poly1305.KeySize]byte
	peerKey, err := ecdh.X25519().NewPublicKey(remotePub[:])
	if err != nil {
		return out, fmt.Errorf("invalid remote public key: %w", err)
	}
	shared, err := priv.ECDH(peerKey)
	if err != nil {
		return out, fmt.Errorf("X25519 exchange: %w", err)
	}

	salt := make([]byte, 0, 64)
	if lessNodeID(a, b) {
		salt = append(salt, a[:]...)
		salt = append(salt, b[:]...)
	} else {
		salt = append(salt, b[:]...)
		salt = append(salt, a[:]...)
	}

	r := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

func lessNodeID(a, b peer.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
