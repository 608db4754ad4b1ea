package peer_test

import (
	"net/netip"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/blahgeek/peervpn/internal/peer"
)

// fakeAuthMgt is a minimal AuthMgt stand-in that lets tests drive the
// Manager's slot lifecycle without a real handshake protocol. It only
// supports one in-flight completion at a time, tracked via
// pendingDetailsKey.
type fakeAuthMgt struct {
	authedQueue       []peer.NodeID
	completedQueue    []peer.NodeID
	details           map[peer.NodeID]completedDetails
	pendingDetailsKey peer.NodeID
	accepted          []peer.PeerID
	slotCount         int
}

type completedDetails struct {
	remoteID    peer.PeerID
	addr        peer.PeerAddr
	sessionKey  [chacha20poly1305.KeySize]byte
	remoteSeq   uint64
	remoteFlags uint16
}

func newFakeAuthMgt(slotCount int) *fakeAuthMgt {
	return &fakeAuthMgt{details: make(map[peer.NodeID]completedDetails), slotCount: slotCount}
}

func (f *fakeAuthMgt) Start(peer.PeerAddr) bool                 { return false }
func (f *fakeAuthMgt) DecodeMsg([]byte, peer.PeerAddr) bool      { return false }
func (f *fakeAuthMgt) NextMsg([]byte) (int, peer.PeerAddr, bool) { return 0, peer.PeerAddr{}, false }

func (f *fakeAuthMgt) AuthedPeerNodeID() (peer.NodeID, bool) {
	if len(f.authedQueue) == 0 {
		return peer.NodeID{}, false
	}
	id := f.authedQueue[0]
	f.authedQueue = f.authedQueue[1:]
	return id, true
}

func (f *fakeAuthMgt) AcceptAuthedPeer(peerid peer.PeerID, seq uint64, flags uint16) {
	f.accepted = append(f.accepted, peerid)
}

func (f *fakeAuthMgt) RejectAuthedPeer() {}

func (f *fakeAuthMgt) CompletedPeerNodeID() (peer.NodeID, bool) {
	if len(f.completedQueue) == 0 {
		return peer.NodeID{}, false
	}
	id := f.completedQueue[0]
	f.completedQueue = f.completedQueue[1:]
	return id, true
}

func (f *fakeAuthMgt) CompletedPeerDetails() (peer.PeerID, peer.PeerAddr, [chacha20poly1305.KeySize]byte, uint64, uint16) {
	d := f.details[f.pendingDetailsKey]
	return d.remoteID, d.addr, d.sessionKey, d.remoteSeq, d.remoteFlags
}

func (f *fakeAuthMgt) FinishCompletedPeer() {}

func (f *fakeAuthMgt) UsedSlotCount() int { return len(f.accepted) }
func (f *fakeAuthMgt) SlotCount() int     { return f.slotCount }

func newManagerPair(t *testing.T) (*peer.Manager, *peer.Manager, *fakeAuthMgt, *fakeAuthMgt) {
	t.Helper()

	var key [chacha20poly1305.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}

	nodeA := nodeID(0xA)
	nodeB := nodeID(0xB)

	authA := newFakeAuthMgt(4)
	authB := newFakeAuthMgt(4)

	mgrA, err := peer.Create(8, "test-net", "hunter2", nodeA, authA, peer.WithFlags(peer.FlagUserdata))
	if err != nil {
		t.Fatalf("Create(A): %v", err)
	}
	mgrB, err := peer.Create(8, "test-net", "hunter2", nodeB, authB, peer.WithFlags(peer.FlagUserdata))
	if err != nil {
		t.Fatalf("Create(B): %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	addrB := peer.DirectAddr(netip.MustParseAddrPort("203.0.113.2:7000"))
	addrA := peer.DirectAddr(netip.MustParseAddrPort("203.0.113.1:7000"))

	authA.authedQueue = []peer.NodeID{nodeB}
	mgrA.PumpAuth(now)
	idBonA, ok := mgrA.IDOf(nodeB)
	if !ok {
		t.Fatal("A did not allocate a slot for B")
	}

	authB.authedQueue = []peer.NodeID{nodeA}
	mgrB.PumpAuth(now)
	idAonB, ok := mgrB.IDOf(nodeA)
	if !ok {
		t.Fatal("B did not allocate a slot for A")
	}

	authA.pendingDetailsKey = nodeB
	authA.details[nodeB] = completedDetails{remoteID: idAonB, addr: addrB, sessionKey: key, remoteSeq: 1000, remoteFlags: peer.FlagUserdata}
	authA.completedQueue = []peer.NodeID{nodeB}
	mgrA.PumpAuth(now)

	authB.pendingDetailsKey = nodeA
	authB.details[nodeA] = completedDetails{remoteID: idBonA, addr: addrA, sessionKey: key, remoteSeq: 2000, remoteFlags: peer.FlagUserdata}
	authB.completedQueue = []peer.NodeID{nodeA}
	mgrB.PumpAuth(now)

	if !mgrA.IsActive(idBonA) || !mgrB.IsActive(idAonB) {
		t.Fatal("handshake did not bring both slots to Complete")
	}
	return mgrA, mgrB, authA, authB
}

func TestManagerUserdataRoundTrip(t *testing.T) {
	t.Parallel()

	mgrA, mgrB, _, _ := newManagerPair(t)
	now := time.Unix(1_700_000_010, 0)

	idB, ok := mgrA.IDOf(nodeID(0xB))
	if !ok {
		t.Fatal("A has no slot for B")
	}

	payload := []byte("hello from A")
	if err := mgrA.SendUserdata(idB, payload); err != nil {
		t.Fatalf("SendUserdata: %v", err)
	}

	buf := make([]byte, peer.MsgMax)
	n, target, ok := mgrA.TakeNextOutgoing(buf, now)
	if !ok {
		t.Fatal("TakeNextOutgoing produced nothing")
	}
	if target.IsZero() {
		t.Fatal("TakeNextOutgoing returned a zero target address")
	}

	if !mgrB.HandleIncoming(buf[:n], peer.PeerAddr{}, now) {
		t.Fatal("HandleIncoming rejected a freshly encoded userdata packet")
	}

	_, got, ok := mgrB.RecvUserdata()
	if !ok {
		t.Fatal("RecvUserdata found nothing staged")
	}
	if string(got) != string(payload) {
		t.Errorf("recovered payload = %q, want %q", got, payload)
	}
}

func TestManagerSendBusyUntilDrained(t *testing.T) {
	t.Parallel()

	mgrA, _, _, _ := newManagerPair(t)
	idB, _ := mgrA.IDOf(nodeID(0xB))

	if err := mgrA.SendUserdata(idB, []byte("first")); err != nil {
		t.Fatalf("first SendUserdata: %v", err)
	}
	if err := mgrA.SendUserdata(idB, []byte("second")); err != peer.ErrSendBusy {
		t.Errorf("second SendUserdata error = %v, want ErrSendBusy", err)
	}
}

func TestManagerStatusListsActiveSlot(t *testing.T) {
	t.Parallel()

	mgrA, _, _, _ := newManagerPair(t)
	report := mgrA.Status(time.Unix(1_700_000_020, 0))
	if len(report) == 0 {
		t.Fatal("Status returned empty report")
	}
}

func TestManagerSendUserdataLoopback(t *testing.T) {
	t.Parallel()

	mgrA, _, _, _ := newManagerPair(t)
	payload := []byte("to myself")

	if err := mgrA.SendUserdata(peer.LocalPeerID, payload); err != nil {
		t.Fatalf("SendUserdata(self): %v", err)
	}

	id, got, ok := mgrA.RecvUserdata()
	if !ok {
		t.Fatal("RecvUserdata found nothing staged after loopback send")
	}
	if id != peer.LocalPeerID {
		t.Errorf("RecvUserdata peerid = %d, want LocalPeerID", id)
	}
	if string(got) != string(payload) {
		t.Errorf("recovered payload = %q, want %q", got, payload)
	}

	buf := make([]byte, peer.MsgMax)
	if _, _, ok := mgrA.TakeNextOutgoing(buf, time.Unix(1_700_000_005, 0)); ok {
		t.Error("TakeNextOutgoing produced a datagram for a loopback send")
	}
}

func TestManagerSendUserdataRejectsBadSizes(t *testing.T) {
	t.Parallel()

	mgrA, _, _, _ := newManagerPair(t)
	idB, _ := mgrA.IDOf(nodeID(0xB))

	if err := mgrA.SendUserdata(idB, nil); err != peer.ErrPayloadSize {
		t.Errorf("SendUserdata(empty) error = %v, want ErrPayloadSize", err)
	}
	if err := mgrA.SendUserdata(idB, make([]byte, peer.MsgMax+1)); err != peer.ErrPayloadSize {
		t.Errorf("SendUserdata(oversized) error = %v, want ErrPayloadSize", err)
	}
	if err := mgrA.SendBroadcastUserdata(nil); err != peer.ErrPayloadSize {
		t.Errorf("SendBroadcastUserdata(empty) error = %v, want ErrPayloadSize", err)
	}
}

func TestManagerFragmentReassemblyOutOfOrder(t *testing.T) {
	t.Parallel()

	mgrA, mgrB, _, _ := newManagerPair(t)
	now := time.Unix(1_700_000_050, 0)
	idB, _ := mgrA.IDOf(nodeID(0xB))

	payload := make([]byte, peer.MsgMin*2+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := mgrA.SendUserdata(idB, payload); err != nil {
		t.Fatalf("SendUserdata: %v", err)
	}

	var fragments [][]byte
	buf := make([]byte, peer.MsgMax)
	for {
		n, _, ok := mgrA.TakeNextOutgoing(buf, now)
		if !ok {
			break
		}
		frag := make([]byte, n)
		copy(frag, buf[:n])
		fragments = append(fragments, frag)
	}
	if len(fragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(fragments))
	}

	// Deliver out of order: last fragment first.
	for i := len(fragments) - 1; i >= 0; i-- {
		if !mgrB.HandleIncoming(fragments[i], peer.PeerAddr{}, now) {
			t.Fatalf("HandleIncoming rejected fragment %d delivered out of order", i)
		}
	}

	_, got, ok := mgrB.RecvUserdata()
	if !ok {
		t.Fatal("RecvUserdata found nothing staged after out-of-order fragment delivery")
	}
	if string(got) != string(payload) {
		t.Error("reassembled payload does not match the original after out-of-order delivery")
	}
}

func TestManagerSendPing(t *testing.T) {
	t.Parallel()

	mgrA, mgrB, _, _ := newManagerPair(t)
	now := time.Unix(1_700_000_040, 0)
	idB, _ := mgrA.IDOf(nodeID(0xB))

	if err := mgrA.SendPing(idB); err != nil {
		t.Fatalf("SendPing: %v", err)
	}
	if err := mgrA.SendPing(idB); err != peer.ErrControlBusy {
		t.Errorf("second SendPing error = %v, want ErrControlBusy", err)
	}

	buf := make([]byte, peer.MsgMax)
	n, target, ok := mgrA.TakeNextOutgoing(buf, now)
	if !ok {
		t.Fatal("TakeNextOutgoing produced nothing for a pending ping")
	}
	if target.IsZero() {
		t.Fatal("TakeNextOutgoing returned a zero target address")
	}
	if !mgrB.HandleIncoming(buf[:n], peer.PeerAddr{}, now) {
		t.Fatal("HandleIncoming rejected a PING packet")
	}

	pongBuf := make([]byte, peer.MsgMax)
	n, _, ok = mgrB.TakeNextOutgoing(pongBuf, now)
	if !ok {
		t.Fatal("B did not schedule a PONG reply")
	}
	if !mgrA.HandleIncoming(pongBuf[:n], peer.PeerAddr{}, now) {
		t.Fatal("HandleIncoming rejected B's PONG reply")
	}
}
