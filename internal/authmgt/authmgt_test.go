package authmgt_test

import (
	"net/netip"
	"testing"

	"github.com/blahgeek/peervpn/internal/authmgt"
	"github.com/blahgeek/peervpn/internal/peer"
)

func nodeID(b byte) peer.NodeID {
	var id peer.NodeID
	id[0] = b
	return id
}

// pump relays every pending message from src to dst until both mailboxes
// run dry, mimicking the peer manager's TakeNextOutgoing/HandleIncoming
// loop without any of its scheduling logic.
func pump(t *testing.T, a, b *authmgt.AuthMgt, addrA, addrB peer.PeerAddr) {
	t.Helper()
	buf := make([]byte, 256)
	for i := 0; i < 16; i++ {
		progressed := false
		if n, target, ok := a.NextMsg(buf); ok {
			progressed = true
			src := addrA
			if target == addrB {
				if !b.DecodeMsg(buf[:n], src) {
					t.Fatalf("B rejected message from A")
				}
			}
		}
		if n, target, ok := b.NextMsg(buf); ok {
			progressed = true
			src := addrB
			if target == addrA {
				if !a.DecodeMsg(buf[:n], src) {
					t.Fatalf("A rejected message from B")
				}
			}
		}
		if !progressed {
			break
		}
	}
}

func TestHandshakeConvergesToMatchingSessionKeys(t *testing.T) {
	t.Parallel()

	nodeA := nodeID(0xAA)
	nodeB := nodeID(0xBB)
	addrA := peer.DirectAddr(netip.MustParseAddrPort("203.0.113.1:9000"))
	addrB := peer.DirectAddr(netip.MustParseAddrPort("203.0.113.2:9000"))

	a := authmgt.New("test-net", nodeA, peer.FlagUserdata, 4)
	b := authmgt.New("test-net", nodeB, peer.FlagUserdata, 4)

	if !a.Start(addrB) {
		t.Fatal("A.Start failed")
	}

	// Drive the HELLO across first so B has an AuthedPeerNodeID to report
	// before either side expects a manager-assigned slot.
	pump(t, a, b, addrA, addrB)

	bNode, ok := b.AuthedPeerNodeID()
	if !ok || bNode != nodeA {
		t.Fatalf("B.AuthedPeerNodeID = (%v, %v), want (A, true)", bNode, ok)
	}
	b.AcceptAuthedPeer(7, 100, peer.FlagUserdata)

	pump(t, a, b, addrA, addrB)

	aNode, ok := a.AuthedPeerNodeID()
	if !ok || aNode != nodeB {
		t.Fatalf("A.AuthedPeerNodeID = (%v, %v), want (B, true)", aNode, ok)
	}
	a.AcceptAuthedPeer(3, 200, peer.FlagUserdata)

	pump(t, a, b, addrA, addrB)

	aDone, ok := a.CompletedPeerNodeID()
	if !ok || aDone != nodeB {
		t.Fatalf("A.CompletedPeerNodeID = (%v, %v), want (B, true)", aDone, ok)
	}
	aRemoteID, _, aKey, _, _ := a.CompletedPeerDetails()
	if aRemoteID != 7 {
		t.Errorf("A's view of B's slot = %d, want 7", aRemoteID)
	}
	a.FinishCompletedPeer()

	bDone, ok := b.CompletedPeerNodeID()
	if !ok || bDone != nodeA {
		t.Fatalf("B.CompletedPeerNodeID = (%v, %v), want (A, true)", bDone, ok)
	}
	bRemoteID, _, bKey, _, _ := b.CompletedPeerDetails()
	if bRemoteID != 3 {
		t.Errorf("B's view of A's slot = %d, want 3", bRemoteID)
	}
	b.FinishCompletedPeer()

	if aKey != bKey {
		t.Error("derived session keys diverge between dialer and responder")
	}
}

func TestStartRejectsDuplicateAddr(t *testing.T) {
	t.Parallel()

	a := authmgt.New("test-net", nodeID(1), 0, 4)
	addr := peer.DirectAddr(netip.MustParseAddrPort("203.0.113.9:9000"))
	if !a.Start(addr) {
		t.Fatal("first Start failed")
	}
	if a.Start(addr) {
		t.Error("second Start to the same address should be rejected")
	}
}

func TestStartFailsWhenSlotsFull(t *testing.T) {
	t.Parallel()

	a := authmgt.New("test-net", nodeID(1), 0, 1)
	if !a.Start(peer.DirectAddr(netip.MustParseAddrPort("203.0.113.1:1"))) {
		t.Fatal("first Start failed")
	}
	if a.Start(peer.DirectAddr(netip.MustParseAddrPort("203.0.113.2:2"))) {
		t.Error("Start should fail once the handshake pool is full")
	}
}
