package peer_test

import (
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/blahgeek/peervpn/internal/peer"
)

func TestHandleRelayInRequiresLocalRelayFlag(t *testing.T) {
	t.Parallel()

	mgr, err := peer.Create(8, "net", "pw", nodeID(1), newFakeAuthMgt(2))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mgr.HandleRelayIn(1, []byte{0, 0, 0, 2}) {
		t.Error("HandleRelayIn succeeded without the local RELAY flag set")
	}
}

func TestHandleRelayInStagesRelayOutForActiveTarget(t *testing.T) {
	t.Parallel()

	auth := newFakeAuthMgt(4)
	mgr, err := peer.Create(8, "net", "pw", nodeID(1), auth, peer.WithFlags(peer.FlagRelay))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Unix(0, 0)
	var key [chacha20poly1305.KeySize]byte

	auth.authedQueue = []peer.NodeID{nodeID(2)}
	mgr.PumpAuth(now)
	target, ok := mgr.IDOf(nodeID(2))
	if !ok {
		t.Fatal("no slot allocated for target node")
	}

	auth.pendingDetailsKey = nodeID(2)
	auth.details[nodeID(2)] = completedDetails{remoteID: 9, sessionKey: key, remoteSeq: 1, remoteFlags: peer.FlagUserdata}
	auth.completedQueue = []peer.NodeID{nodeID(2)}
	mgr.PumpAuth(now)

	if !mgr.IsActive(target) {
		t.Fatal("target slot did not reach Complete")
	}

	envelope := append([]byte{0, 0, 0, byte(target)}, []byte("opaque-inner")...)
	if !mgr.HandleRelayIn(5, envelope) {
		t.Error("HandleRelayIn rejected a valid envelope for an active target")
	}

	buf := make([]byte, peer.MsgMax)
	n, _, ok := mgr.TakeNextOutgoing(buf, now)
	if !ok || n == 0 {
		t.Error("TakeNextOutgoing did not drain the staged RELAY_OUT message")
	}
}

func TestHandleRelayInRejectsInactiveTarget(t *testing.T) {
	t.Parallel()

	mgr, err := peer.Create(8, "net", "pw", nodeID(1), newFakeAuthMgt(2), peer.WithFlags(peer.FlagRelay))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mgr.HandleRelayIn(1, []byte{0, 0, 0, 7, 'x'}) {
		t.Error("HandleRelayIn accepted an envelope addressing a non-active target")
	}
}
