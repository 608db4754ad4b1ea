package peer_test

import (
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/blahgeek/peervpn/internal/peer"
)

func addrAt(port uint16) peer.PeerAddr {
	return peer.DirectAddr(netip.MustParseAddrPort("198.51.100.1:" + strconv.Itoa(int(port))))
}

func TestNodeDbCandidateSkipsLiveAndStale(t *testing.T) {
	t.Parallel()

	n := peer.NewNodeDb()
	n.SetMaxAge(time.Hour)
	now := time.Unix(1_000_000, 0)

	live := nodeID(1)
	stale := nodeID(2)
	fresh := nodeID(3)

	n.Update(live, addrAt(1), true, now)
	n.Update(stale, addrAt(2), true, now.Add(-2*time.Hour))
	n.Update(fresh, addrAt(3), true, now)

	id, _, ok := n.Candidate(now, func(id peer.NodeID) bool { return id == live })
	if !ok || id != fresh {
		t.Fatalf("Candidate = (%v, %v), want (fresh, true)", id, ok)
	}
}

func TestNodeDbCandidateRespectsDialThrottle(t *testing.T) {
	t.Parallel()

	n := peer.NewNodeDb()
	now := time.Unix(2_000_000, 0)
	id := nodeID(5)
	n.Update(id, addrAt(7), true, now)
	n.MarkDialed(id, now)

	if _, _, ok := n.Candidate(now.Add(100*time.Millisecond), func(peer.NodeID) bool { return false }); ok {
		t.Error("Candidate returned a peer dialed within NewConnectInterval")
	}
	if _, _, ok := n.Candidate(now.Add(2*time.Second), func(peer.NodeID) bool { return false }); !ok {
		t.Error("Candidate refused a peer dialed well outside NewConnectInterval")
	}
}

func TestNodeDbMergeGossipNeverOverwritesLiveAddress(t *testing.T) {
	t.Parallel()

	n := peer.NewNodeDb()
	now := time.Unix(3_000_000, 0)
	id := nodeID(9)

	n.Update(id, addrAt(100), true, now)
	n.MergeGossip(id, addrAt(200), now.Add(time.Second), true)

	got, addr, ok := n.Candidate(now.Add(time.Second), func(peer.NodeID) bool { return false })
	if !ok || got != id {
		t.Fatalf("Candidate = (%v, %v), want (%v, true)", got, ok, id)
	}
	if addr.Direct().Port() != 100 {
		t.Errorf("address port = %d, want 100 (gossip must not overwrite a live entry)", addr.Direct().Port())
	}
}

func TestNodeDbMergeGossipUpdatesNonLiveAddress(t *testing.T) {
	t.Parallel()

	n := peer.NewNodeDb()
	now := time.Unix(4_000_000, 0)
	id := nodeID(11)

	n.Update(id, addrAt(1), false, now)
	n.MergeGossip(id, addrAt(2), now.Add(time.Second), false)

	_, addr, ok := n.Candidate(now.Add(time.Second), func(peer.NodeID) bool { return false })
	if !ok {
		t.Fatal("Candidate returned nothing")
	}
	if addr.Direct().Port() != 2 {
		t.Errorf("address port = %d, want 2 (gossip should update a non-live entry)", addr.Direct().Port())
	}
}
