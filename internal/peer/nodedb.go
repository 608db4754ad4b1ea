package peer

import "time"

// nodeDbCapacity bounds the candidate directory so a malicious peer cannot
// unboundedly churn it via peerinfo gossip.
const nodeDbCapacity = 1024

// nodeEntry is one candidate in the directory.
type nodeEntry struct {
	addr     PeerAddr
	verified bool
	seenAt   time.Time
	dialedAt time.Time
	order    int // insertion/update sequence, used for LRU eviction
}

// NodeDb is the external LRU of candidate peers used by the dial loop and
// populated by peerinfo gossip.
type NodeDb struct {
	maxAge  time.Duration
	entries map[NodeID]*nodeEntry
	seq     int
}

// NewNodeDb creates an empty NodeDb.
func NewNodeDb() *NodeDb {
	return &NodeDb{
		maxAge:  NewConnectMaxAge,
		entries: make(map[NodeID]*nodeEntry),
	}
}

// SetMaxAge overrides the candidate staleness cap.
func (n *NodeDb) SetMaxAge(d time.Duration) {
	n.maxAge = d
}

// Update records or refreshes a candidate, always overwriting its address.
// Whether addr is direct or an indirect relay encoding is carried by addr
// itself; Candidate skips indirect ones. verified marks an address
// confirmed by an accepted inbound packet rather than hearsay.
func (n *NodeDb) Update(id NodeID, addr PeerAddr, verified bool, now time.Time) {
	e, ok := n.entries[id]
	if !ok {
		if len(n.entries) >= nodeDbCapacity {
			n.evictOldest()
		}
		e = &nodeEntry{}
		n.entries[id] = e
	}
	e.addr = addr
	if verified {
		e.verified = true
	}
	e.seenAt = now
	e.order = n.seq
	n.seq++
}

// MergeGossip records a candidate learned from peerinfo gossip rather than
// from directly-observed traffic. Unlike Update, it never overwrites the
// address of an entry whose NodeID is currently live (isLive true): gossip
// is hearsay and must not clobber an address this node has already
// confirmed by exchanging packets with the peer directly. A live peer's
// seenAt is still refreshed so it is never mistaken for a stale candidate.
func (n *NodeDb) MergeGossip(id NodeID, addr PeerAddr, now time.Time, isLive bool) {
	e, ok := n.entries[id]
	if !ok {
		if len(n.entries) >= nodeDbCapacity {
			n.evictOldest()
		}
		e = &nodeEntry{addr: addr}
		n.entries[id] = e
	} else if !isLive {
		e.addr = addr
	}
	e.seenAt = now
	e.order = n.seq
	n.seq++
}

// MarkDialed records that a candidate was just handed to AuthMgt.start.
func (n *NodeDb) MarkDialed(id NodeID, now time.Time) {
	if e, ok := n.entries[id]; ok {
		e.dialedAt = now
	}
}

func (n *NodeDb) evictOldest() {
	var oldestID NodeID
	oldestOrder := int(^uint(0) >> 1)
	for id, e := range n.entries {
		if e.order < oldestOrder {
			oldestOrder = e.order
			oldestID = id
		}
	}
	delete(n.entries, oldestID)
}

// Candidate picks a candidate younger than the configured max age that is
// not already live (per isLive) and direct (not an indirect relay
// encoding), and has not been dialed within the last NewConnectInterval.
func (n *NodeDb) Candidate(now time.Time, isLive func(NodeID) bool) (NodeID, PeerAddr, bool) {
	for id, e := range n.entries {
		if e.addr.IsInternal() {
			continue
		}
		if now.Sub(e.seenAt) > n.maxAge {
			continue
		}
		if isLive(id) {
			continue
		}
		if !e.dialedAt.IsZero() && now.Sub(e.dialedAt) < NewConnectInterval {
			continue
		}
		return id, e.addr, true
	}
	return NodeID{}, PeerAddr{}, false
}

// Len returns the number of candidates currently tracked.
func (n *NodeDb) Len() int {
	return len(n.entries)
}
