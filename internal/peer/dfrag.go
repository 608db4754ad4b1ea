package peer

// fragKey identifies one fragment-reassembly group. Using ConnTime (a
// wall-clock-second epoch tag) as part of the key rather than a monotonic
// session counter carries a known, accepted aliasing risk: if a slot is
// recycled within the same wall-clock second, two unrelated fragment
// groups could alias into the same bucket. This is intentionally not
// "fixed" here.
type fragKey struct {
	epoch   ConnTime
	peerid  PeerID
	baseSeq uint64
}

type fragBucket struct {
	key      fragKey
	valid    bool
	count    int
	received uint16 // bitmap of fragments seen, bit i == position i received
	data     [MsgMax]byte
	size     int // cumulative bytes written so far
}

// Dfrag is the fragment-reassembly bucket table. It holds FragbufCount buckets and evicts the oldest (round-robin)
// bucket when a new group needs allocation and none are free.
type Dfrag struct {
	buckets [FragbufCount]fragBucket
	evictAt int // round-robin cursor for eviction when full
}

// NewDfrag creates an empty Dfrag table.
func NewDfrag() *Dfrag {
	return &Dfrag{}
}

func (d *Dfrag) find(key fragKey) int {
	for i := range d.buckets {
		if d.buckets[i].valid && d.buckets[i].key == key {
			return i
		}
	}
	return -1
}

func (d *Dfrag) alloc(key fragKey, count int) int {
	for i := range d.buckets {
		if !d.buckets[i].valid {
			d.buckets[i] = fragBucket{key: key, valid: true, count: count}
			return i
		}
	}
	// No free bucket: evict round-robin. FIFO is the simplest
	// bounded-memory choice and keeps assemble() non-blocking.
	i := d.evictAt % FragbufCount
	d.evictAt++
	d.buckets[i] = fragBucket{key: key, valid: true, count: count}
	return i
}

// Assemble feeds one fragment into its group. count is the group's total
// fragment count, pos
// is this fragment's position (< count). Returns the reassembled payload
// and true once every fragment in [0, count) has arrived; returns
// (nil, false) otherwise, including when the fragment is rejected
// (pos ≥ count, count > 15, or the assembled length would exceed MsgMax).
func (d *Dfrag) Assemble(epoch ConnTime, peerid PeerID, baseSeq uint64, payload []byte, pos, count int) ([]byte, bool) {
	if count <= 0 || count > 15 || pos < 0 || pos >= count {
		return nil, false
	}

	key := fragKey{epoch: epoch, peerid: peerid, baseSeq: baseSeq}
	i := d.find(key)
	if i < 0 {
		i = d.alloc(key, count)
	}
	b := &d.buckets[i]
	if b.count != count {
		// A stale bucket aliased onto this key with a different group
		// shape; restart the group rather than corrupt it.
		*b = fragBucket{key: key, valid: true, count: count}
	}

	bit := uint16(1) << uint(pos)
	if b.received&bit == 0 {
		offset := pos * MsgMin
		if offset+len(payload) > MsgMax {
			d.Clear(epoch, peerid, baseSeq)
			return nil, false
		}
		copy(b.data[offset:], payload)
		if offset+len(payload) > b.size {
			b.size = offset + len(payload)
		}
		b.received |= bit
	}

	want := uint16(1)<<uint(count) - 1
	if b.received != want {
		return nil, false
	}

	out := make([]byte, b.size)
	copy(out, b.data[:b.size])
	d.clearIndex(i)
	return out, true
}

// Clear discards the bucket for the given group, if present.
func (d *Dfrag) Clear(epoch ConnTime, peerid PeerID, baseSeq uint64) {
	if i := d.find(fragKey{epoch: epoch, peerid: peerid, baseSeq: baseSeq}); i >= 0 {
		d.clearIndex(i)
	}
}

func (d *Dfrag) clearIndex(i int) {
	d.buckets[i] = fragBucket{}
}
