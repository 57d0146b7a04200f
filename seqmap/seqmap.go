// Package seqmap implements a direct-mapped sequence-number correlation
// table: a fixed-size, aging table shared by every host in a run,
// mapping an outgoing ICMP sequence number back to the (host, ping)
// pair that sent it.
package seqmap

// Entry records who sent a probe under a given sequence number and when,
// so a reply can be matched back to its (host, ping) pair.
type Entry struct {
	HostIndex  int
	PingIndex  int
	SendTimeNS int64
	valid      bool
}

// Map is a power-of-two sized direct-map table indexed by seq mod N.
// Newest insertion always overwrites whatever previously occupied the
// slot; a full wrap before a reply arrives simply loses correlation for
// the overwritten probe, which is surfaced as a timeout once its
// deadline fires.
type Map struct {
	entries  []Entry
	mask     uint32
	seq      uint32
	retainNS int64
}

// New creates a Map with size slots, rounded up to the next power of two.
// retentionWindowNS bounds how long a slot remains fetchable after it was
// written; callers should size it to at least the worst-case timeout
// plus slack, and size must exceed the maximum product of send rate and
// max timeout or in-flight correlations will be evicted early.
func New(size int, retentionWindowNS int64) *Map {
	n := nextPowerOfTwo(size)
	return &Map{
		entries:  make([]Entry, n),
		mask:     uint32(n - 1),
		retainNS: retentionWindowNS,
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Size returns the number of slots in the table.
func (m *Map) Size() int {
	return len(m.entries)
}

// Add advances the shared 16-bit sequence counter, overwrites its slot
// with the given probe identity, and returns the chosen sequence number
// to embed in the outgoing ICMP packet.
func (m *Map) Add(hostIndex, pingIndex int, nowNS int64) uint16 {
	m.seq++
	seq := uint16(m.seq)
	m.entries[uint32(seq)&m.mask] = Entry{
		HostIndex:  hostIndex,
		PingIndex:  pingIndex,
		SendTimeNS: nowNS,
		valid:      true,
	}
	return seq
}

// Fetch returns the slot's entry for seq, provided it is still within the
// retention window as of nowNS; otherwise it reports a miss. A miss also
// results if the slot was never written or was cleared. Entries do not
// record their sequence number, so once a later Add whose seq maps to the
// same slot has overwritten it, Fetch returns that newer entry.
func (m *Map) Fetch(seq uint16, nowNS int64) (Entry, bool) {
	e := m.entries[uint32(seq)&m.mask]
	if !e.valid {
		return Entry{}, false
	}
	if nowNS-e.SendTimeNS > m.retainNS {
		return Entry{}, false
	}
	return e, true
}

// Clear invalidates the slot for seq, e.g. once its timeout event has
// fired.
func (m *Map) Clear(seq uint16) {
	m.entries[uint32(seq)&m.mask].valid = false
}

// RTT returns the round-trip time implied by this entry's send time and a
// reply observed at recvNS.
func (e Entry) RTT(recvNS int64) int64 {
	return recvNS - e.SendTimeNS
}
