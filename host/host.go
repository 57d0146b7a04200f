// Package host holds the per-target state the engine drives: address,
// timeout/backoff state, cumulative and interval counters, and the
// preallocated event-slot arenas that make steady-state scheduling
// allocation-free.
package host

import (
	"net"

	"github.com/digineo/go-ping/icmpcodec"
	"github.com/digineo/go-ping/queue"
)

// Outcome classifies a single scheduled probe. Values are carried over
// from fping's RESP_* sentinel constants so that a finite, non-negative
// Outcome is always exactly the probe's RTT in nanoseconds.
type Outcome int64

const (
	// Unused marks a resp_times slot that has not been scheduled yet.
	Unused Outcome = -2
	// Waiting marks a probe that was sent and has neither replied nor
	// timed out.
	Waiting Outcome = -1
	// Error marks a probe whose send() call failed.
	Error Outcome = -3
	// Timeout marks a probe whose deadline fired with no reply.
	Timeout Outcome = -4
)

// IsRTT reports whether o holds a finite round-trip time rather than one
// of the sentinel states above.
func (o Outcome) IsRTT() bool {
	return o >= 0
}

// Host is one target's persistent record: created once during ingestion
// and never destroyed until process end.
type Host struct {
	Index int // position in the host table; also the seqmap correlation key

	DisplayName string
	Addr        net.IPAddr
	IsV4        bool

	InitialTimeoutNS int64
	CurrentTimeoutNS int64 // mutable; grows by BackoffFactor on unanswered retries (default mode)
	LastSendNS       int64

	// Cumulative counters, kept for the whole run.
	Sent        int64
	RecvUnique  int64
	RecvTotal   int64 // includes duplicates
	OtherICMP   int64
	MinRTTNS    int64
	MaxRTTNS    int64
	SumRTTNS    int64
	hasRecv     bool
	timeouts    int64

	// Interval counters, reset every report tick (same shape as above).
	IntervalSent       int64
	IntervalRecvUnique int64
	IntervalRecvTotal  int64
	IntervalMinRTTNS   int64
	IntervalMaxRTTNS   int64
	IntervalSumRTTNS   int64
	intervalHasRecv    bool

	// RespTimes[i] holds the outcome of ping index i in default/count
	// mode. Empty (nil) in loop mode, where trials are unbounded.
	RespTimes []Outcome

	// Payload is the ICMP data appended to each outgoing request.
	Payload icmpcodec.Payload

	sendSlots    []queue.Event
	timeoutSlots []queue.Event
	seqSlots     []uint16 // outstanding sequence number per in-flight ping slot
}

// New creates a Host with preallocated event slots in each arena: count
// in count mode, 1+ceil(timeout/per_host_interval) in loop mode, or 1 in
// default mode. trials is the number of RespTimes slots (0 disables the
// slice, for loop mode).
func New(index int, displayName string, addr net.IPAddr, initialTimeoutNS int64, slotCount, trials int) *Host {
	if slotCount < 1 {
		slotCount = 1
	}

	h := &Host{
		Index:            index,
		DisplayName:      displayName,
		Addr:             addr,
		IsV4:             addr.IP.To4() != nil,
		InitialTimeoutNS: initialTimeoutNS,
		CurrentTimeoutNS: initialTimeoutNS,
		sendSlots:        make([]queue.Event, slotCount),
		timeoutSlots:     make([]queue.Event, slotCount),
		seqSlots:         make([]uint16, slotCount),
	}

	if trials > 0 {
		h.RespTimes = make([]Outcome, trials)
		for i := range h.RespTimes {
			h.RespTimes[i] = Unused
		}
	}

	return h
}

// SendEvent returns the arena-allocated send event for pingIndex,
// addressed by pingIndex mod len(arena).
func (h *Host) SendEvent(pingIndex int) *queue.Event {
	e := &h.sendSlots[pingIndex%len(h.sendSlots)]
	e.HostIndex = h.Index
	e.PingIndex = pingIndex
	return e
}

// TimeoutEvent returns the arena-allocated timeout event for pingIndex.
func (h *Host) TimeoutEvent(pingIndex int) *queue.Event {
	e := &h.timeoutSlots[pingIndex%len(h.timeoutSlots)]
	e.HostIndex = h.Index
	e.PingIndex = pingIndex
	return e
}

// SetSeq records the sequence number currently outstanding for
// pingIndex, so a later timeout can clear the matching seqmap slot.
func (h *Host) SetSeq(pingIndex int, seq uint16) {
	h.seqSlots[pingIndex%len(h.seqSlots)] = seq
}

// Seq returns the sequence number outstanding for pingIndex.
func (h *Host) Seq(pingIndex int) uint16 {
	return h.seqSlots[pingIndex%len(h.seqSlots)]
}

// SetOutcome records the outcome of ping index i, when RespTimes tracking
// is enabled (default/count mode). A Timeout outcome is also counted
// toward Timeouts() in every mode.
func (h *Host) SetOutcome(i int, o Outcome) {
	if o == Timeout {
		h.timeouts++
	}
	if i >= 0 && i < len(h.RespTimes) {
		h.RespTimes[i] = o
	}
}

// Outcome returns the recorded outcome of ping index i, or Unused if out
// of range or tracking is disabled.
func (h *Host) Outcome(i int) Outcome {
	if i >= 0 && i < len(h.RespTimes) {
		return h.RespTimes[i]
	}
	return Unused
}

// RecordReply folds an accepted (non-duplicate) reply of the given RTT
// into both the cumulative and interval counters, maintaining
// min ≤ mean ≤ max.
func (h *Host) RecordReply(rttNS int64) {
	h.RecvUnique++
	h.RecvTotal++
	if !h.hasRecv || rttNS < h.MinRTTNS {
		h.MinRTTNS = rttNS
	}
	if !h.hasRecv || rttNS > h.MaxRTTNS {
		h.MaxRTTNS = rttNS
	}
	h.SumRTTNS += rttNS
	h.hasRecv = true

	h.IntervalRecvUnique++
	h.IntervalRecvTotal++
	if !h.intervalHasRecv || rttNS < h.IntervalMinRTTNS {
		h.IntervalMinRTTNS = rttNS
	}
	if !h.intervalHasRecv || rttNS > h.IntervalMaxRTTNS {
		h.IntervalMaxRTTNS = rttNS
	}
	h.IntervalSumRTTNS += rttNS
	h.intervalHasRecv = true
}

// RecordDuplicate counts a reply for a probe that already has a finite
// RTT recorded: the total-received counter increments, nothing else
// changes.
func (h *Host) RecordDuplicate() {
	h.RecvTotal++
	h.IntervalRecvTotal++
}

// ResetInterval clears the interval counters, called once per report
// tick after the reporter has consumed them.
func (h *Host) ResetInterval() {
	h.IntervalSent = 0
	h.IntervalRecvUnique = 0
	h.IntervalRecvTotal = 0
	h.IntervalMinRTTNS = 0
	h.IntervalMaxRTTNS = 0
	h.IntervalSumRTTNS = 0
	h.intervalHasRecv = false
}

// MeanRTTNS returns sum/recv_unique over the cumulative counters, or 0 if
// no reply has ever been received.
func (h *Host) MeanRTTNS() int64 {
	if h.RecvUnique == 0 {
		return 0
	}
	return h.SumRTTNS / h.RecvUnique
}

// HasReceived reports whether this host has ever had a reply accepted.
func (h *Host) HasReceived() bool {
	return h.hasRecv
}

// Timeouts returns the number of probe attempts whose deadline fired with
// no reply, counting every default-mode retry of the same ping index
// separately, so that Sent = RecvUnique + Timeouts() + SendErrors() in
// default and count mode.
func (h *Host) Timeouts() int64 {
	return h.timeouts
}

// SendErrors returns the number of probes that ended as a send error.
func (h *Host) SendErrors() int64 {
	var n int64
	for _, o := range h.RespTimes {
		if o == Error {
			n++
		}
	}
	return n
}
