package host

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(trials int) *Host {
	addr := net.IPAddr{IP: net.ParseIP("192.0.2.1")}
	return New(0, "example.invalid", addr, int64(100), trials, trials)
}

func TestNewInitializesRespTimesUnused(t *testing.T) {
	h := newTestHost(3)
	for i, o := range h.RespTimes {
		assert.Equal(t, Unused, o, "slot %d", i)
	}
}

func TestSendEventAndTimeoutEventAreDistinctArenas(t *testing.T) {
	h := newTestHost(1)
	se := h.SendEvent(0)
	te := h.TimeoutEvent(0)
	assert.NotSame(t, se, te)
	assert.Equal(t, 0, se.HostIndex)
	assert.Equal(t, 0, se.PingIndex)
}

func TestSeqRoundTrip(t *testing.T) {
	h := newTestHost(4)
	h.SetSeq(2, 0xABCD)
	assert.Equal(t, uint16(0xABCD), h.Seq(2))
}

func TestRecordReplyMaintainsMinMaxMean(t *testing.T) {
	h := newTestHost(3)
	h.RecordReply(100)
	h.RecordReply(300)
	h.RecordReply(200)

	assert.EqualValues(t, 3, h.RecvUnique)
	assert.Equal(t, int64(100), h.MinRTTNS)
	assert.Equal(t, int64(300), h.MaxRTTNS)
	assert.Equal(t, int64(200), h.MeanRTTNS())
	assert.True(t, h.HasReceived())
}

func TestRecordDuplicateDoesNotAffectUnique(t *testing.T) {
	h := newTestHost(2)
	h.RecordReply(100)
	h.RecordDuplicate()

	assert.EqualValues(t, 1, h.RecvUnique)
	assert.EqualValues(t, 2, h.RecvTotal)
}

func TestResetIntervalClearsOnlyIntervalCounters(t *testing.T) {
	h := newTestHost(2)
	h.RecordReply(50)
	h.ResetInterval()

	assert.EqualValues(t, 0, h.IntervalRecvUnique)
	assert.EqualValues(t, 1, h.RecvUnique, "cumulative counters survive a reset")
}

func TestOutcomeTracksTimeoutsAndErrors(t *testing.T) {
	h := newTestHost(3)
	h.SetOutcome(0, Timeout)
	h.SetOutcome(1, Error)
	h.SetOutcome(2, Outcome(42))

	assert.EqualValues(t, 1, h.Timeouts())
	assert.EqualValues(t, 1, h.SendErrors())
	assert.True(t, h.Outcome(2).IsRTT())
}

func TestSlotCountFloorIsOne(t *testing.T) {
	addr := net.IPAddr{IP: net.ParseIP("192.0.2.1")}
	h := New(0, "x", addr, 1, 0, 0)
	require.NotNil(t, h.SendEvent(0))
}
