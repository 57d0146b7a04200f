package seqmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFetchRoundTrip(t *testing.T) {
	m := New(16, 1000)
	seq := m.Add(3, 7, 100)

	e, ok := m.Fetch(seq, 150)
	require.True(t, ok)
	assert.Equal(t, 3, e.HostIndex)
	assert.Equal(t, 7, e.PingIndex)
	assert.Equal(t, int64(50), e.RTT(150))
}

func TestFetchMissAfterRetentionWindow(t *testing.T) {
	m := New(16, 100)
	seq := m.Add(1, 1, 0)

	_, ok := m.Fetch(seq, 101)
	assert.False(t, ok)

	_, ok = m.Fetch(seq, 100)
	assert.True(t, ok)
}

func TestClearInvalidatesSlot(t *testing.T) {
	m := New(16, 1000)
	seq := m.Add(1, 1, 0)
	m.Clear(seq)

	_, ok := m.Fetch(seq, 0)
	assert.False(t, ok)
}

func TestCollisionOverwritesOldEntry(t *testing.T) {
	m := New(4, 1000) // size rounds to 4 slots; seq wraps mod 4
	first := m.Add(1, 1, 0)
	for i := 0; i < 3; i++ {
		m.Add(2, 2, 0) // burn through the other 3 slots
	}
	m.Add(9, 9, 0) // 5th Add; its seq aliases to the same slot index as first's

	e, ok := m.Fetch(first, 0)
	require.True(t, ok)
	assert.Equal(t, 9, e.HostIndex, "the slot now holds whichever probe last wrote it, aliasing first's own seq")
}

func TestSizeRoundsToPowerOfTwo(t *testing.T) {
	m := New(10, 1000)
	assert.Equal(t, 16, m.Size())
}
