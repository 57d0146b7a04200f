package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueOrdersByTime(t *testing.T) {
	var q Queue
	e1 := &Event{TimeNS: 300}
	e2 := &Event{TimeNS: 100}
	e3 := &Event{TimeNS: 200}

	q.Enqueue(e1)
	q.Enqueue(e2)
	q.Enqueue(e3)

	assert.Equal(t, int64(100), q.Head().TimeNS)

	got := []int64{}
	for q.Len() > 0 {
		got = append(got, q.DequeueHead().TimeNS)
	}
	assert.Equal(t, []int64{100, 200, 300}, got)
}

func TestEnqueueIsFIFOOnTies(t *testing.T) {
	var q Queue
	e1 := &Event{TimeNS: 100, PingIndex: 1}
	e2 := &Event{TimeNS: 100, PingIndex: 2}

	q.Enqueue(e1)
	q.Enqueue(e2)

	require.Equal(t, 1, q.DequeueHead().PingIndex)
	require.Equal(t, 2, q.DequeueHead().PingIndex)
}

func TestRemoveMidQueue(t *testing.T) {
	var q Queue
	e1 := &Event{TimeNS: 100}
	e2 := &Event{TimeNS: 200}
	e3 := &Event{TimeNS: 300}
	q.Enqueue(e1)
	q.Enqueue(e2)
	q.Enqueue(e3)

	q.Remove(e2)
	assert.Equal(t, 2, q.Len())
	assert.False(t, e2.Queued())

	got := []int64{}
	for q.Len() > 0 {
		got = append(got, q.DequeueHead().TimeNS)
	}
	assert.Equal(t, []int64{100, 300}, got)
}

func TestEnqueueTwicePanics(t *testing.T) {
	var q Queue
	e := &Event{TimeNS: 1}
	q.Enqueue(e)
	assert.Panics(t, func() { q.Enqueue(e) })
}

func TestPeekHeadTimeEmpty(t *testing.T) {
	var q Queue
	_, ok := q.PeekHeadTime()
	assert.False(t, ok)
}

func TestRemoveAlreadyRemovedIsNoop(t *testing.T) {
	var q Queue
	e := &Event{TimeNS: 1}
	q.Enqueue(e)
	q.Remove(e)
	assert.NotPanics(t, func() { q.Remove(e) })
}
