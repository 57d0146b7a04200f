// Package queue implements the engine's two time-sorted event queues:
// one for the next send per host/index, one for the deadline of each
// outstanding ping. Events are arena-allocated by the host package and
// only ever referenced here by pointer, so the queue itself never
// allocates.
package queue

// Event is a fixed-size, arena-allocated node belonging to exactly one
// Queue at a time. HostIndex/PingIndex identify the probe the event
// belongs to; the host package embeds Event in its per-slot arenas and
// hands us pointers.
type Event struct {
	TimeNS    int64
	HostIndex int
	PingIndex int

	prev, next *Event
	queued     bool
}

// Queued reports whether the event currently belongs to some Queue.
func (e *Event) Queued() bool {
	return e.queued
}

// Queue is a doubly-linked list of *Event sorted ascending by TimeNS.
// It is not safe for concurrent use; the engine's single-threaded loop
// owns it exclusively.
type Queue struct {
	head, tail *Event
	len        int
}

// Len returns the number of events currently queued.
func (q *Queue) Len() int {
	return q.len
}

// Enqueue inserts e in time order, scanning from the tail since new
// events are usually scheduled in the future and land near the end.
// Among events with equal TimeNS, e is inserted after the existing
// entries (FIFO stability).
func (q *Queue) Enqueue(e *Event) {
	if e.queued {
		panic("queue: event already queued")
	}
	e.queued = true

	if q.tail == nil {
		q.head, q.tail = e, e
		e.prev, e.next = nil, nil
		q.len++
		return
	}

	cur := q.tail
	for cur != nil && cur.TimeNS > e.TimeNS {
		cur = cur.prev
	}

	if cur == nil {
		// e belongs before the current head.
		e.next = q.head
		e.prev = nil
		q.head.prev = e
		q.head = e
	} else {
		e.next = cur.next
		e.prev = cur
		if cur.next != nil {
			cur.next.prev = e
		} else {
			q.tail = e
		}
		cur.next = e
	}
	q.len++
}

// DequeueHead removes and returns the earliest-deadline event, or nil if
// the queue is empty.
func (q *Queue) DequeueHead() *Event {
	e := q.head
	if e == nil {
		return nil
	}
	q.Remove(e)
	return e
}

// Remove unlinks e from the queue. e is assumed to be a current member.
func (q *Queue) Remove(e *Event) {
	if !e.queued {
		return
	}

	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}

	e.prev, e.next = nil, nil
	e.queued = false
	q.len--
}

// PeekHeadTime returns the TimeNS of the earliest-deadline event and
// true, or (0, false) if the queue is empty.
func (q *Queue) PeekHeadTime() (int64, bool) {
	if q.head == nil {
		return 0, false
	}
	return q.head.TimeNS, true
}

// Head returns the earliest-deadline event without removing it, or nil.
func (q *Queue) Head() *Event {
	return q.head
}
