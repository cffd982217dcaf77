package store

import "github.com/randalmurphal/tally/pkg/tally/event"

// queue is a bounded FIFO of events indexed by client event id.
// It is not safe for concurrent use; callers hold their own lock.
type queue struct {
	buf  []event.Event
	head int
	ids  map[string]struct{}
	max  int
}

func newQueue(maxEvents int) *queue {
	return &queue{
		ids: make(map[string]struct{}),
		max: maxEvents,
	}
}

func (q *queue) len() int {
	return len(q.buf) - q.head
}

// push appends evt and evicts from the head until the bound holds.
// It reports whether evt was added.
func (q *queue) push(evt event.Event) bool {
	if _, dup := q.ids[evt.ClientEventID]; dup {
		return false
	}
	q.buf = append(q.buf, evt)
	q.ids[evt.ClientEventID] = struct{}{}
	for q.len() > q.max {
		delete(q.ids, q.buf[q.head].ClientEventID)
		q.buf[q.head] = event.Event{}
		q.head++
	}
	q.compact()
	return true
}

// compact reclaims the evicted prefix once it dominates the backing array.
func (q *queue) compact() {
	if q.head == 0 || q.head < len(q.buf)/2 {
		return
	}
	n := copy(q.buf, q.buf[q.head:])
	clear(q.buf[n:])
	q.buf = q.buf[:n]
	q.head = 0
}

func (q *queue) peek(limit int) []event.Event {
	if limit <= 0 {
		return []event.Event{}
	}
	limit = min(limit, q.len())
	out := make([]event.Event, limit)
	copy(out, q.buf[q.head:q.head+limit])
	return out
}

func (q *queue) all() []event.Event {
	return q.peek(q.len())
}

// remove drops the events whose ids appear in events and returns how many
// were removed.
func (q *queue) remove(events []event.Event) int {
	drop := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, ok := q.ids[e.ClientEventID]; ok {
			drop[e.ClientEventID] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := make([]event.Event, 0, q.len()-len(drop))
	for _, e := range q.buf[q.head:] {
		if _, ok := drop[e.ClientEventID]; ok {
			delete(q.ids, e.ClientEventID)
			continue
		}
		kept = append(kept, e)
	}
	q.buf = kept
	q.head = 0
	return len(drop)
}

func (q *queue) reset() {
	q.buf = nil
	q.head = 0
	q.ids = make(map[string]struct{})
}
