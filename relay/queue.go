package relay

import "github.com/jimchat/jimchat/jim"

// Queue holds message envelopes waiting for delivery, in arrival order.
type Queue struct {
	items []*jim.Message
}

// Push appends m to the tail of the queue.
func (q *Queue) Push(m *jim.Message) {
	q.items = append(q.items, m)
}

// Len returns the number of pending envelopes.
func (q *Queue) Len() int {
	return len(q.items)
}

// Drain removes and returns every pending envelope, oldest first.
func (q *Queue) Drain() []*jim.Message {
	items := q.items
	q.items = nil
	return items
}
