package stream

import (
	"context"
	"sync"
)

// Queue is a fixed-capacity FIFO event buffer. When full, Push overwrites
// the oldest unread event so a slow or absent consumer never stalls the
// producer; consumers lose history instead of exerting backpressure.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	head    int // write position
	tail    int // read position
	full    bool
	dropped uint64

	// notify wakes a blocked Pop. Buffered so a Push that races a Pop's
	// empty-check never loses its wakeup.
	notify chan struct{}
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		buf:    make([]Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an event, dropping the oldest unread event when full.
// It reports whether an event was dropped.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	overwrote := q.full
	if q.full {
		// Overwrite: advance tail past the oldest event.
		q.tail = (q.tail + 1) % len(q.buf)
		q.dropped++
	}
	q.buf[q.head] = ev
	q.head = (q.head + 1) % len(q.buf)
	if q.head == q.tail {
		q.full = true
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// Pop removes and returns the oldest event, blocking until one is available
// or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.full || q.head != q.tail {
			ev := q.buf[q.tail]
			q.buf[q.tail] = Event{}
			q.tail = (q.tail + 1) % len(q.buf)
			q.full = false
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return len(q.buf)
	}
	return (q.head - q.tail + len(q.buf)) % len(q.buf)
}

// Dropped returns how many events have been discarded to overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
