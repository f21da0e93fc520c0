package messaging

import "sync"

// outboundQueue is the unbounded in-memory FIFO between Publish callers
// and the drain goroutine. Many producers push, one consumer takes.
// Requeued batches go back on the tail, so ordering across requeues is
// not preserved.
type outboundQueue struct {
	mu     sync.Mutex
	events []Event
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{}
}

// push appends events at the tail.
func (q *outboundQueue) push(events ...Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, events...)
}

// take removes and returns up to n events from the head without blocking.
func (q *outboundQueue) take(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	if n > len(q.events) {
		n = len(q.events)
	}

	batch := make([]Event, n)
	copy(batch, q.events)
	q.events = q.events[n:]
	if len(q.events) == 0 {
		q.events = nil // release the drained backing array
	}
	return batch
}

// depth returns the number of queued events.
func (q *outboundQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
