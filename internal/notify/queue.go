package notify

import "sync"

// eventQueue is an unbounded, thread-safe FIFO of change events. Producers
// never block; the notifier loop waits on Wait for new events.
type eventQueue struct {
	mu     sync.Mutex
	events []ChangeEvent
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wake-ups
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]ChangeEvent, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue runs stamp on e and appends it under the same lock, so values
// assigned by stamp follow queue order. The stamped event is returned
// even when the queue is closed and e was dropped.
func (q *eventQueue) Enqueue(e ChangeEvent, stamp func(*ChangeEvent)) (ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if stamp != nil {
		stamp(&e)
	}
	if q.closed {
		return e, false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return e, true
}

// DrainAll removes and returns every queued event in FIFO order.
func (q *eventQueue) DrainAll() []ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]ChangeEvent, 0, 64)
	return out
}

// Wait returns a channel that receives when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close refuses later events and discards the queued ones. It returns how
// many were discarded.
func (q *eventQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.events)
	q.events = nil
	close(q.signal)
	return dropped
}
