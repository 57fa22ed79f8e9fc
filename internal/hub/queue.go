package hub

import (
	"context"
	"sync"
)

// priority orders outbound messages for backpressure eviction. Lower
// values are dropped first when the queue is full (spec §4.13): thought
// steps go first, then tool_result, while tool_call and final_answer (and
// control frames) are preserved.
type priority int

const (
	priorityThought priority = iota
	priorityToolResult
	priorityPreserved // tool_call, final_answer, connected, pong, error, done
)

type queuedMessage struct {
	priority priority
	data     []byte
	isFinal  bool
}

// outboundQueue is the Session Hub's single-writer, single-reader bounded
// FIFO (spec §3, §4.13, §5): the run's step drain is the sole writer, the
// network sender the sole reader. When full it evicts the lowest-priority
// buffered message rather than blocking the writer; if a final_answer
// itself cannot be enqueued, Push reports that the connection must close
// with a Backpressure error.
type outboundQueue struct {
	mu       sync.Mutex
	cap      int
	items    []queuedMessage
	notifyCh chan struct{}
	closed   bool
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outboundQueue{cap: capacity, notifyCh: make(chan struct{}, 1)}
}

// Push enqueues data at the given priority. It returns backpressureFatal
// true if the queue was full of preserved messages and data (itself a
// final_answer) could not be made to fit — the caller must then emit
// error{Backpressure} and close the connection.
func (q *outboundQueue) Push(p priority, data []byte, isFinal bool) (backpressureFatal bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	for len(q.items) >= q.cap {
		if !q.evictLowestPriority() {
			if isFinal {
				return true
			}
			// Nothing droppable and this message isn't itself the
			// final_answer: best effort, silently refuse the enqueue.
			return false
		}
	}

	q.items = append(q.items, queuedMessage{priority: p, data: data, isFinal: isFinal})
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return false
}

// evictLowestPriority drops the oldest thought step if any exist, else the
// oldest tool_result, else reports nothing was evictable.
func (q *outboundQueue) evictLowestPriority() bool {
	for _, target := range []priority{priorityThought, priorityToolResult} {
		for i, it := range q.items {
			if it.priority == target {
				q.items = append(q.items[:i], q.items[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Pop blocks until a message is available, the queue is closed, or ctx is
// done.
func (q *outboundQueue) Pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg.data, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notifyCh:
		}
	}
}

func (q *outboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}
