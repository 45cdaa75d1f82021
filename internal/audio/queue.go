package audio

import "sync"

// DropFunc is invoked for every frame evicted from a full queue.
type DropFunc func(Frame)

// Queue is the bounded buffer between capture and segmentation. On overflow
// the oldest unconsumed frames are evicted first: stale audio is useless for
// live commands, so recency wins over completeness.
type Queue struct {
	mu     sync.Mutex
	ch     chan Frame
	onDrop DropFunc
	closed bool
}

// NewQueue creates a queue with the given capacity. onDrop may be nil.
func NewQueue(capacity int, onDrop DropFunc) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{ch: make(chan Frame, capacity), onDrop: onDrop}
}

// Push enqueues a frame, evicting the oldest entries if the queue is full.
// Returns the number of frames dropped to make room.
func (q *Queue) Push(f Frame) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}

	dropped := 0
	for {
		select {
		case q.ch <- f:
			return dropped
		default:
		}
		select {
		case old := <-q.ch:
			dropped++
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
			// Consumer drained the queue between selects; retry the send.
		}
	}
}

// Frames returns the consumer side of the queue. The channel is closed by
// Close once the producer has stopped.
func (q *Queue) Frames() <-chan Frame {
	return q.ch
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close seals the queue. The producer must not Push afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
