package provider

import "sync/atomic"

// FrameQueue is a bounded buffer between the socket writer and its
// producers. When full, the oldest frame is dropped so live audio never
// backs up behind stale audio.
type FrameQueue struct {
	ch      chan []byte
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{ch: make(chan []byte, capacity)}
}

// Push enqueues a frame, evicting the oldest frame when the queue is full.
// It never blocks.
func (q *FrameQueue) Push(frame []byte) {
	for {
		select {
		case q.ch <- frame:
			return
		default:
			select {
			case <-q.ch:
				q.dropped.Add(1)
			default:
			}
		}
	}
}

// C exposes the receive side for the consumer goroutine.
func (q *FrameQueue) C() <-chan []byte {
	return q.ch
}

// Dropped reports how many frames were evicted under backpressure.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len reports the current queue depth.
func (q *FrameQueue) Len() int {
	return len(q.ch)
}
