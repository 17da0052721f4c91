package can

import (
	"sync"
	"time"
)

// Queue is a bounded frame queue between a producer and Channel.Receive.
// When full, the oldest frame is dropped so fresh responses win.
type Queue struct {
	ch chan Frame
	mu sync.Mutex
}

// NewQueue returns a queue holding at most size frames.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Frame, size)}
}

// Push enqueues f without blocking.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Receive waits up to wait for the first frame, then takes whatever else is
// already queued, up to max frames.
func (q *Queue) Receive(max int, wait time.Duration) []Frame {
	if max <= 0 {
		max = 1
	}
	var out []Frame
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case f := <-q.ch:
		out = append(out, f)
	case <-timer.C:
		return nil
	}
	for len(out) < max {
		select {
		case f := <-q.ch:
			out = append(out, f)
		default:
			return out
		}
	}
	return out
}

// Len reports the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}
