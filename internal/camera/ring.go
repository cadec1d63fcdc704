package camera

import (
	"context"
	"sync"

	"guardian/internal/models"
)

// Ring is a fixed-capacity frame buffer. Offer never blocks: when the ring
// is full the oldest frame is dropped to make room.
type Ring struct {
	mu      sync.Mutex
	buf     []models.Frame
	head    int
	count   int
	evicted uint64
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:   make([]models.Frame, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Offer appends f and reports whether an older frame was evicted for it.
func (r *Ring) Offer(f models.Frame) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	evicted := false
	if r.count == len(r.buf) {
		r.buf[r.head] = models.Frame{}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.evicted++
		evicted = true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = f
	r.count++
	r.mu.Unlock()

	r.signal()
	return evicted
}

func (r *Ring) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *Ring) tryPop() (models.Frame, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return models.Frame{}, false, r.closed
	}
	f := r.buf[r.head]
	r.buf[r.head] = models.Frame{}
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	if r.count > 0 {
		r.signal()
	}
	return f, true, r.closed
}

// Pop removes the oldest frame, waiting until one arrives, the ring is
// closed or ctx ends.
func (r *Ring) Pop(ctx context.Context) (models.Frame, error) {
	for {
		f, ok, closed := r.tryPop()
		if ok {
			return f, nil
		}
		if closed {
			return models.Frame{}, ErrSourceClosed
		}
		select {
		case <-r.ready:
		case <-r.done:
		case <-ctx.Done():
			return models.Frame{}, ctx.Err()
		}
	}
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

func (r *Ring) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Close drops buffered frames and wakes every waiting Pop.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for i := range r.buf {
		r.buf[i] = models.Frame{}
	}
	r.count = 0
	close(r.done)
}
