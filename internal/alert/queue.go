package alert

import (
	"sync"
	"time"

	"guardian/internal/models"
)

type requestKind int

const (
	requestCreate requestKind = iota
	requestResolve
	requestBarrier
)

type request struct {
	kind  requestKind
	alert models.Alert
	id    string
	at    time.Time
	done  chan struct{}
}

// queue is an unbounded FIFO for many producers and one consumer. push
// never blocks.
type queue struct {
	mu     sync.Mutex
	items  []request
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(r request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) tryPop() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return request{}, false
	}
	r := q.items[0]
	q.items[0] = request{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// let the backing array go once drained
		q.items = nil
	}
	return r, true
}

// pop waits up to timeout for the next request. ok is false on timeout or
// when stop closes.
func (q *queue) pop(stop <-chan struct{}, timeout time.Duration) (request, bool) {
	if r, ok := q.tryPop(); ok {
		return r, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if r, ok := q.tryPop(); ok {
				return r, true
			}
		case <-stop:
			return request{}, false
		case <-timer.C:
			return request{}, false
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
