package alert

import (
	"context"
	"sync"
	"time"

	"guardian/internal/timeutil"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs short background tasks (sound playback, flash expiry)
// with a cap on how many may be outstanding at once.
type Scheduler struct {
	sem    *semaphore.Weighted
	clock  timeutil.Clock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  int
	dropped uint64
	closed  bool
}

func NewScheduler(limit int, clock timeutil.Clock) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sem:    semaphore.NewWeighted(int64(limit)),
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in its own goroutine if a slot is free. It returns false when
// the scheduler is saturated or closed; fn is not run in that case.
func (s *Scheduler) Go(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed || !s.sem.TryAcquire(1) {
		s.dropped++
		s.mu.Unlock()
		return false
	}
	s.active++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.sem.Release(1)
			s.wg.Done()
		}()
		fn(s.ctx)
	}()
	return true
}

// After runs fn once d has elapsed, or early when the scheduler closes.
func (s *Scheduler) After(d time.Duration, fn func()) bool {
	return s.Go(func(ctx context.Context) {
		timeutil.Sleep(s.clock, d, ctx.Done())
		fn()
	})
}

func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close cancels running tasks and waits up to timeout for them to return.
// It reports whether every task finished in time.
func (s *Scheduler) Close(timeout time.Duration) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}
