package alert

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"guardian/internal/logger"
	"guardian/internal/models"
)

// Listener is notified of every dispatched alert.
type Listener interface {
	OnAlert(a models.Alert) error
}

// ResolveListener is an optional extension of Listener for resolutions.
type ResolveListener interface {
	OnResolve(a models.Alert) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(a models.Alert) error

func (f ListenerFunc) OnAlert(a models.Alert) error { return f(a) }

// VisualSink flashes an alert and is told when the flash expires.
type VisualSink interface {
	Show(a models.Alert, color string) error
	Expire(a models.Alert) error
}

// Player plays a named sound once.
type Player interface {
	Play(ctx context.Context, sound string, volume float64) error
}

// Recorder appends alert lifecycle events to durable storage.
type Recorder interface {
	Record(ctx context.Context, ev models.AlertEvent) error
}

type registry struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func newRegistry() *registry {
	return &registry{listeners: make(map[string]Listener)}
}

func (r *registry) add(name string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[name] = l
}

func (r *registry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listeners[name]
	delete(r.listeners, name)
	return ok
}

type namedListener struct {
	name string
	l    Listener
}

func (r *registry) snapshot() []namedListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]namedListener, 0, len(r.listeners))
	for name, l := range r.listeners {
		out = append(out, namedListener{name: name, l: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *registry) names() []string {
	snap := r.snapshot()
	out := make([]string, len(snap))
	for i, nl := range snap {
		out[i] = nl.name
	}
	return out
}

// isolate runs fn, turning a panic into an error. Failures are logged and
// counted; they never reach the caller.
func isolate(log *logger.Logger, failures *sinkFailures, sink string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		return fn()
	}()
	if err != nil {
		failures.inc(sink)
		log.Errorf("Sink %s failed: %v", sink, err)
	}
}

type sinkFailures struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *sinkFailures) inc(sink string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[sink]++
}

func (s *sinkFailures) snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
