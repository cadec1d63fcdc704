package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/timeutil"

	"github.com/google/uuid"
)

var (
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrCaptureTestFailed = errors.New("camera capture test failed")
	ErrSourceClosed      = errors.New("camera source closed")
)

// Device is an opened capture handle. Read returns one encoded image; the
// returned slice may be reused by the device on the next call.
type Device interface {
	Read() ([]byte, error)
	Close() error
}

// Opener opens the device described by a camera config.
type Opener interface {
	Open(ctx context.Context, cfg models.CameraConfig) (Device, error)
}

type OpenerFunc func(ctx context.Context, cfg models.CameraConfig) (Device, error)

func (f OpenerFunc) Open(ctx context.Context, cfg models.CameraConfig) (Device, error) {
	return f(ctx, cfg)
}

type Info struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	FPS               int       `json:"fps"`
	Running           bool      `json:"running"`
	FramesCaptured    uint64    `json:"frames_captured"`
	FramesOverwritten uint64    `json:"frames_overwritten"`
	ReadFailures      uint64    `json:"read_failures"`
	RingEvicted       uint64    `json:"ring_evicted"`
	RingLength        int       `json:"ring_length"`
	LastFrameAt       time.Time `json:"last_frame_at"`
}

type Option func(*Source)

func WithClock(c timeutil.Clock) Option {
	return func(s *Source) {
		s.clock = c
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

// WithRetryBackoff sets the first and the maximum wait after a failed read.
func WithRetryBackoff(initial, maxWait time.Duration) Option {
	return func(s *Source) {
		s.retryInitial = initial
		s.retryMax = maxWait
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.stopTimeout = d
	}
}

// Source runs one camera's capture loop. The newest frame sits in a
// single-slot mailbox that the loop swaps atomically; a small ring keeps
// recent frames for stream consumers.
type Source struct {
	cfg    models.CameraConfig
	device Device
	ring   *Ring
	clock  timeutil.Clock
	log    *logger.Logger

	retryInitial time.Duration
	retryMax     time.Duration
	stopTimeout  time.Duration

	latest  atomic.Pointer[models.Frame]
	stopped atomic.Bool

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	seq         atomic.Uint64
	overwritten atomic.Uint64
	failures    atomic.Uint64
	lastFrameAt atomic.Int64
}

// Open opens the device and performs one test read. The test frame is
// discarded so Latest reports nothing until the capture loop runs.
func Open(ctx context.Context, cfg models.CameraConfig, opener Opener, opts ...Option) (*Source, error) {
	dev, err := opener.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %s: %v", ErrDeviceUnavailable, cfg.ID, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: camera %s: no device", ErrDeviceUnavailable, cfg.ID)
	}
	if _, err := dev.Read(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: camera %s: %v", ErrCaptureTestFailed, cfg.ID, err)
	}

	ringCap := cfg.RingCapacity
	if ringCap < 1 {
		ringCap = 2
	}
	s := &Source{
		cfg:          cfg,
		device:       dev,
		ring:         NewRing(ringCap),
		clock:        timeutil.RealClock{},
		retryInitial: 100 * time.Millisecond,
		retryMax:     2 * time.Second,
		stopTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Infof("Camera %s opened (%s, %dx%d @ %d fps)", cfg.ID, cfg.Source, cfg.Width, cfg.Height, cfg.FPS)
	return s, nil
}

func (s *Source) ID() string {
	return s.cfg.ID
}

// Start launches the capture loop. Calling it while running is a no-op.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.log.Debugf("Camera %s capture loop started", s.cfg.ID)
	return nil
}

func (s *Source) frameInterval() time.Duration {
	if s.cfg.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(s.cfg.FPS)
}

func (s *Source) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	attempt := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := s.device.Read()
		if err != nil {
			attempt++
			s.failures.Add(1)
			wait := Backoff(attempt, s.retryInitial, s.retryMax)
			s.log.Warnf("Camera %s read failed (attempt %d), retrying in %v: %v", s.cfg.ID, attempt, wait, err)
			if !timeutil.Sleep(s.clock, wait, stop) {
				return
			}
			continue
		}
		if attempt > 0 {
			s.log.Infof("Camera %s recovered after %d failed reads", s.cfg.ID, attempt)
			attempt = 0
		}

		s.publish(raw)

		if !timeutil.Sleep(s.clock, s.frameInterval(), stop) {
			return
		}
	}
}

func (s *Source) publish(raw []byte) {
	if s.stopped.Load() {
		return
	}
	now := s.clock.Now()
	frame := &models.Frame{
		ID:        uuid.NewString(),
		SourceID:  s.cfg.ID,
		Seq:       s.seq.Add(1),
		Timestamp: now,
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      bytes.Clone(raw),
	}
	if old := s.latest.Swap(frame); old != nil {
		s.overwritten.Add(1)
	}
	s.lastFrameAt.Store(now.UnixNano())
	s.ring.Offer(frame.Clone())
}

// Latest returns a private copy of the newest frame, or false when nothing
// has been captured yet or the source is stopped.
func (s *Source) Latest() (models.Frame, bool) {
	if s.stopped.Load() {
		return models.Frame{}, false
	}
	f := s.latest.Load()
	if f == nil {
		return models.Frame{}, false
	}
	return f.Clone(), true
}

// Stream pops the oldest buffered frame, waiting up to timeout for one to
// arrive. A non-positive timeout waits until ctx ends.
func (s *Source) Stream(ctx context.Context, timeout time.Duration) (models.Frame, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.ring.Pop(ctx)
}

// Stop ends the capture loop, waiting a bounded time for it to exit, and
// always releases the device.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.running
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.stopped.Store(true)
	if running {
		close(stop)
		timer := time.NewTimer(s.stopTimeout)
		select {
		case <-done:
		case <-timer.C:
			s.log.Warnf("Camera %s capture loop did not exit within %v, releasing device anyway", s.cfg.ID, s.stopTimeout)
		}
		timer.Stop()
	}

	s.latest.Store(nil)
	s.ring.Close()

	if err := s.device.Close(); err != nil {
		return fmt.Errorf("failed to close camera %s: %w", s.cfg.ID, err)
	}
	s.log.Infof("Camera %s stopped", s.cfg.ID)
	return nil
}

func (s *Source) Info() Info {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	info := Info{
		ID:                s.cfg.ID,
		Source:            s.cfg.Source,
		Width:             s.cfg.Width,
		Height:            s.cfg.Height,
		FPS:               s.cfg.FPS,
		Running:           running,
		FramesCaptured:    s.seq.Load(),
		FramesOverwritten: s.overwritten.Load(),
		ReadFailures:      s.failures.Load(),
		RingEvicted:       s.ring.Evicted(),
		RingLength:        s.ring.Len(),
	}
	if ns := s.lastFrameAt.Load(); ns != 0 {
		info.LastFrameAt = time.Unix(0, ns)
	}
	return info
}

// Backoff doubles initial per failed attempt, capped at maxWait.
func Backoff(attempt int, initial, maxWait time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxWait || d <= 0 {
			return maxWait
		}
	}
	if d > maxWait {
		return maxWait
	}
	return d
}
