// Package engine runs one capture source, tracker and detection pipeline per
// configured camera.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"guardian/internal/camera"
	"guardian/internal/detection"
	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/timeutil"
	"guardian/internal/tracker"
)

var (
	ErrNotRunning    = errors.New("engine not running")
	ErrDuplicateID   = errors.New("camera already running")
	ErrUnknownCamera = errors.New("unknown camera")
)

type EngineOption func(*Engine)

func WithClock(c timeutil.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithSourceOptions passes extra options to every camera source.
func WithSourceOptions(opts ...camera.Option) EngineOption {
	return func(e *Engine) {
		e.sourceOpts = append(e.sourceOpts, opts...)
	}
}

func NewEngine(cameras []models.CameraConfig, detCfg models.DetectionConfig, trkCfg tracker.Config, opener camera.Opener, detector detection.Detector, alerter detection.Alerter, opts ...EngineOption) *Engine {
	engine := &Engine{
		cameras:       cameras,
		detection:     detCfg,
		trackerConfig: trkCfg,
		opener:        opener,
		detector:      detector,
		alerter:       alerter,
		clock:         timeutil.RealClock{},
		units:         make(map[string]*cameraUnit),
		threshold:     detCfg.ConfidenceThreshold,
	}

	for _, opt := range opts {
		opt(engine)
	}
	engine.log = engine.log.With("engine")

	return engine
}

// Run starts every configured camera and blocks until ctx is done. A camera
// that fails to open is logged and skipped. On return every pipeline has
// stopped, then every source.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.runCtx != nil {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.runCtx = ctx
	e.mu.Unlock()

	started := 0
	for _, cfg := range e.cameras {
		if err := e.AddCamera(cfg); err != nil {
			e.log.Errorf("Skipping camera %s: %v", cfg.ID, err)
			continue
		}
		started++
	}
	e.log.Infof("Engine started with %d of %d cameras", started, len(e.cameras))

	<-ctx.Done()
	e.shutdown()
	e.log.Info("Engine stopped")
	return nil
}

// AddCamera opens and starts a camera while the engine is running.
func (e *Engine) AddCamera(cfg models.CameraConfig) error {
	e.mu.RLock()
	ctx := e.runCtx
	_, exists := e.units[cfg.ID]
	threshold := e.threshold
	stopping := e.stopping
	e.mu.RUnlock()

	if ctx == nil || stopping || ctx.Err() != nil {
		return ErrNotRunning
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}

	srcOpts := append([]camera.Option{camera.WithClock(e.clock), camera.WithLogger(e.log)}, e.sourceOpts...)
	src, err := camera.Open(ctx, cfg, e.opener, srcOpts...)
	if err != nil {
		return err
	}
	if err := src.Start(); err != nil {
		src.Stop()
		return err
	}

	camLog := e.log.With("tracker:" + cfg.ID)
	trk, err := tracker.New(e.trackerConfig, tracker.WithObserver(func(ev tracker.Event) {
		if ev.Kind != tracker.TrackUpdated {
			camLog.Debugf("Track %d (%s) %s at %s", ev.Track.ID, ev.Track.Label, ev.Kind, ev.Track.Center)
		}
	}))
	if err != nil {
		src.Stop()
		return err
	}

	detCfg := e.detection
	detCfg.ConfidenceThreshold = threshold
	pipeline := detection.NewPipeline(cfg.ID, src, e.detector, trk, e.alerter, detCfg,
		detection.WithClock(e.clock),
		detection.WithLogger(e.log),
	)

	unitCtx, cancel := context.WithCancel(ctx)
	unit := &cameraUnit{
		config:   cfg,
		source:   src,
		tracker:  trk,
		pipeline: pipeline,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	// shutdown may have run while the device was opening
	if e.stopping || ctx.Err() != nil {
		e.mu.Unlock()
		cancel()
		src.Stop()
		return ErrNotRunning
	}
	if _, exists := e.units[cfg.ID]; exists {
		e.mu.Unlock()
		cancel()
		src.Stop()
		return fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}
	e.units[cfg.ID] = unit
	e.order = append(e.order, cfg.ID)
	e.mu.Unlock()

	go func() {
		defer close(unit.done)
		pipeline.Run(unitCtx)
	}()

	e.log.Infof("Camera %s started (%dx%d@%dfps from %s)", cfg.ID, cfg.Width, cfg.Height, cfg.FPS, cfg.Source)
	return nil
}

// RemoveCamera stops the camera's pipeline and then its source.
func (e *Engine) RemoveCamera(id string) error {
	e.mu.Lock()
	unit, ok := e.units[id]
	if ok {
		delete(e.units, id)
		e.order = slices.DeleteFunc(e.order, func(v string) bool { return v == id })
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	return e.stopUnit(unit)
}

func (e *Engine) stopUnit(unit *cameraUnit) error {
	unit.cancel()
	<-unit.done
	return unit.source.Stop()
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopping = true
	units := make([]*cameraUnit, 0, len(e.order))
	for _, id := range e.order {
		units = append(units, e.units[id])
	}
	e.units = make(map[string]*cameraUnit)
	e.order = nil
	e.mu.Unlock()

	// pipelines first so no tick races a closing device
	for _, unit := range units {
		unit.cancel()
	}
	for _, unit := range units {
		<-unit.done
	}
	for _, unit := range units {
		if err := unit.source.Stop(); err != nil {
			e.log.Warnf("Camera %s stopped with error: %v", unit.config.ID, err)
		}
	}
}

func (e *Engine) snapshot() []*cameraUnit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	units := make([]*cameraUnit, 0, len(e.order))
	for _, id := range e.order {
		units = append(units, e.units[id])
	}
	return units
}

// Cameras reports the running cameras in start order.
func (e *Engine) Cameras() []camera.Info {
	units := e.snapshot()
	out := make([]camera.Info, 0, len(units))
	for _, u := range units {
		out = append(out, u.source.Info())
	}
	return out
}

func (e *Engine) PipelineStats() []detection.Stats {
	units := e.snapshot()
	out := make([]detection.Stats, 0, len(units))
	for _, u := range units {
		out = append(out, u.pipeline.Stats())
	}
	return out
}

// Tracks returns the live tracks of one camera.
func (e *Engine) Tracks(id string) ([]models.Track, error) {
	e.mu.RLock()
	unit, ok := e.units[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	return unit.tracker.Tracks(), nil
}

func (e *Engine) ConfidenceThreshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// SetConfidenceThreshold applies v to every running pipeline and to cameras
// added later. It returns the clamped value.
func (e *Engine) SetConfidenceThreshold(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.threshold = v
	e.mu.Unlock()

	for _, u := range e.snapshot() {
		u.pipeline.SetConfidenceThreshold(v)
	}
	return v
}
