// Package alert accepts alert requests from any goroutine and fans each
// alert out to visual, audio, log and listener sinks from a single worker.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/timeutil"
)

var ErrDispatcherClosed = errors.New("alert dispatcher closed")

type Option func(*Dispatcher)

func WithClock(c timeutil.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

func WithPlayer(p Player) Option {
	return func(d *Dispatcher) {
		d.player = p
	}
}

func WithVisualSink(v VisualSink) Option {
	return func(d *Dispatcher) {
		d.visual = v
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

func WithListener(name string, l Listener) Option {
	return func(d *Dispatcher) {
		d.listeners.add(name, l)
	}
}

// WithPollInterval bounds how long the worker blocks on an empty queue
// before rechecking for shutdown.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.pollInterval = interval
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.shutdownTimeout = timeout
	}
}

type TriggerOption func(*models.Alert)

func AtLocation(p models.Point) TriggerOption {
	return func(a *models.Alert) {
		a.Location = &p
	}
}

func WithConfidence(c float64) TriggerOption {
	return func(a *models.Alert) {
		a.Confidence = &c
	}
}

func FromCamera(id string) TriggerOption {
	return func(a *models.Alert) {
		a.Camera = id
	}
}

type Settings struct {
	Volume        float64 `json:"volume"`
	AudioEnabled  bool    `json:"audio_enabled"`
	VisualEnabled bool    `json:"visual_enabled"`
}

type Stats struct {
	Total          int                     `json:"total"`
	Active         int                     `json:"active"`
	ByType         map[string]int          `json:"by_type"`
	BySeverity     map[models.Severity]int `json:"by_severity"`
	Recent         int                     `json:"recent"`
	Queued         int                     `json:"queued"`
	Flashing       int                     `json:"flashing"`
	ScheduledTasks int                     `json:"scheduled_tasks"`
	DroppedTasks   uint64                  `json:"dropped_tasks"`
	SinkFailures   map[string]int          `json:"sink_failures"`
}

type flash struct {
	alert models.Alert
	color string
}

// VisualAlert is an alert that is currently flashing.
type VisualAlert struct {
	Alert models.Alert `json:"alert"`
	Color string       `json:"color"`
}

type Dispatcher struct {
	clock           timeutil.Clock
	log             *logger.Logger
	policy          Policy
	flashDuration   time.Duration
	repeatPause     time.Duration
	pollInterval    time.Duration
	shutdownTimeout time.Duration

	player    Player
	visual    VisualSink
	recorder  Recorder
	listeners *registry
	failures  sinkFailures

	queue   *queue
	sched   *Scheduler
	counter atomic.Uint64

	lifeMu  sync.RWMutex
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	maxJobs int

	settingsMu sync.RWMutex
	settings   Settings

	// written only by the worker
	mu       sync.RWMutex
	history  []*models.Alert
	byID     map[string]*models.Alert
	active   int
	flashing map[string]flash
}

// NewDispatcher builds a dispatcher and starts its worker.
func NewDispatcher(cfg models.AlertConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clock:           timeutil.RealClock{},
		policy:          NewPolicy(cfg.Severities),
		flashDuration:   cfg.FlashDuration,
		repeatPause:     cfg.RepeatPause,
		pollInterval:    time.Second,
		shutdownTimeout: 2 * time.Second,
		listeners:       newRegistry(),
		queue:           newQueue(),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		maxJobs:         cfg.MaxScheduled,
		byID:            make(map[string]*models.Alert),
		flashing:        make(map[string]flash),
		settings: Settings{
			Volume:        clamp01(cfg.Volume),
			AudioEnabled:  !cfg.Muted,
			VisualEnabled: !cfg.VisualDisabled,
		},
	}
	if d.flashDuration <= 0 {
		d.flashDuration = time.Second
	}
	if d.repeatPause < 0 {
		d.repeatPause = 0
	}
	if d.maxJobs < 1 {
		d.maxJobs = 32
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sched = NewScheduler(d.maxJobs, d.clock)

	go d.run()
	return d
}

// Trigger queues a new alert and returns its id without waiting for any
// sink. It returns "" once the dispatcher is closed.
func (d *Dispatcher) Trigger(alertType, message string, severity models.Severity, opts ...TriggerOption) string {
	sev, err := models.ParseSeverity(string(severity))
	if err != nil {
		d.log.Warnf("Alert %q has %v, treating as low", alertType, err)
		sev = models.SeverityLow
	}

	now := d.clock.Now().UTC().Round(0)
	a := models.Alert{
		ID:        fmt.Sprintf("%s_%d_%d", alertType, now.Unix(), d.counter.Add(1)),
		Type:      alertType,
		Message:   message,
		Severity:  sev,
		CreatedAt: now,
	}
	for _, opt := range opts {
		opt(&a)
	}

	d.lifeMu.RLock()
	defer d.lifeMu.RUnlock()
	if d.closed {
		d.log.Warnf("Dropping alert %q: dispatcher closed", alertType)
		return ""
	}
	d.queue.push(request{kind: requestCreate, alert: a})
	return a.ID
}

// TriggerRequest queues a manual trigger received from an outer surface.
func (d *Dispatcher) TriggerRequest(req models.TriggerRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	sev := req.Severity
	if sev == "" {
		sev = models.SeverityMedium
	}
	var opts []TriggerOption
	if req.Location != nil {
		opts = append(opts, AtLocation(*req.Location))
	}
	if req.Confidence != nil {
		opts = append(opts, WithConfidence(*req.Confidence))
	}
	if req.Camera != "" {
		opts = append(opts, FromCamera(req.Camera))
	}
	id := d.Trigger(req.Type, req.Message, sev, opts...)
	if id == "" {
		return "", ErrDispatcherClosed
	}
	return id, nil
}

// Resolve marks an alert resolved. It goes through the same queue as
// Trigger, so resolving right after triggering is safe. Unknown or already
// resolved ids are ignored.
func (d *Dispatcher) Resolve(id string) {
	at := d.clock.Now().UTC().Round(0)

	d.lifeMu.RLock()
	defer d.lifeMu.RUnlock()
	if d.closed {
		return
	}
	d.queue.push(request{kind: requestResolve, id: id, at: at})
}

// Sync blocks until every request queued before the call has been handled.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})

	d.lifeMu.RLock()
	if d.closed {
		d.lifeMu.RUnlock()
		return ErrDispatcherClosed
	}
	d.queue.push(request{kind: requestBarrier, done: done})
	d.lifeMu.RUnlock()

	select {
	case <-done:
		return nil
	case <-d.done:
		select {
		case <-done:
			return nil
		default:
			return ErrDispatcherClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	d.log.Debugf("Alert worker started")

	for {
		if r, ok := d.queue.pop(d.stop, d.pollInterval); ok {
			d.handle(r)
			continue
		}
		select {
		case <-d.stop:
			d.drain()
			d.log.Debugf("Alert worker stopped")
			return
		default:
		}
	}
}

// drain handles whatever was queued before Close so no alert is lost.
func (d *Dispatcher) drain() {
	for {
		r, ok := d.queue.tryPop()
		if !ok {
			return
		}
		d.handle(r)
	}
}

func (d *Dispatcher) handle(r request) {
	switch r.kind {
	case requestCreate:
		d.dispatch(r.alert)
	case requestResolve:
		d.resolve(r.id, r.at)
	case requestBarrier:
		close(r.done)
	}
}

func (d *Dispatcher) dispatch(a models.Alert) {
	stored := a.Clone()
	d.mu.Lock()
	d.history = append(d.history, &stored)
	d.byID[stored.ID] = &stored
	d.active++
	d.mu.Unlock()

	settings := d.Settings()
	d.logAlert(a)
	d.record(models.AlertCreated, a)
	if settings.VisualEnabled {
		d.showVisual(a)
	}
	if settings.AudioEnabled {
		d.playSound(a, settings.Volume)
	}
	for _, nl := range d.listeners.snapshot() {
		l := nl.l
		snap := a.Clone()
		isolate(d.log, &d.failures, "listener "+nl.name, func() error { return l.OnAlert(snap) })
	}
}

func (d *Dispatcher) logAlert(a models.Alert) {
	var b strings.Builder
	fmt.Fprintf(&b, "ALERT - Type: %s, Severity: %s, Message: %s", a.Type, a.Severity, a.Message)
	if a.Confidence != nil {
		fmt.Fprintf(&b, ", Confidence: %.2f", *a.Confidence)
	}
	if a.Location != nil {
		fmt.Fprintf(&b, ", Location: %s", a.Location)
	}
	d.log.Info(b.String())
}

func (d *Dispatcher) record(kind models.AlertEventKind, a models.Alert) {
	if d.recorder == nil {
		return
	}
	ev := models.AlertEvent{Kind: kind, Alert: a.Clone(), RecordedAt: d.clock.Now().UTC()}
	isolate(d.log, &d.failures, "recorder", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.recorder.Record(ctx, ev)
	})
}

func (d *Dispatcher) showVisual(a models.Alert) {
	color := d.policy.Color(a.Severity)
	d.mu.Lock()
	d.flashing[a.ID] = flash{alert: a.Clone(), color: color}
	d.mu.Unlock()

	if d.visual != nil {
		snap := a.Clone()
		isolate(d.log, &d.failures, "visual", func() error { return d.visual.Show(snap, color) })
	}

	if !d.sched.After(d.flashDuration, func() { d.expireVisual(a) }) {
		d.log.Warnf("Scheduler saturated, ending flash for %s immediately", a.ID)
		d.expireVisual(a)
	}
}

func (d *Dispatcher) expireVisual(a models.Alert) {
	d.mu.Lock()
	_, ok := d.flashing[a.ID]
	delete(d.flashing, a.ID)
	d.mu.Unlock()

	if ok && d.visual != nil {
		snap := a.Clone()
		isolate(d.log, &d.failures, "visual", func() error { return d.visual.Expire(snap) })
	}
}

func (d *Dispatcher) playSound(a models.Alert, volume float64) {
	if d.player == nil {
		return
	}
	sound, repeats := d.policy.Sound(a)
	ok := d.sched.Go(func(ctx context.Context) {
		for i := 0; i < repeats; i++ {
			if i > 0 && !timeutil.Sleep(d.clock, d.repeatPause, ctx.Done()) {
				return
			}
			isolate(d.log, &d.failures, "audio", func() error { return d.player.Play(ctx, sound, volume) })
		}
	})
	if !ok {
		d.log.Warnf("Scheduler saturated, skipping sound %q for %s", sound, a.ID)
	}
}

func (d *Dispatcher) resolve(id string, at time.Time) {
	d.mu.Lock()
	stored, ok := d.byID[id]
	if !ok || stored.Resolved {
		d.mu.Unlock()
		d.log.Debugf("Ignoring resolve for unknown or resolved alert %s", id)
		return
	}
	if at.Before(stored.CreatedAt) {
		at = stored.CreatedAt
	}
	stored.Resolved = true
	stored.ResolvedAt = &at
	d.active--
	snap := stored.Clone()
	d.mu.Unlock()

	d.log.Infof("RESOLVED - Alert %s", id)
	d.record(models.AlertResolved, snap)
	for _, nl := range d.listeners.snapshot() {
		rl, ok := nl.l.(ResolveListener)
		if !ok {
			continue
		}
		a := snap.Clone()
		isolate(d.log, &d.failures, "listener "+nl.name, func() error { return rl.OnResolve(a) })
	}
}

// Alert looks up one alert by id.
func (d *Dispatcher) Alert(id string) (models.Alert, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	if !ok {
		return models.Alert{}, false
	}
	return a.Clone(), true
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (d *Dispatcher) ActiveAlerts() []models.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Alert, 0, d.active)
	for _, a := range d.history {
		if !a.Resolved {
			out = append(out, a.Clone())
		}
	}
	return out
}

// History returns the most recent limit alerts, oldest first. A limit of
// zero or less returns everything.
func (d *Dispatcher) History(limit int) []models.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(d.history) {
		start = len(d.history) - limit
	}
	out := make([]models.Alert, 0, len(d.history)-start)
	for _, a := range d.history[start:] {
		out = append(out, a.Clone())
	}
	return out
}

func (d *Dispatcher) VisualAlerts() []VisualAlert {
	d.mu.RLock()
	out := make([]VisualAlert, 0, len(d.flashing))
	for _, f := range d.flashing {
		out = append(out, VisualAlert{Alert: f.alert.Clone(), Color: f.color})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Alert.CreatedAt.Before(out[j].Alert.CreatedAt) })
	return out
}

func (d *Dispatcher) Stats() Stats {
	since := d.clock.Now().Add(-time.Hour)

	d.mu.RLock()
	st := Stats{
		Total:      len(d.history),
		Active:     d.active,
		ByType:     make(map[string]int),
		BySeverity: make(map[models.Severity]int),
		Flashing:   len(d.flashing),
	}
	for _, a := range d.history {
		st.ByType[a.Type]++
		st.BySeverity[a.Severity]++
		if !a.CreatedAt.Before(since) {
			st.Recent++
		}
	}
	d.mu.RUnlock()

	st.Queued = d.queue.len()
	st.ScheduledTasks = d.sched.Outstanding()
	st.DroppedTasks = d.sched.Dropped()
	st.SinkFailures = d.failures.snapshot()
	return st
}

func (d *Dispatcher) AddListener(name string, l Listener) {
	d.listeners.add(name, l)
	d.log.Debugf("Listener %s added", name)
}

func (d *Dispatcher) RemoveListener(name string) bool {
	return d.listeners.remove(name)
}

func (d *Dispatcher) Listeners() []string {
	return d.listeners.names()
}

func (d *Dispatcher) Settings() Settings {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.settings
}

// SetVolume clamps v to [0, 1] and returns the value applied.
func (d *Dispatcher) SetVolume(v float64) float64 {
	v = clamp01(v)
	d.settingsMu.Lock()
	d.settings.Volume = v
	d.settingsMu.Unlock()
	d.log.Infof("Volume set to %.2f", v)
	return v
}

func (d *Dispatcher) SetAudioEnabled(enabled bool) {
	d.settingsMu.Lock()
	d.settings.AudioEnabled = enabled
	d.settingsMu.Unlock()
	d.log.Infof("Audio alerts enabled: %t", enabled)
}

func (d *Dispatcher) SetVisualEnabled(enabled bool) {
	d.settingsMu.Lock()
	d.settings.VisualEnabled = enabled
	d.settingsMu.Unlock()
	d.log.Infof("Visual alerts enabled: %t", enabled)
}

// Close stops accepting alerts, lets the worker finish what is queued and
// cancels outstanding sound and flash tasks. Each wait is bounded.
func (d *Dispatcher) Close() error {
	d.lifeMu.Lock()
	if d.closed {
		d.lifeMu.Unlock()
		return nil
	}
	d.closed = true
	d.lifeMu.Unlock()

	close(d.stop)

	var err error
	timer := time.NewTimer(d.shutdownTimeout)
	select {
	case <-d.done:
	case <-timer.C:
		err = fmt.Errorf("alert worker did not stop within %v", d.shutdownTimeout)
	}
	timer.Stop()

	if !d.sched.Close(d.shutdownTimeout) {
		d.log.Warnf("Background alert tasks still running after %v", d.shutdownTimeout)
	}
	d.log.Infof("Alert dispatcher closed")
	return err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
