// Package detection turns camera frames into tracked detections and raises
// alerts for suspicious activity.
package detection

import (
	"context"
	"sort"
	"sync"
	"time"

	"guardian/internal/alert"
	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/timeutil"

	"github.com/samber/lo"
)

// FrameProvider yields the newest frame of one camera
type FrameProvider interface {
	Latest() (models.Frame, bool)
}

type ObjectTracker interface {
	Update(detections []models.Detection, now time.Time) []models.Detection
	Track(id models.TrackID) (models.Track, bool)
	Len() int
}

type Alerter interface {
	Trigger(alertType, message string, severity models.Severity, opts ...alert.TriggerOption) string
}

type Option func(*Pipeline)

func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// Result describes one processed tick
type Result struct {
	Skipped    bool
	Detections []models.Detection
	Activities []models.SuspiciousActivity
}

type Stats struct {
	Camera              string         `json:"camera"`
	Ticks               uint64         `json:"ticks"`
	SkippedTicks        uint64         `json:"skipped_ticks"`
	DetectorFailures    uint64         `json:"detector_failures"`
	TotalDetections     uint64         `json:"total_detections"`
	LastDetections      int            `json:"last_detections"`
	TrackedObjects      int            `json:"tracked_objects"`
	ClassesDetected     []string       `json:"classes_detected"`
	AverageConfidence   float64        `json:"average_confidence"`
	FPS                 float64        `json:"fps"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	Alerts              map[string]int `json:"alerts"`
}

// fpsWindow is the span over which processed ticks are counted
const fpsWindow = time.Second

type Pipeline struct {
	camera   string
	source   FrameProvider
	detector Detector
	tracker  ObjectTracker
	alerter  Alerter
	config   models.DetectionConfig
	clock    timeutil.Clock
	log      *logger.Logger

	// tickMu serializes ticks so the tracker sees one update at a time
	tickMu sync.Mutex

	mu        sync.RWMutex
	threshold float64
	stats     Stats
	tickTimes []time.Time
}

func NewPipeline(camera string, src FrameProvider, detector Detector, trk ObjectTracker, alerter Alerter, cfg models.DetectionConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		camera:    camera,
		source:    src,
		detector:  detector,
		tracker:   trk,
		alerter:   alerter,
		config:    cfg,
		clock:     timeutil.RealClock{},
		threshold: clamp01(cfg.ConfidenceThreshold),
		stats: Stats{
			Camera: camera,
			Alerts: make(map[string]int),
		},
	}

	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("detection:" + camera)

	return p
}

func (p *Pipeline) Camera() string {
	return p.camera
}

// Run ticks at the configured interval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	interval := p.config.TickInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	p.log.Infof("Pipeline started (tick %s)", interval)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Pipeline stopped")
			return
		case <-ticker.C():
			p.Tick(ctx)
		}
	}
}

// Tick runs one detect, filter, track and evaluate pass over the newest
// frame. A tick without a frame is skipped and leaves the tracker untouched.
func (p *Pipeline) Tick(ctx context.Context) Result {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	frame, ok := p.source.Latest()
	if !ok {
		p.mu.Lock()
		p.stats.SkippedTicks++
		p.mu.Unlock()
		return Result{Skipped: true}
	}

	threshold := p.ConfidenceThreshold()

	raw, err := p.detector.Detect(ctx, frame, threshold)
	failed := err != nil
	if failed {
		p.log.Errorf("Detector failed on frame %s: %v", frame.ID, err)
		raw = nil
	}

	detections := Filter(raw, FilterConfig{
		MinConfidence: threshold,
		Classes:       p.config.Classes,
		MaxDetections: p.config.MaxDetections,
	})

	now := p.clock.Now()
	annotated := p.tracker.Update(detections, now)
	activities := Evaluate(p.camera, annotated, p.tracker, now, p.rules())

	for _, act := range activities {
		p.raise(act)
	}

	p.record(now, annotated, activities, failed)

	return Result{Detections: annotated, Activities: activities}
}

func (p *Pipeline) rules() RuleConfig {
	return RuleConfig{
		LoiteringDuration: p.config.LoiteringDuration,
		CrowdThreshold:    p.config.CrowdThreshold,
		MovementThreshold: p.config.MovementThreshold,
		Confidence:        p.config.ActivityConfidence,
	}
}

func (p *Pipeline) raise(act models.SuspiciousActivity) {
	severity, ok := p.config.ActivitySeverity[act.Type]
	if !ok || !severity.Valid() {
		severity = models.SeverityMedium
	}

	id := p.alerter.Trigger(string(act.Type), act.Description, severity,
		alert.AtLocation(act.Location),
		alert.WithConfidence(act.Confidence),
		alert.FromCamera(p.camera),
	)
	if id == "" {
		p.log.Warnf("Dropped %s alert, dispatcher closed", act.Type)
		return
	}
	p.log.Debugf("Raised %s as %s at %s", act.Type, id, act.Location)
}

func (p *Pipeline) record(now time.Time, detections []models.Detection, activities []models.SuspiciousActivity, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Ticks++
	if failed {
		p.stats.DetectorFailures++
	}
	p.stats.TotalDetections += uint64(len(detections))
	p.stats.LastDetections = len(detections)
	p.stats.ClassesDetected = lo.Uniq(lo.Map(detections, func(d models.Detection, _ int) string { return d.Label }))
	sort.Strings(p.stats.ClassesDetected)
	p.stats.AverageConfidence = 0
	if len(detections) > 0 {
		p.stats.AverageConfidence = lo.SumBy(detections, func(d models.Detection) float64 { return d.Confidence }) / float64(len(detections))
	}
	for _, act := range activities {
		p.stats.Alerts[string(act.Type)]++
	}

	p.tickTimes = append(p.tickTimes, now)
	p.tickTimes = lo.Filter(p.tickTimes, func(t time.Time, _ int) bool { return now.Sub(t) < fpsWindow })
}

func (p *Pipeline) ConfidenceThreshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// SetConfidenceThreshold changes the detection floor for subsequent ticks and
// returns the clamped value.
func (p *Pipeline) SetConfidenceThreshold(v float64) float64 {
	v = clamp01(v)
	p.mu.Lock()
	p.threshold = v
	p.mu.Unlock()
	p.log.Infof("Confidence threshold set to %.2f", v)
	return v
}

func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := p.stats
	out.TrackedObjects = p.tracker.Len()
	out.ConfidenceThreshold = p.threshold
	out.ClassesDetected = append([]string(nil), p.stats.ClassesDetected...)
	out.Alerts = lo.Assign(p.stats.Alerts)
	// ticks with a frame during the last second
	now := p.clock.Now()
	recent := lo.CountBy(p.tickTimes, func(t time.Time) bool { return now.Sub(t) < fpsWindow })
	out.FPS = float64(recent) / fpsWindow.Seconds()
	return out
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
