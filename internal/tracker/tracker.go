// Package tracker keeps object identities alive across detection ticks using
// greedy nearest-neighbour association.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"guardian/internal/models"

	"gonum.org/v1/gonum/floats"
)

var ErrInvalidConfig = errors.New("invalid tracker configuration")

type Config struct {
	// MaxDistance is the association threshold in pixels. A detection
	// joins a track when its center is within this distance (inclusive).
	MaxDistance float64
	// Timeout evicts a track once now - LastSeen exceeds it.
	Timeout time.Duration
	// HistoryLength bounds the rolling center history of each track.
	HistoryLength int
}

func DefaultConfig() Config {
	return Config{
		MaxDistance:   100,
		Timeout:       5 * time.Second,
		HistoryLength: 5,
	}
}

func ConfigFrom(cfg models.TrackerConfig) Config {
	return Config{
		MaxDistance:   cfg.MaxDistance,
		Timeout:       cfg.Timeout,
		HistoryLength: cfg.HistoryLength,
	}
}

type EventKind int

const (
	TrackCreated EventKind = iota
	TrackUpdated
	TrackEvicted
)

func (k EventKind) String() string {
	switch k {
	case TrackCreated:
		return "created"
	case TrackUpdated:
		return "updated"
	case TrackEvicted:
		return "evicted"
	}
	return "unknown"
}

type Event struct {
	Kind  EventKind
	Track models.Track
}

type Option func(*Tracker)

// WithObserver registers fn to receive track lifecycle events. It is called
// synchronously from Update.
func WithObserver(fn func(Event)) Option {
	return func(t *Tracker) {
		t.observer = fn
	}
}

// Tracker owns the live track table. Update must not be called concurrently;
// the read accessors are safe from any goroutine.
type Tracker struct {
	cfg      Config
	mu       sync.RWMutex
	tracks   map[models.TrackID]*models.Track
	order    []models.TrackID // ascending, oldest first
	lastID   models.TrackID
	observer func(Event)
}

func New(cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.MaxDistance <= 0 || math.IsNaN(cfg.MaxDistance) {
		return nil, fmt.Errorf("%w: max distance must be positive", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if cfg.HistoryLength < 1 {
		return nil, fmt.Errorf("%w: history length must be at least 1", ErrInvalidConfig)
	}

	t := &Tracker{
		cfg:    cfg,
		tracks: make(map[models.TrackID]*models.Track),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tracker) Config() Config {
	return t.cfg
}

// Update associates each detection, in list order, with the nearest live
// track of the same label. Equal distances resolve to the oldest track. A
// detection with no track within MaxDistance starts a new one, which later
// detections in the same call may join. Stale tracks are evicted last.
func (t *Tracker) Update(detections []models.Detection, now time.Time) []models.Detection {
	var events []Event

	t.mu.Lock()
	out := make([]models.Detection, len(detections))
	for i, det := range detections {
		if det.Center == (models.Point{}) && det.Box.Valid() {
			det.Center = det.Box.Center()
		}

		track := t.nearest(det)
		if track != nil {
			t.apply(track, det, now)
			events = append(events, Event{Kind: TrackUpdated, Track: track.Clone()})
		} else {
			track = t.create(det, now)
			events = append(events, Event{Kind: TrackCreated, Track: track.Clone()})
		}

		det.TrackID = track.ID
		out[i] = det
	}
	events = append(events, t.evict(now)...)
	t.mu.Unlock()

	if t.observer != nil {
		for _, ev := range events {
			t.observer(ev)
		}
	}
	return out
}

func (t *Tracker) nearest(det models.Detection) *models.Track {
	var best *models.Track
	bestDist := math.Inf(1)
	here := []float64{float64(det.Center.X), float64(det.Center.Y)}

	for _, id := range t.order {
		track := t.tracks[id]
		if track.Label != det.Label {
			continue
		}
		d := floats.Distance(here, []float64{float64(track.Center.X), float64(track.Center.Y)}, 2)
		// strict comparison keeps the oldest track on ties
		if d < bestDist {
			best, bestDist = track, d
		}
	}

	if best == nil || bestDist > t.cfg.MaxDistance {
		return nil
	}
	return best
}

func (t *Tracker) apply(track *models.Track, det models.Detection, now time.Time) {
	track.Center = det.Center
	track.Confidence = det.Confidence
	if now.After(track.LastSeen) {
		track.LastSeen = now
	}
	track.History = append(track.History, det.Center)
	if over := len(track.History) - t.cfg.HistoryLength; over > 0 {
		track.History = append(track.History[:0:0], track.History[over:]...)
	}
}

func (t *Tracker) create(det models.Detection, now time.Time) *models.Track {
	t.lastID++
	track := &models.Track{
		ID:         t.lastID,
		Label:      det.Label,
		FirstSeen:  now,
		LastSeen:   now,
		Center:     det.Center,
		Confidence: det.Confidence,
		History:    []models.Point{det.Center},
	}
	t.tracks[track.ID] = track
	t.order = append(t.order, track.ID)
	return track
}

func (t *Tracker) evict(now time.Time) []Event {
	var events []Event
	kept := t.order[:0]
	for _, id := range t.order {
		track := t.tracks[id]
		if now.Sub(track.LastSeen) > t.cfg.Timeout {
			delete(t.tracks, id)
			events = append(events, Event{Kind: TrackEvicted, Track: track.Clone()})
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return events
}

// Tracks returns a snapshot of the live tracks ordered by id.
func (t *Tracker) Tracks() []models.Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Track, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.tracks[id].Clone())
	}
	return out
}

func (t *Tracker) Track(id models.TrackID) (models.Track, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	track, ok := t.tracks[id]
	if !ok {
		return models.Track{}, false
	}
	return track.Clone(), true
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracks)
}
