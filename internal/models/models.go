package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Severity ranks an alert from low to critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity in ascending order
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

func (s Severity) Valid() bool {
	_, err := ParseSeverity(string(s))
	return err == nil
}

// Point is an integer pixel coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// BoundingBox holds pixel corners with X1 < X2 and Y1 < Y2
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Center uses floor division, matching how detectors report box centers
func (b BoundingBox) Center() Point {
	return Point{X: floorDiv(b.X1+b.X2, 2), Y: floorDiv(b.Y1+b.Y2, 2)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Frame is one captured image buffer
type Frame struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
}

// Clone returns a copy that shares no memory with f
func (f Frame) Clone() Frame {
	out := f
	out.Data = bytes.Clone(f.Data)
	return out
}

// TrackID is assigned by a tracker; zero means no track
type TrackID uint64

// Detection is a single labelled box produced by a detector
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
	Center     Point       `json:"center"`
	Timestamp  time.Time   `json:"timestamp"`
	TrackID    TrackID     `json:"track_id,omitempty"`
}

func NewDetection(label string, confidence float64, box BoundingBox, ts time.Time) Detection {
	return Detection{
		Label:      label,
		Confidence: confidence,
		Box:        box,
		Center:     box.Center(),
		Timestamp:  ts,
	}
}

func (d Detection) HasTrack() bool {
	return d.TrackID != 0
}

// Track is the tracker's record of one object across ticks
type Track struct {
	ID         TrackID   `json:"id"`
	Label      string    `json:"label"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Center     Point     `json:"center"`
	Confidence float64   `json:"confidence"`
	History    []Point   `json:"history"`
}

func (t Track) Clone() Track {
	out := t
	out.History = append([]Point(nil), t.History...)
	return out
}

type ActivityType string

const (
	ActivityLoitering     ActivityType = "loitering"
	ActivityCrowd         ActivityType = "crowd_detected"
	ActivityRapidMovement ActivityType = "rapid_movement"
)

// SuspiciousActivity is derived per tick and only lives on through the alert it raises
type SuspiciousActivity struct {
	Type        ActivityType `json:"type"`
	Camera      string       `json:"camera"`
	Confidence  float64      `json:"confidence"`
	Location    Point        `json:"location"`
	Timestamp   time.Time    `json:"timestamp"`
	Description string       `json:"description"`
	TrackID     TrackID      `json:"track_id,omitempty"`
}

type Alert struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	Camera     string     `json:"camera,omitempty"`
	CreatedAt  time.Time  `json:"timestamp"`
	Location   *Point     `json:"location,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolution_time,omitempty"`
}

func (a Alert) Clone() Alert {
	out := a
	if a.Location != nil {
		loc := *a.Location
		out.Location = &loc
	}
	if a.Confidence != nil {
		c := *a.Confidence
		out.Confidence = &c
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

type AlertEventKind string

const (
	AlertCreated  AlertEventKind = "created"
	AlertResolved AlertEventKind = "resolved"
)

// AlertEvent is one entry of the append-only alert log
type AlertEvent struct {
	Kind       AlertEventKind `json:"kind"`
	Alert      Alert          `json:"alert"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// TriggerRequest is a manual alert request received over MQTT or HTTP
type TriggerRequest struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Camera     string   `json:"camera,omitempty"`
	Location   *Point   `json:"location,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (r TriggerRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("alert type is required")
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("confidence %.2f outside [0, 1]", *r.Confidence)
	}
	return nil
}
