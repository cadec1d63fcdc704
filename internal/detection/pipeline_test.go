package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardian/internal/alert"
	"guardian/internal/models"
	"guardian/internal/timeutil"
	"guardian/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAlerter captures triggered alerts for verification
type MockAlerter struct {
	mu     sync.Mutex
	Alerts []models.Alert
}

func (m *MockAlerter) Trigger(alertType, message string, severity models.Severity, opts ...alert.TriggerOption) string {
	a := models.Alert{Type: alertType, Message: message, Severity: severity}
	for _, opt := range opts {
		opt(&a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = alertType
	m.Alerts = append(m.Alerts, a)
	return a.ID
}

func (m *MockAlerter) ByType(alertType string) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Alert
	for _, a := range m.Alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

type staticFrames struct {
	frame models.Frame
	ok    bool
}

func (s *staticFrames) Latest() (models.Frame, bool) {
	return s.frame, s.ok
}

// scriptedDetector returns the next batch on each call, repeating the last
func scriptedDetector(batches ...[]models.Detection) Detector {
	var mu sync.Mutex
	i := 0
	return DetectorFunc(func(_ context.Context, _ models.Frame, _ float64) ([]models.Detection, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(batches) {
			return batches[len(batches)-1], nil
		}
		b := batches[i]
		i++
		return b, nil
	})
}

func det(label string, conf float64, x1, y1, x2, y2 int) models.Detection {
	return models.NewDetection(label, conf, models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, time.Time{})
}

func testDetectionConfig() models.DetectionConfig {
	return models.DetectionConfig{
		ConfidenceThreshold: 0.5,
		MaxDetections:       50,
		Classes:             []string{"person"},
		TickInterval:        time.Second,
		LoiteringDuration:   30 * time.Second,
		CrowdThreshold:      10,
		MovementThreshold:   200,
	}
}

func newTestPipeline(t *testing.T, detector Detector, clock timeutil.Clock) (*Pipeline, *tracker.Tracker, *MockAlerter) {
	t.Helper()
	trk, err := tracker.New(tracker.Config{MaxDistance: 100, Timeout: time.Minute, HistoryLength: 5})
	require.NoError(t, err)
	alerter := &MockAlerter{}
	src := &staticFrames{frame: models.Frame{ID: "f1", Data: []byte{1}}, ok: true}
	p := NewPipeline("cam1", src, detector, trk, alerter, testDetectionConfig(), WithClock(clock))
	return p, trk, alerter
}

func TestLoiteringRaisesOneAlert(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	detector := scriptedDetector(
		[]models.Detection{det("person", 0.9, 100, 100, 200, 300), det("car", 0.95, 400, 100, 500, 200)},
		[]models.Detection{det("person", 0.9, 110, 100, 210, 300)},
		[]models.Detection{det("person", 0.9, 115, 100, 215, 300)},
	)
	p, trk, alerter := newTestPipeline(t, detector, clock)
	ctx := context.Background()

	res := p.Tick(ctx)
	require.Len(t, res.Detections, 1, "car is not on the allow-list")
	assert.Equal(t, models.TrackID(1), res.Detections[0].TrackID)
	assert.Empty(t, res.Activities)

	clock.Advance(time.Second)
	res = p.Tick(ctx)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, models.TrackID(1), res.Detections[0].TrackID)
	assert.Equal(t, 1, trk.Len())

	clock.Advance(30 * time.Second)
	res = p.Tick(ctx)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, models.ActivityLoitering, res.Activities[0].Type)

	loiter := alerter.ByType("loitering")
	require.Len(t, loiter, 1)
	assert.Equal(t, models.SeverityMedium, loiter[0].Severity)
	assert.Equal(t, "cam1", loiter[0].Camera)
	require.NotNil(t, loiter[0].Location)
	assert.Equal(t, models.Point{X: 165, Y: 200}, *loiter[0].Location)
	require.NotNil(t, loiter[0].Confidence)
	assert.InDelta(t, 0.8, *loiter[0].Confidence, 1e-9)
	assert.Len(t, alerter.Alerts, 1)
}

func TestTickWithoutFrameIsSkipped(t *testing.T) {
	called := false
	detector := DetectorFunc(func(context.Context, models.Frame, float64) ([]models.Detection, error) {
		called = true
		return nil, nil
	})
	trk, err := tracker.New(tracker.DefaultConfig())
	require.NoError(t, err)
	p := NewPipeline("cam1", &staticFrames{}, detector, trk, &MockAlerter{}, testDetectionConfig())

	res := p.Tick(context.Background())
	assert.True(t, res.Skipped)
	assert.False(t, called)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.SkippedTicks)
	assert.Equal(t, uint64(0), stats.Ticks)
}

func TestDetectorFailureCountsAsEmptyTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	detector := DetectorFunc(func(context.Context, models.Frame, float64) ([]models.Detection, error) {
		return nil, errors.New("boom")
	})
	p, trk, alerter := newTestPipeline(t, detector, clock)

	res := p.Tick(context.Background())
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Detections)
	assert.Zero(t, trk.Len())
	assert.Empty(t, alerter.Alerts)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Ticks)
	assert.Equal(t, uint64(1), stats.DetectorFailures)
}

func TestDetectorReceivesThreshold(t *testing.T) {
	var floors []float64
	detector := DetectorFunc(func(_ context.Context, _ models.Frame, floor float64) ([]models.Detection, error) {
		floors = append(floors, floor)
		return []models.Detection{det("person", 0.6, 0, 0, 10, 10)}, nil
	})
	p, _, _ := newTestPipeline(t, detector, timeutil.NewMockClock(time.Unix(0, 0)))

	res := p.Tick(context.Background())
	assert.Len(t, res.Detections, 1)

	assert.Equal(t, 0.7, p.SetConfidenceThreshold(0.7))
	res = p.Tick(context.Background())
	assert.Empty(t, res.Detections, "0.6 is below the raised floor")

	assert.Equal(t, 1.0, p.SetConfidenceThreshold(3))
	assert.Equal(t, []float64{0.5, 0.7}, floors)
}

func TestPipelineStats(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	detector := scriptedDetector([]models.Detection{
		det("person", 0.6, 0, 0, 10, 10),
		det("person", 0.8, 500, 500, 510, 510),
	})
	p, _, _ := newTestPipeline(t, detector, clock)

	for i := 0; i < 4; i++ {
		clock.Advance(400 * time.Millisecond)
		p.Tick(context.Background())
	}

	stats := p.Stats()
	assert.Equal(t, "cam1", stats.Camera)
	assert.Equal(t, uint64(4), stats.Ticks)
	assert.Equal(t, uint64(8), stats.TotalDetections)
	assert.Equal(t, 2, stats.LastDetections)
	assert.Equal(t, 2, stats.TrackedObjects)
	assert.Equal(t, []string{"person"}, stats.ClassesDetected)
	assert.InDelta(t, 0.7, stats.AverageConfidence, 1e-9)
	// ticks at 0.8s, 1.2s and 1.6s fall within the last second
	assert.InDelta(t, 3.0, stats.FPS, 1e-9)
	assert.Equal(t, 0.5, stats.ConfidenceThreshold)

	// once ticks stop, the rate decays with the clock
	clock.Advance(500 * time.Millisecond)
	assert.InDelta(t, 2.0, p.Stats().FPS, 1e-9)
	clock.Advance(time.Second)
	assert.Zero(t, p.Stats().FPS)
}

func TestRunTicksOnClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	detector := scriptedDetector([]models.Detection{det("person", 0.9, 0, 0, 10, 10)})
	p, trk, _ := newTestPipeline(t, detector, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return p.Stats().Ticks > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, trk.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
