package detection

import (
	"fmt"
	"time"

	"guardian/internal/models"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

const PersonLabel = "person"

type RuleConfig struct {
	LoiteringDuration time.Duration
	CrowdThreshold    int
	MovementThreshold float64
	Confidence        map[models.ActivityType]float64
}

func (c RuleConfig) confidence(t models.ActivityType, fallback float64) float64 {
	if v, ok := c.Confidence[t]; ok {
		return v
	}
	return fallback
}

// TrackLookup resolves a track id to its current state.
type TrackLookup interface {
	Track(id models.TrackID) (models.Track, bool)
}

// Evaluate derives suspicious activity for one tick from the annotated
// detections. Loitering and rapid movement consider each track matched in
// this tick once, in order of first appearance.
func Evaluate(camera string, detections []models.Detection, tracks TrackLookup, now time.Time, cfg RuleConfig) []models.SuspiciousActivity {
	matched := lo.UniqBy(lo.Filter(detections, func(d models.Detection, _ int) bool {
		return d.HasTrack()
	}), func(d models.Detection) models.TrackID {
		return d.TrackID
	})

	var out []models.SuspiciousActivity
	for _, d := range matched {
		track, ok := tracks.Track(d.TrackID)
		if !ok || track.Label != PersonLabel {
			continue
		}
		if a, ok := loitering(camera, track, now, cfg); ok {
			out = append(out, a)
		}
	}

	if a, ok := crowd(camera, detections, now, cfg); ok {
		out = append(out, a)
	}

	for _, d := range matched {
		track, ok := tracks.Track(d.TrackID)
		if !ok {
			continue
		}
		if a, ok := rapidMovement(camera, track, now, cfg); ok {
			out = append(out, a)
		}
	}
	return out
}

func loitering(camera string, track models.Track, now time.Time, cfg RuleConfig) (models.SuspiciousActivity, bool) {
	dwell := now.Sub(track.FirstSeen)
	if dwell <= cfg.LoiteringDuration {
		return models.SuspiciousActivity{}, false
	}
	return models.SuspiciousActivity{
		Type:        models.ActivityLoitering,
		Camera:      camera,
		Confidence:  cfg.confidence(models.ActivityLoitering, 0.8),
		Location:    track.Center,
		Timestamp:   now,
		Description: fmt.Sprintf("Person loitering for %.1f seconds", dwell.Seconds()),
		TrackID:     track.ID,
	}, true
}

// crowd reports at the centroid of the person centers, using floor division.
func crowd(camera string, detections []models.Detection, now time.Time, cfg RuleConfig) (models.SuspiciousActivity, bool) {
	people := lo.Filter(detections, func(d models.Detection, _ int) bool { return d.Label == PersonLabel })
	if cfg.CrowdThreshold < 1 || len(people) < cfg.CrowdThreshold {
		return models.SuspiciousActivity{}, false
	}

	sumX := lo.SumBy(people, func(d models.Detection) int { return d.Center.X })
	sumY := lo.SumBy(people, func(d models.Detection) int { return d.Center.Y })
	n := len(people)
	center := models.Point{X: floorDiv(sumX, n), Y: floorDiv(sumY, n)}

	return models.SuspiciousActivity{
		Type:        models.ActivityCrowd,
		Camera:      camera,
		Confidence:  cfg.confidence(models.ActivityCrowd, 0.9),
		Location:    center,
		Timestamp:   now,
		Description: fmt.Sprintf("Crowd of %d people detected", n),
	}, true
}

// rapidMovement sums the path length over the last three history points.
func rapidMovement(camera string, track models.Track, now time.Time, cfg RuleConfig) (models.SuspiciousActivity, bool) {
	if len(track.History) < 3 {
		return models.SuspiciousActivity{}, false
	}
	recent := track.History[len(track.History)-3:]
	var path float64
	for i := 1; i < len(recent); i++ {
		path += floats.Distance(
			[]float64{float64(recent[i-1].X), float64(recent[i-1].Y)},
			[]float64{float64(recent[i].X), float64(recent[i].Y)},
			2,
		)
	}
	if path <= cfg.MovementThreshold {
		return models.SuspiciousActivity{}, false
	}
	return models.SuspiciousActivity{
		Type:        models.ActivityRapidMovement,
		Camera:      camera,
		Confidence:  cfg.confidence(models.ActivityRapidMovement, 0.7),
		Location:    track.Center,
		Timestamp:   now,
		Description: fmt.Sprintf("Rapid movement detected (%s moved %.0f px)", track.Label, path),
		TrackID:     track.ID,
	}, true
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
