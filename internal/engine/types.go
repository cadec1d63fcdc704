package engine

import (
	"context"
	"sync"

	"guardian/internal/camera"
	"guardian/internal/detection"
	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/timeutil"
	"guardian/internal/tracker"
)

// cameraUnit is one running camera with its own tracker and pipeline
type cameraUnit struct {
	config   models.CameraConfig
	source   *camera.Source
	tracker  *tracker.Tracker
	pipeline *detection.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
}

type Engine struct {
	cameras       []models.CameraConfig
	detection     models.DetectionConfig
	trackerConfig tracker.Config
	opener        camera.Opener
	detector      detection.Detector
	alerter       detection.Alerter
	clock         timeutil.Clock
	log           *logger.Logger
	sourceOpts    []camera.Option

	mu        sync.RWMutex
	runCtx    context.Context
	units     map[string]*cameraUnit
	order     []string
	threshold float64
	stopping  bool
}
