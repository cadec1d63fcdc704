package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"guardian/internal/models"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. GUARDIAN_MQTT_BROKER.
const EnvPrefix = "GUARDIAN_"

var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig reads the configuration from a file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*models.Config, error) {
	var cfg models.Config
	presetDefaults(&cfg)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default filled in and no cameras.
func Default() *models.Config {
	var cfg models.Config
	presetDefaults(&cfg)
	ApplyDefaults(&cfg)
	return &cfg
}

// presetDefaults fills the fields for which zero is a valid setting. They are
// set before decoding so only keys present in the file or environment
// replace them.
func presetDefaults(cfg *models.Config) {
	cfg.Detection.ConfidenceThreshold = 0.5
	cfg.Alerts.Volume = 0.7
}

// ApplyDefaults fills every unset field whose zero value is not meaningful.
// Confidence threshold and volume are only clamped: zero is a valid value
// for both.
func ApplyDefaults(cfg *models.Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if cam.Width == 0 {
			cam.Width = 640
		}
		if cam.Height == 0 {
			cam.Height = 480
		}
		if cam.FPS == 0 {
			cam.FPS = 30
		}
		if cam.RingCapacity == 0 {
			cam.RingCapacity = 2
		}
	}

	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 10 * time.Second
	}

	det := &cfg.Detection
	det.ConfidenceThreshold = clamp01(det.ConfidenceThreshold)
	if det.IOUThreshold == 0 {
		det.IOUThreshold = 0.45
	}
	if det.MaxDetections == 0 {
		det.MaxDetections = 50
	}
	if det.Classes == nil {
		det.Classes = []string{"person", "car"}
	}
	if det.TickInterval == 0 {
		det.TickInterval = 33 * time.Millisecond
	}
	if det.LoiteringDuration == 0 {
		det.LoiteringDuration = 30 * time.Second
	}
	if det.CrowdThreshold == 0 {
		det.CrowdThreshold = 10
	}
	if det.MovementThreshold == 0 {
		det.MovementThreshold = 200
	}
	if det.ActivitySeverity == nil {
		det.ActivitySeverity = map[models.ActivityType]models.Severity{}
	}
	if det.ActivityConfidence == nil {
		det.ActivityConfidence = map[models.ActivityType]float64{}
	}
	for activity, confidence := range DefaultActivityConfidence {
		if _, ok := det.ActivityConfidence[activity]; !ok {
			det.ActivityConfidence[activity] = confidence
		}
		if _, ok := det.ActivitySeverity[activity]; !ok {
			det.ActivitySeverity[activity] = models.SeverityMedium
		}
	}

	if cfg.Tracker.MaxDistance == 0 {
		cfg.Tracker.MaxDistance = 100
	}
	if cfg.Tracker.Timeout == 0 {
		cfg.Tracker.Timeout = 5 * time.Second
	}
	if cfg.Tracker.HistoryLength == 0 {
		cfg.Tracker.HistoryLength = 5
	}

	al := &cfg.Alerts
	if al.FlashDuration == 0 {
		al.FlashDuration = time.Second
	}
	if al.RepeatPause == 0 {
		al.RepeatPause = 500 * time.Millisecond
	}
	al.Volume = clamp01(al.Volume)
	if al.MaxScheduled == 0 {
		al.MaxScheduled = 32
	}
	if al.Severities == nil {
		al.Severities = map[models.Severity]models.SeverityPolicy{}
	}
	for sev, def := range DefaultSeverityPolicies {
		p := al.Severities[sev]
		if p.Color == "" {
			p.Color = def.Color
		}
		if p.Sound == "" {
			p.Sound = def.Sound
		}
		if p.Repeats == 0 {
			p.Repeats = def.Repeats
		}
		al.Severities[sev] = p
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "guardian.db"
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "guardian-" + uuid.NewString()[:8]
	}
	if cfg.MQTT.AlertsTopic == "" {
		cfg.MQTT.AlertsTopic = "guardian/alerts"
	}
	if cfg.MQTT.TriggersTopic == "" {
		cfg.MQTT.TriggersTopic = "guardian/triggers"
	}
	if cfg.MQTT.PublishTimeout == 0 {
		cfg.MQTT.PublishTimeout = 5 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "guardian.alerts"
	}
	if cfg.S3.ExportBucket == "" {
		cfg.S3.ExportBucket = "guardian-exports"
	}
}

var DefaultSeverityPolicies = map[models.Severity]models.SeverityPolicy{
	models.SeverityLow:      {Color: "#ffff00", Sound: "detection", Repeats: 1},
	models.SeverityMedium:   {Color: "#ff8c00", Sound: "alert", Repeats: 1},
	models.SeverityHigh:     {Color: "#ff0000", Sound: "emergency", Repeats: 2},
	models.SeverityCritical: {Color: "#8b0000", Sound: "emergency", Repeats: 3},
}

var DefaultActivityConfidence = map[models.ActivityType]float64{
	models.ActivityLoitering:     0.8,
	models.ActivityCrowd:         0.9,
	models.ActivityRapidMovement: 0.7,
}

// Validate rejects thresholds that cannot work. Confidence and volume are
// clamped by ApplyDefaults rather than rejected.
func Validate(cfg *models.Config) error {
	var problems []string
	add := func(format string, v ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, v...))
	}

	seen := make(map[string]bool)
	for i, cam := range cfg.Cameras {
		if strings.TrimSpace(cam.ID) == "" {
			add("cameras[%d]: id is required", i)
			continue
		}
		if seen[cam.ID] {
			add("cameras[%d]: duplicate id %q", i, cam.ID)
		}
		seen[cam.ID] = true
		if cam.Source == "" {
			add("camera %s: source is required", cam.ID)
		}
		if cam.FPS <= 0 {
			add("camera %s: fps must be positive", cam.ID)
		}
		if cam.Width <= 0 || cam.Height <= 0 {
			add("camera %s: resolution must be positive", cam.ID)
		}
		if cam.RingCapacity < 1 {
			add("camera %s: ring_capacity must be at least 1", cam.ID)
		}
	}

	det := cfg.Detection
	if det.IOUThreshold < 0 || det.IOUThreshold > 1 {
		add("detection.iou_threshold must be within [0, 1]")
	}
	if det.MaxDetections < 1 {
		add("detection.max_detections must be at least 1")
	}
	if det.TickInterval <= 0 {
		add("detection.tick_interval must be positive")
	}
	if det.LoiteringDuration <= 0 {
		add("detection.loitering_duration must be positive")
	}
	if det.CrowdThreshold < 1 {
		add("detection.crowd_threshold must be at least 1")
	}
	if det.MovementThreshold <= 0 {
		add("detection.movement_threshold must be positive")
	}
	for activity, sev := range det.ActivitySeverity {
		if !sev.Valid() {
			add("detection.activity_severity[%s]: unknown severity %q", activity, sev)
		}
	}

	if cfg.Tracker.MaxDistance <= 0 {
		add("tracker.max_distance must be positive")
	}
	if cfg.Tracker.Timeout <= 0 {
		add("tracker.timeout must be positive")
	}
	if cfg.Tracker.HistoryLength < 3 {
		add("tracker.history_length must be at least 3")
	}

	if cfg.Alerts.FlashDuration <= 0 {
		add("alerts.flash_duration must be positive")
	}
	if cfg.Alerts.RepeatPause < 0 {
		add("alerts.repeat_pause must not be negative")
	}
	if cfg.Alerts.MaxScheduled < 1 {
		add("alerts.max_scheduled must be at least 1")
	}
	for sev, p := range cfg.Alerts.Severities {
		if !sev.Valid() {
			add("alerts.severities: unknown severity %q", sev)
		}
		if p.Repeats < 1 {
			add("alerts.severities[%s].repeats must be at least 1", sev)
		}
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		add("store.driver %q is not supported", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn is required for postgres")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
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
