package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
cameras:
  - id: front
    source: dir:///var/frames/front
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Cameras, 1)
	cam := cfg.Cameras[0]
	assert.Equal(t, 640, cam.Width)
	assert.Equal(t, 480, cam.Height)
	assert.Equal(t, 30, cam.FPS)
	assert.Equal(t, 2, cam.RingCapacity)

	assert.Equal(t, 0.5, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 0.45, cfg.Detection.IOUThreshold)
	assert.Equal(t, 50, cfg.Detection.MaxDetections)
	assert.Equal(t, []string{"person", "car"}, cfg.Detection.Classes)
	assert.Equal(t, 30*time.Second, cfg.Detection.LoiteringDuration)
	assert.Equal(t, 10, cfg.Detection.CrowdThreshold)
	assert.Equal(t, 200.0, cfg.Detection.MovementThreshold)
	assert.Equal(t, models.SeverityMedium, cfg.Detection.ActivitySeverity[models.ActivityLoitering])

	assert.Equal(t, 100.0, cfg.Tracker.MaxDistance)
	assert.Equal(t, 5*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, 5, cfg.Tracker.HistoryLength)

	assert.Equal(t, time.Second, cfg.Alerts.FlashDuration)
	assert.Equal(t, 0.7, cfg.Alerts.Volume)
	assert.Equal(t, "#8b0000", cfg.Alerts.Severities[models.SeverityCritical].Color)
	assert.Equal(t, 3, cfg.Alerts.Severities[models.SeverityCritical].Repeats)
	assert.Equal(t, 2, cfg.Alerts.Severities[models.SeverityHigh].Repeats)
	assert.Equal(t, "alert", cfg.Alerts.Severities[models.SeverityMedium].Sound)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "guardian/alerts", cfg.MQTT.AlertsTopic)
	assert.Regexp(t, `^guardian-[0-9a-f]{8}$`, cfg.MQTT.ClientID)
	assert.Equal(t, 5*time.Second, cfg.MQTT.PublishTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
detection:
  confidence_threshold: 0.65
  classes: [person]
  loitering_duration: 45s
  activity_severity:
    crowd_detected: high
alerts:
  flash_duration: 250ms
  severities:
    low:
      color: "#00ff00"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.65, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, []string{"person"}, cfg.Detection.Classes)
	assert.Equal(t, 45*time.Second, cfg.Detection.LoiteringDuration)
	assert.Equal(t, models.SeverityHigh, cfg.Detection.ActivitySeverity[models.ActivityCrowd])
	assert.Equal(t, 250*time.Millisecond, cfg.Alerts.FlashDuration)

	low := cfg.Alerts.Severities[models.SeverityLow]
	assert.Equal(t, "#00ff00", low.Color)
	assert.Equal(t, "detection", low.Sound)
	assert.Equal(t, 1, low.Repeats)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("GUARDIAN_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("GUARDIAN_DETECTION_CROWD_THRESHOLD", "4")
	t.Setenv("GUARDIAN_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 4, cfg.Detection.CrowdThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigClampsConfidenceAndVolume(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
detection:
  confidence_threshold: 1.7
alerts:
  volume: -2
`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 0.0, cfg.Alerts.Volume)
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	cfg, err := Parse([]byte("detection: {confidence_threshold: 0}\nalerts: {volume: 0}\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 0.0, cfg.Alerts.Volume)

	t.Setenv("GUARDIAN_ALERTS_VOLUME", "0")
	cfg, err = Parse([]byte("log_level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 0.0, cfg.Alerts.Volume)

	def := Default()
	assert.Equal(t, 0.5, def.Detection.ConfidenceThreshold)
	assert.Equal(t, 0.7, def.Alerts.Volume)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative distance", "tracker:\n  max_distance: -1\n"},
		{"short history", "tracker:\n  history_length: 2\n"},
		{"negative crowd", "detection:\n  crowd_threshold: -3\n"},
		{"unknown severity", "detection:\n  activity_severity:\n    loitering: urgent\n"},
		{"duplicate camera", "cameras:\n  - {id: a, source: dir:///a}\n  - {id: a, source: dir:///b}\n"},
		{"camera without id", "cameras:\n  - {source: dir:///a}\n"},
		{"bad store", "store:\n  driver: mongo\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}
