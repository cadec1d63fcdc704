package models

import "time"

type Config struct {
	LogLevel   string          `yaml:"log_level" env:"LOG_LEVEL"`
	ExportPath string          `yaml:"export_path" env:"EXPORT_PATH"`
	HTTP       HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Cameras    []CameraConfig  `yaml:"cameras"`
	Detector   DetectorConfig  `yaml:"detector" envPrefix:"DETECTOR_"`
	Detection  DetectionConfig `yaml:"detection" envPrefix:"DETECTION_"`
	Tracker    TrackerConfig   `yaml:"tracker" envPrefix:"TRACKER_"`
	Alerts     AlertConfig     `yaml:"alerts" envPrefix:"ALERTS_"`
	Audio      AudioConfig     `yaml:"audio" envPrefix:"AUDIO_"`
	Store      StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	MQTT       MQTTConfig      `yaml:"mqtt" envPrefix:"MQTT_"`
	Kafka      KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	S3         S3Config        `yaml:"s3" envPrefix:"S3_"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// CameraConfig describes one capture device. Source is a URL whose scheme
// selects the device implementation (dir://, http://, s3://).
type CameraConfig struct {
	ID           string `yaml:"id"`
	Source       string `yaml:"source"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	RingCapacity int    `yaml:"ring_capacity"`
}

type DetectorConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type DetectionConfig struct {
	ConfidenceThreshold float64                   `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	IOUThreshold        float64                   `yaml:"iou_threshold" env:"IOU_THRESHOLD"`
	MaxDetections       int                       `yaml:"max_detections" env:"MAX_DETECTIONS"`
	Classes             []string                  `yaml:"classes" env:"CLASSES"`
	TickInterval        time.Duration             `yaml:"tick_interval" env:"TICK_INTERVAL"`
	LoiteringDuration   time.Duration             `yaml:"loitering_duration" env:"LOITERING_DURATION"`
	CrowdThreshold      int                       `yaml:"crowd_threshold" env:"CROWD_THRESHOLD"`
	MovementThreshold   float64                   `yaml:"movement_threshold" env:"MOVEMENT_THRESHOLD"`
	ActivitySeverity    map[ActivityType]Severity `yaml:"activity_severity"`
	ActivityConfidence  map[ActivityType]float64  `yaml:"activity_confidence"`
}

type TrackerConfig struct {
	MaxDistance   float64       `yaml:"max_distance" env:"MAX_DISTANCE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	HistoryLength int           `yaml:"history_length" env:"HISTORY_LENGTH"`
}

// SeverityPolicy is how loudly one severity is announced
type SeverityPolicy struct {
	Color   string `yaml:"color" json:"color"`
	Sound   string `yaml:"sound" json:"sound"`
	Repeats int    `yaml:"repeats" json:"repeats"`
}

type AlertConfig struct {
	FlashDuration  time.Duration               `yaml:"flash_duration" env:"FLASH_DURATION"`
	RepeatPause    time.Duration               `yaml:"repeat_pause" env:"REPEAT_PAUSE"`
	Volume         float64                     `yaml:"volume" env:"VOLUME"`
	Muted          bool                        `yaml:"muted" env:"MUTED"`
	VisualDisabled bool                        `yaml:"visual_disabled" env:"VISUAL_DISABLED"`
	MaxScheduled   int                         `yaml:"max_scheduled" env:"MAX_SCHEDULED"`
	Severities     map[Severity]SeverityPolicy `yaml:"severities"`
}

type AudioConfig struct {
	Command string            `yaml:"command" env:"COMMAND"`
	Args    []string          `yaml:"args" env:"ARGS"`
	Sounds  map[string]string `yaml:"sounds"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker" env:"BROKER"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	User           string        `yaml:"user" env:"USER"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	AlertsTopic    string        `yaml:"alerts_topic" env:"ALERTS_TOPIC"`
	TriggersTopic  string        `yaml:"triggers_topic" env:"TRIGGERS_TOPIC"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"SECRET_KEY"`
	Secure       bool   `yaml:"secure" env:"SECURE"`
	ExportBucket string `yaml:"export_bucket" env:"EXPORT_BUCKET"`
}
