package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"guardian/internal/alert"
	"guardian/internal/api"
	"guardian/internal/audio"
	"guardian/internal/camera"
	"guardian/internal/config"
	"guardian/internal/detection"
	"guardian/internal/engine"
	"guardian/internal/kafka"
	"guardian/internal/logger"
	"guardian/internal/models"
	"guardian/internal/mqtt"
	"guardian/internal/s3"
	"guardian/internal/store"
	"guardian/internal/tracker"
	"guardian/internal/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	lg := logger.New(cfg.LogLevel, os.Stderr)
	lg.Infof("Loaded config from %s (%d cameras)", *configPath, len(cfg.Cameras))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the event log
	var recorder *store.Store
	if cfg.Store.Driver != "none" {
		recorder, err = store.Open(ctx, cfg.Store, lg)
		if err != nil {
			log.Fatalf("Failed to open event store: %v", err)
		}
		defer recorder.Close()
	}

	// 3. Initialize outbound sinks
	hub := websocket.NewHub(lg)
	go hub.Run(ctx)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT, lg)
		if err := mqttClient.Connect(); err != nil {
			log.Fatalf("Failed to connect to MQTT: %v", err)
		}
		defer mqttClient.Disconnect()
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(cfg.Kafka, lg)
		if err != nil {
			log.Fatalf("Failed to connect to Kafka: %v", err)
		}
		defer producer.Close()
	}

	var s3Client *s3.Client
	if cfg.S3.Endpoint != "" {
		s3Client, err = s3.NewMinioClient(cfg.S3, lg)
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
	}

	player, err := audio.New(cfg.Audio, lg)
	if err != nil {
		log.Fatalf("Failed to set up audio: %v", err)
	}

	// 4. Initialize Dispatcher
	opts := []alert.Option{
		alert.WithLogger(lg),
		alert.WithPlayer(player),
		alert.WithVisualSink(hub),
		alert.WithListener("websocket", hub),
	}
	if recorder != nil {
		opts = append(opts, alert.WithRecorder(recorder))
	}
	if mqttClient != nil {
		opts = append(opts, alert.WithListener("mqtt", mqtt.NewAlertPublisher(mqttClient, cfg.MQTT.AlertsTopic, lg)))
	}
	if producer != nil {
		opts = append(opts, alert.WithListener("kafka", producer))
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts, opts...)

	// 5. Subscribe to manual triggers
	if mqttClient != nil && cfg.MQTT.TriggersTopic != "" {
		triggers := make(chan models.TriggerRequest, 100)
		if err := mqttClient.SubscribeTriggers(ctx, triggers); err != nil {
			log.Fatalf("Failed to subscribe to topic: %v", err)
		}
		go forwardTriggers(ctx, triggers, dispatcher, lg)
	}

	// 6. Initialize Engine
	opener := camera.NewSchemeOpener()
	if s3Client != nil {
		opener.Register("s3", s3.NewFrameOpener(s3Client))
	}

	var detector detection.Detector
	if cfg.Detector.URL != "" {
		detector = detection.NewClient(cfg.Detector, cfg.Detection.IOUThreshold)
	} else {
		lg.Warn("No detector configured, frames will produce no detections")
		detector = detection.DetectorFunc(func(context.Context, models.Frame, float64) ([]models.Detection, error) {
			return nil, nil
		})
	}

	eng := engine.NewEngine(cfg.Cameras, cfg.Detection, tracker.ConfigFrom(cfg.Tracker), opener, detector, dispatcher,
		engine.WithLogger(lg),
	)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil {
			lg.Errorf("Engine failed: %v", err)
		}
	}()

	// 7. Serve the HTTP API
	handler := api.NewAPIHandler(dispatcher, eng, http.HandlerFunc(hub.ServeWS), lg)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Infof("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Errorf("HTTP server failed: %v", err)
			stop()
		}
	}()

	// 8. Wait for Signal
	<-ctx.Done()
	lg.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warnf("HTTP shutdown: %v", err)
	}
	<-engineDone
	if err := dispatcher.Close(); err != nil {
		lg.Warnf("Dispatcher shutdown: %v", err)
	}

	// 9. Export the session's alerts
	if cfg.ExportPath != "" {
		if err := exportAlerts(shutdownCtx, dispatcher, cfg, s3Client, lg); err != nil {
			lg.Errorf("Export failed: %v", err)
		}
	}
}

func forwardTriggers(ctx context.Context, triggers <-chan models.TriggerRequest, d *alert.Dispatcher, lg *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-triggers:
			id, err := d.TriggerRequest(req)
			if err != nil {
				lg.Warnf("Rejected MQTT trigger %q: %v", req.Type, err)
				continue
			}
			lg.Infof("MQTT trigger raised alert %s", id)
		}
	}
}

func exportAlerts(ctx context.Context, d *alert.Dispatcher, cfg *models.Config, s3Client *s3.Client, lg *logger.Logger) error {
	n, err := d.ExportFile(cfg.ExportPath, time.Time{})
	if err != nil {
		return err
	}
	if s3Client == nil || n == 0 {
		return nil
	}

	data, err := os.ReadFile(cfg.ExportPath)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	key := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), filepath.Base(cfg.ExportPath))
	if _, err := s3Client.UploadExport(ctx, cfg.S3.ExportBucket, key, data); err != nil {
		return err
	}
	lg.Infof("Uploaded %d alerts to bucket %s", n, cfg.S3.ExportBucket)
	return nil
}
