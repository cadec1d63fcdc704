// Package api exposes alert and camera state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"guardian/internal/alert"
	"guardian/internal/camera"
	"guardian/internal/detection"
	"guardian/internal/logger"
	"guardian/internal/models"
)

type AlertService interface {
	Alert(id string) (models.Alert, bool)
	ActiveAlerts() []models.Alert
	History(limit int) []models.Alert
	VisualAlerts() []alert.VisualAlert
	Stats() alert.Stats
	TriggerRequest(req models.TriggerRequest) (string, error)
	Resolve(id string)
	Sync(ctx context.Context) error
	Export(w io.Writer, since time.Time) (int, error)
	Settings() alert.Settings
	SetVolume(v float64) float64
	SetAudioEnabled(enabled bool)
	SetVisualEnabled(enabled bool)
}

type CameraService interface {
	Cameras() []camera.Info
	PipelineStats() []detection.Stats
	ConfidenceThreshold() float64
	SetConfidenceThreshold(v float64) float64
}

type APIHandler struct {
	alerts  AlertService
	cameras CameraService
	ws      http.Handler
	log     *logger.Logger
}

func NewAPIHandler(alerts AlertService, cameras CameraService, ws http.Handler, log *logger.Logger) *APIHandler {
	return &APIHandler{
		alerts:  alerts,
		cameras: cameras,
		ws:      ws,
		log:     log.With("api"),
	}
}

// Settings is the body of GET and PUT /api/settings. PUT applies only the
// fields present.
type Settings struct {
	Volume        *float64 `json:"volume,omitempty"`
	AudioEnabled  *bool    `json:"audio_enabled,omitempty"`
	VisualEnabled *bool    `json:"visual_enabled,omitempty"`
	Sensitivity   *float64 `json:"sensitivity,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Error encoding response: %v", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) HandleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, orEmpty(h.alerts.ActiveAlerts()))
}

func (h *APIHandler) HandleVisualAlerts(w http.ResponseWriter, r *http.Request) {
	visual := h.alerts.VisualAlerts()
	if visual == nil {
		visual = []alert.VisualAlert{}
	}
	h.writeJSON(w, http.StatusOK, visual)
}

func (h *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	h.writeJSON(w, http.StatusOK, orEmpty(h.alerts.History(limit)))
}

func (h *APIHandler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.alerts.Alert(urlParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.alerts.Stats())
}

// HandleTrigger raises a manual alert and returns its id.
func (h *APIHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Bad Request: Cannot parse JSON")
		return
	}

	id, err := h.alerts.TriggerRequest(req)
	if errors.Is(err, alert.ErrDispatcherClosed) {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Infof("Manual alert %s triggered from %s", id, r.RemoteAddr)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// HandleResolve resolves an alert and returns its state once the resolution
// has been processed.
func (h *APIHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.alerts.Alert(id); !ok {
		// the alert may still be queued
		if err := h.alerts.Sync(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if _, ok := h.alerts.Alert(id); !ok {
			h.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
	}

	h.alerts.Resolve(id)
	if err := h.alerts.Sync(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	a, _ := h.alerts.Alert(id)
	h.writeJSON(w, http.StatusOK, a)
}

// HandleExport streams the alert history as a JSON attachment. The optional
// since parameter is an RFC 3339 timestamp.
func (h *APIHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.json"`)
	n, err := h.alerts.Export(w, since)
	if err != nil {
		h.log.Errorf("Export failed after %d alerts: %v", n, err)
	}
}

func (h *APIHandler) settings() Settings {
	s := h.alerts.Settings()
	sensitivity := h.cameras.ConfidenceThreshold()
	return Settings{
		Volume:        &s.Volume,
		AudioEnabled:  &s.AudioEnabled,
		VisualEnabled: &s.VisualEnabled,
		Sensitivity:   &sensitivity,
	}
}

func (h *APIHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.settings())
}

func (h *APIHandler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Bad Request: Cannot parse JSON")
		return
	}

	if req.Volume != nil {
		h.alerts.SetVolume(*req.Volume)
	}
	if req.AudioEnabled != nil {
		h.alerts.SetAudioEnabled(*req.AudioEnabled)
	}
	if req.VisualEnabled != nil {
		h.alerts.SetVisualEnabled(*req.VisualEnabled)
	}
	if req.Sensitivity != nil {
		h.cameras.SetConfidenceThreshold(*req.Sensitivity)
	}
	h.writeJSON(w, http.StatusOK, h.settings())
}

func (h *APIHandler) HandleCameras(w http.ResponseWriter, r *http.Request) {
	cams := h.cameras.Cameras()
	if cams == nil {
		cams = []camera.Info{}
	}
	h.writeJSON(w, http.StatusOK, cams)
}

func (h *APIHandler) HandleDetectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cameras.PipelineStats()
	if stats == nil {
		stats = []detection.Stats{}
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		h.writeError(w, http.StatusNotFound, "live feed disabled")
		return
	}
	h.ws.ServeHTTP(w, r)
}

func orEmpty(alerts []models.Alert) []models.Alert {
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}
