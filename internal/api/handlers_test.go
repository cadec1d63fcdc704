package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"guardian/internal/alert"
	"guardian/internal/camera"
	"guardian/internal/detection"
	"guardian/internal/logger"
	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCameras struct {
	mu        sync.Mutex
	threshold float64
}

func (f *fakeCameras) Cameras() []camera.Info {
	return []camera.Info{{ID: "lobby", Width: 640, Height: 480, FPS: 30, Running: true}}
}

func (f *fakeCameras) PipelineStats() []detection.Stats {
	return []detection.Stats{{Camera: "lobby", Ticks: 12}}
}

func (f *fakeCameras) ConfidenceThreshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

func (f *fakeCameras) SetConfidenceThreshold(v float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = v
	return v
}

func newTestServer(t *testing.T) (*httptest.Server, *alert.Dispatcher) {
	t.Helper()
	d := alert.NewDispatcher(models.AlertConfig{FlashDuration: time.Hour, Volume: 0.7, MaxScheduled: 8},
		alert.WithLogger(logger.Discard()),
		alert.WithPollInterval(10*time.Millisecond),
	)
	t.Cleanup(func() { d.Close() })

	h := NewAPIHandler(d, &fakeCameras{threshold: 0.5}, nil, logger.Discard())
	srv := httptest.NewServer(SetupRouter(h))
	t.Cleanup(srv.Close)
	return srv, d
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var out map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, &out))
	assert.Equal(t, "ok", out["status"])
}

func TestTriggerAndResolve(t *testing.T) {
	srv, d := newTestServer(t)

	var created map[string]string
	status := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", models.TriggerRequest{
		Type:     "intrusion",
		Message:  "Back door opened",
		Severity: models.SeverityHigh,
		Camera:   "garage",
	}, &created)
	require.Equal(t, http.StatusAccepted, status)
	id := created["id"]
	require.True(t, strings.HasPrefix(id, "intrusion_"), id)

	require.NoError(t, d.Sync(context.Background()))

	var active []models.Alert
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts", nil, &active))
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, "garage", active[0].Camera)

	var resolved models.Alert
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/alerts/"+id+"/resolve", nil, &resolved))
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts", nil, &active))
	assert.Empty(t, active)

	var history []models.Alert
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/history?limit=5", nil, &history))
	assert.Len(t, history, 1)
}

func TestResolveUnknownAlert(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/api/alerts/nope/resolve", nil, nil))
}

func TestTriggerValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	var out errorResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", models.TriggerRequest{Message: "no type"}, &out)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, out.Error)

	resp, err := http.Post(srv.URL+"/api/alerts", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/history?limit=-1", nil, nil))
}

func TestStatsAndVisual(t *testing.T) {
	srv, d := newTestServer(t)
	d.Trigger("loitering", "Person loitering", models.SeverityMedium)
	require.NoError(t, d.Sync(context.Background()))

	var stats alert.Stats
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/stats", nil, &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType["loitering"])

	var visual []alert.VisualAlert
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/visual", nil, &visual))
	require.Len(t, visual, 1)
	assert.Equal(t, "#ff8c00", visual[0].Color)
}

func TestSettings(t *testing.T) {
	srv, d := newTestServer(t)

	var got Settings
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil, &got))
	require.NotNil(t, got.Volume)
	assert.InDelta(t, 0.7, *got.Volume, 1e-9)
	assert.InDelta(t, 0.5, *got.Sensitivity, 1e-9)

	volume, audio, sensitivity := 1.5, false, 0.8
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, srv.URL+"/api/settings", Settings{
		Volume:       &volume,
		AudioEnabled: &audio,
		Sensitivity:  &sensitivity,
	}, &got))

	assert.InDelta(t, 1.0, *got.Volume, 1e-9, "volume is clamped")
	assert.False(t, *got.AudioEnabled)
	assert.True(t, *got.VisualEnabled, "absent fields are unchanged")
	assert.InDelta(t, 0.8, *got.Sensitivity, 1e-9)
	assert.False(t, d.Settings().AudioEnabled)
}

func TestExport(t *testing.T) {
	srv, d := newTestServer(t)
	d.Trigger("crowd_detected", "Crowd of 12 people detected", models.SeverityHigh)
	require.NoError(t, d.Sync(context.Background()))

	resp, err := http.Get(srv.URL + "/api/alerts/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "alerts.json")

	alerts, err := alert.ReadExport(resp.Body)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "crowd_detected", alerts[0].Type)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp2, err := http.Get(srv.URL + "/api/alerts/export?since=" + future)
	require.NoError(t, err)
	defer resp2.Body.Close()
	alerts, err = alert.ReadExport(resp2.Body)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/export?since=yesterday", nil, nil))
}

func TestCamerasAndDetectionStats(t *testing.T) {
	srv, _ := newTestServer(t)

	var cams []camera.Info
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/cameras", nil, &cams))
	require.Len(t, cams, 1)
	assert.Equal(t, "lobby", cams[0].ID)

	var stats []detection.Stats
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/detection/stats", nil, &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(12), stats[0].Ticks)
}

func TestWebSocketDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/ws", nil, nil))
}
