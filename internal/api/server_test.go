package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/core"
	"github.com/yourusername/rtsp2web/internal/database"
	"github.com/yourusername/rtsp2web/internal/metrics"
	"github.com/yourusername/rtsp2web/internal/probe"
	"github.com/yourusername/rtsp2web/internal/stream"
)

func newTestServer(t *testing.T) (*Server, *database.StreamRepository) {
	t.Helper()

	hlsRoot := t.TempDir()

	cfg := &core.Config{}
	cfg.Transcoder.FFmpegPath = "/bin/true"
	cfg.Transcoder.RTSPTransport = "tcp"
	cfg.Broadcast.BasePort = 43100
	cfg.Broadcast.DefaultWidth = 640
	cfg.Broadcast.DefaultHeight = 480
	cfg.Broadcast.ClientQueue = 16
	cfg.HLS.OutputRoot = hlsRoot
	cfg.HLS.SegmentSeconds = 2
	cfg.HLS.WindowSize = 6

	logger := zap.NewNop()
	manager := stream.NewManager(cfg, logger)
	t.Cleanup(manager.StopAll)

	db, err := database.Open(filepath.Join(t.TempDir(), "streams.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := database.NewStreamRepository(db, logger)

	server := NewServer(ServerConfig{
		Port:       0,
		Production: true,
		Logger:     logger,
		Manager:    manager,
		Repository: repo,
		Prober:     probe.NewProber("tcp", time.Second, logger),
		Metrics:    metrics.New(),
		HLSRoot:    hlsRoot,
	})
	return server, repo
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndGetStream(t *testing.T) {
	server, repo := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created stream.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "cam1", created.ID)
	assert.Equal(t, 43100, created.JSMpeg.Port)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/streams/cam1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// creation persists the resolved definition
	def, err := repo.Get("cam1")
	require.NoError(t, err)
	assert.Equal(t, 43100, def.BroadcastPort)
}

func TestCreateStreamValidation(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/streams", `{"id":"cam1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/streams", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownStream(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/streams/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteStream(t *testing.T) {
	server, repo := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)

	rec := doRequest(t, server, http.MethodDelete, "/api/v1/streams/cam1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	exists, err := repo.Exists("cam1")
	require.NoError(t, err)
	assert.False(t, exists)

	rec = doRequest(t, server, http.MethodDelete, "/api/v1/streams/cam1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStopStream(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/streams/cam1/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/streams/cam1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info stream.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, stream.StatusStopped, info.Status)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/streams/nope/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkStartStop(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)
	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam2","source_url":"rtsp://cam.local/ch2"}`)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/streams/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/streams/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Streams []stream.Info `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Streams, 2)
}

func TestWindowWithoutPlaylist(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/streams/cam1/window", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/streams/nope/window", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["streams"])
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	doRequest(t, server, http.MethodPost, "/api/v1/streams",
		`{"id":"cam1","source_url":"rtsp://cam.local/ch1"}`)

	rec := doRequest(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rtsp2web_streams 1")
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodOptions, "/api/v1/streams", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
