package bootstrap_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/api"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
	infralogger "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/middleware"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote/remotetest"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

const (
	client     = "tab-e2e"
	userAgent  = "Mozilla/5.0 (Macintosh) Safari/605.1.15"
	resultsURL = "https://serp.example/Laptop/top-ai-overview/no-ai-mode/1?RID=P1&SID=S9"
)

type app struct {
	router  *gin.Engine
	core    *bootstrap.Components
	backend *remotetest.Backend
}

func newApp(t *testing.T, opts ...func(*config.Config)) *app {
	t.Helper()

	backend := remotetest.NewBackend()
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = backend.URL()
	cfg.Backend.InitialBackoff = time.Millisecond
	cfg.Backend.MaxBackoff = 5 * time.Millisecond
	cfg.Admin.ClearEnabled = true
	for _, opt := range opts {
		opt(cfg)
	}

	log := infralogger.NewNop()
	core := bootstrap.NewComponents(cfg, storage.NewMemoryAdapter(), prometheus.NewRegistry(), log)
	core.Start()
	t.Cleanup(core.Stop)

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	server := api.NewServer(core.Handlers(log), core.Checks(), cfg, log, done)
	return &app{router: server.Router(), core: core, backend: backend}
}

func (a *app) call(t *testing.T, method, path, body string) map[string]any {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(middleware.ClientHeader, client)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Less(t, w.Code, http.StatusBadRequest, "%s %s: %s", method, path, w.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func page() string {
	return `{"page_url":"` + resultsURL + `"}`
}

func TestTrackingFlowReachesBackend(t *testing.T) {
	a := newApp(t)

	load := a.call(t, http.MethodPost, "/api/v1/lifecycle/load", page())
	taskID, _ := load["task_id"].(string)
	assert.Equal(t, "S9_P1_Laptop_top-ai-overview_no-ai-mode", taskID)
	assert.Equal(t, "PRODUCT", load["task_type"])

	click := a.call(t, http.MethodPost, "/api/v1/track/click",
		`{"page_url":"`+resultsURL+`","component_name":"SearchResults","link_index":0,"link_text":"Best laptops"}`)
	assert.Equal(t, taskID+"_1", click["click_id"])

	a.call(t, http.MethodPost, "/api/v1/track/show-more",
		`{"page_url":"`+resultsURL+`","component_name":"AiOverview"}`)

	visible := a.call(t, http.MethodPost, "/api/v1/lifecycle/visible", page())
	assert.Equal(t, "applied", visible["dwell"])

	unload := a.call(t, http.MethodPost, "/api/v1/lifecycle/unload", page())
	assert.Equal(t, true, unload["finalized"])

	state := a.call(t, http.MethodGet, "/api/v1/lifecycle/state", "")
	assert.Equal(t, "no_session", state["state"])

	a.core.Stop()

	rec, ok := a.backend.Record(taskID)
	require.True(t, ok, "session synced to backend")
	assert.NotNil(t, rec.TaskEndTime)
	require.Len(t, rec.ClickSequence, 1)
	assert.NotNil(t, rec.ClickSequence[0].DwellTimeSec)
	assert.Len(t, rec.ShowMoreInteractions, 1)
	assert.Equal(t, 2, rec.ShowMoreInteractions[0].ClickOrder)
	assert.Equal(t, 1, a.backend.Count(), "re-saves update the same record")

	summary := a.call(t, http.MethodGet, "/api/v1/analytics/summary", "")
	assert.Equal(t, float64(1), summary["total_sessions"])
	assert.Equal(t, float64(1), summary["total_clicks"])
}

func TestClearAllResetsAndPurgesBackend(t *testing.T) {
	a := newApp(t)

	a.call(t, http.MethodPost, "/api/v1/lifecycle/load", page())
	require.Eventually(t, func() bool { return a.backend.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	a.call(t, http.MethodDelete, "/api/v1/analytics", "")
	a.core.Stop()

	assert.Equal(t, int32(1), a.backend.DeleteAlls.Load())
	assert.Zero(t, a.backend.Count())

	snap := a.call(t, http.MethodGet, "/api/v1/analytics", "")
	assert.Nil(t, snap["current_session"])
}

func TestClearAllDropsRetryingSave(t *testing.T) {
	a := newApp(t, func(cfg *config.Config) {
		cfg.Backend.InitialBackoff = 100 * time.Millisecond
		cfg.Backend.MaxBackoff = 200 * time.Millisecond
	})
	a.backend.FailNextWrites(1)

	a.call(t, http.MethodPost, "/api/v1/lifecycle/load", page())
	// The first write fails and the save is waiting to retry.
	time.Sleep(20 * time.Millisecond)

	a.call(t, http.MethodDelete, "/api/v1/analytics", "")
	a.core.Stop()

	assert.Equal(t, int32(1), a.backend.DeleteAlls.Load())
	assert.Zero(t, a.backend.Count(), "no record survives the clear")
}

func TestHealthReportsDependencies(t *testing.T) {
	a := newApp(t)

	health := a.call(t, http.MethodGet, "/health", "")
	assert.Equal(t, "healthy", health["status"])
	checks, _ := health["checks"].(map[string]any)
	assert.Contains(t, checks, "storage")
	assert.Contains(t, checks, "backend")

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
