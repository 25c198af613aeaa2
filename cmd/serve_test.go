package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/org-directory/internal/cache"
	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/config"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/monitoring"
	"github.com/sells-group/org-directory/internal/store"
)

type testAPI struct {
	api     *statusAPI
	handler http.Handler
}

func newTestAPI(t *testing.T, withCache bool) *testAPI {
	t.Helper()
	dir := t.TempDir()

	ckpt, err := checkpoint.New(filepath.Join(dir, "checkpoints"), model.Canonical().Version())
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	api := &statusAPI{
		ckpt:      ckpt,
		store:     st,
		collector: monitoring.NewCollector(st),
		alerter:   monitoring.NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25}),
		lookback:  24,
	}
	if withCache {
		b, err := cache.OpenSQLite(filepath.Join(dir, "cache.db"))
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() }) //nolint:errcheck
		api.cache = b
	}
	return &testAPI{api: api, handler: buildRouter(api, []string{"*"})}
}

func (ta *testAPI) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	ta := newTestAPI(t, false)

	rr := ta.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_ListCheckpoints(t *testing.T) {
	ta := newTestAPI(t, false)

	rr := ta.do(t, http.MethodGet, "/checkpoints")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	require.NoError(t, ta.api.ckpt.Save("extractor_irs_bmf", model.Batch{}))
	rr = ta.do(t, http.MethodGet, "/checkpoints")
	require.Equal(t, http.StatusOK, rr.Code)

	var infos []checkpoint.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "extractor_irs_bmf", infos[0].Name)
	assert.True(t, infos[0].Valid)
}

func TestRouter_ClearCheckpoint(t *testing.T) {
	ta := newTestAPI(t, false)
	require.NoError(t, ta.api.ckpt.Save("propublica_partial", map[string]int{"done": 3}))

	rr := ta.do(t, http.MethodDelete, "/checkpoints/propublica_partial")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, ta.api.ckpt.Exists("propublica_partial"))

	rr = ta.do(t, http.MethodDelete, "/checkpoints/propublica_partial")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "not found")
}

func TestRouter_ClearCache(t *testing.T) {
	ta := newTestAPI(t, true)
	ctx := context.Background()
	require.NoError(t, ta.api.cache.Put(ctx, "propublica", "k1", cache.Entry{Status: 200, Body: []byte("{}")}))
	require.NoError(t, ta.api.cache.Put(ctx, "propublica", "k2", cache.Entry{Status: 200, Body: []byte("{}")}))
	require.NoError(t, ta.api.cache.Put(ctx, "charity_nav", "k1", cache.Entry{Status: 200, Body: []byte("{}")}))

	rr := ta.do(t, http.MethodDelete, "/cache/propublica")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Source  string `json:"source"`
		Removed int    `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "propublica", body.Source)
	assert.Equal(t, 2, body.Removed)

	e, err := ta.api.cache.Get(ctx, "charity_nav", "k1")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRouter_ClearCache_Disabled(t *testing.T) {
	ta := newTestAPI(t, false)

	rr := ta.do(t, http.MethodDelete, "/cache/propublica")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRouter_Runs(t *testing.T) {
	ta := newTestAPI(t, false)
	ctx := context.Background()

	rr := ta.do(t, http.MethodGet, "/runs")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	run, err := ta.api.store.CreateRun(ctx, model.RunOptions{State: "KY"})
	require.NoError(t, err)
	ph, err := ta.api.store.CreatePhase(ctx, run.ID, "1_base")
	require.NoError(t, err)
	require.NoError(t, ta.api.store.CompletePhase(ctx, ph.ID, &model.PhaseResult{Name: "1_base", Status: model.PhaseStatusComplete, Records: 10}))
	require.NoError(t, ta.api.store.CompleteRun(ctx, run.ID, &model.RunResult{Records: 10}))

	rr = ta.do(t, http.MethodGet, "/runs?status=complete&limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "KY", runs[0].Options.State)

	rr = ta.do(t, http.MethodGet, "/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		ID     string           `json:"id"`
		Phases []model.RunPhase `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, run.ID, detail.ID)
	require.Len(t, detail.Phases, 1)
	assert.Equal(t, 10, detail.Phases[0].Result.Records)
}

func TestRouter_Runs_Errors(t *testing.T) {
	ta := newTestAPI(t, false)

	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodGet, "/runs?limit=abc").Code)
	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodGet, "/runs/missing").Code)
}

func TestRouter_CORS(t *testing.T) {
	ta := newTestAPI(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/checkpoints", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Monitoring(t *testing.T) {
	ta := newTestAPI(t, false)

	rr := ta.do(t, http.MethodGet, "/monitoring")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Snapshot monitoring.MetricsSnapshot `json:"snapshot"`
		Alerts   []monitoring.Alert         `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 24, body.Snapshot.LookbackHours)
	require.Len(t, body.Alerts, 1)
	assert.Equal(t, monitoring.AlertStaleDirectory, body.Alerts[0].Type)
}
