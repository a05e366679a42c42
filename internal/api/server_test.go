package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/breaker"
	"github.com/grantwell/scholarship-ingest/internal/clock/system"
	"github.com/grantwell/scholarship-ingest/internal/config"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
	storemem "github.com/grantwell/scholarship-ingest/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fakeRunner struct {
	mu      sync.Mutex
	running bool
	lastRun *scholar.ScrapeRun
	calls   int
}

func (f *fakeRunner) RunAll(_ context.Context) (*scholar.ScrapeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	run := &scholar.ScrapeRun{ID: "run-1", SourcesAttempted: 2}
	f.lastRun = run
	return run, nil
}

func (f *fakeRunner) LastRun() (scholar.ScrapeRun, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastRun == nil {
		return scholar.ScrapeRun{}, false
	}
	return *f.lastRun, true
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) runCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSweeper struct {
	mu     sync.Mutex
	report *scholar.SweepReport
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(_ context.Context) (scholar.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return scholar.SweepReport{}, f.err
	}
	report := scholar.SweepReport{Checked: 3, Healthy: 2, Deactivated: 1, FinishedAt: time.Now()}
	f.report = &report
	return report, nil
}

func (f *fakeSweeper) LastReport() (scholar.SweepReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.report == nil {
		return scholar.SweepReport{}, false
	}
	return *f.report, true
}

func (f *fakeSweeper) sweepCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type serverEnv struct {
	server   *Server
	runner   *fakeRunner
	sweeper  *fakeSweeper
	breakers *breaker.Manager
	store    *storemem.Store
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *serverEnv {
	t.Helper()
	cfg := config.Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	env := &serverEnv{
		runner:   &fakeRunner{},
		sweeper:  &fakeSweeper{},
		breakers: breaker.NewManager(breaker.Config{FailureThreshold: 2}, system.Clock{}),
		store:    storemem.NewStore(),
	}
	env.server = NewServer(env.runner, env.breakers, env.store, env.sweeper, cfg, zap.NewNop())
	return env
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	rec := doRequest(t, env.server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(t, env.server, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", decodeBody(t, rec)["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStartRunAccepted(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	rec := doRequest(t, env.server, http.MethodPost, "/v1/runs")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "started", decodeBody(t, rec)["status"])

	require.Eventually(t, func() bool {
		return env.runner.runCalls() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartRunConflictsWhileRunning(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	env.runner.running = true

	rec := doRequest(t, env.server, http.MethodPost, "/v1/runs")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "in progress")
}

func TestLatestRun(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	rec := doRequest(t, env.server, http.MethodGet, "/v1/runs/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.runner.RunAll(context.Background())
	require.NoError(t, err)

	rec = doRequest(t, env.server, http.MethodGet, "/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	run, ok := body["run"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "run-1", run["id"])
}

func TestBreakerEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	boom := errors.New("boom")
	env.breakers.RecordFailure("fastweb", boom)
	env.breakers.RecordFailure("fastweb", boom)
	require.False(t, env.breakers.BeforeCall("fastweb").Allowed)

	rec := doRequest(t, env.server, http.MethodGet, "/v1/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	snapshots, ok := body["breakers"].([]any)
	require.True(t, ok)
	require.Len(t, snapshots, 1)

	rec = doRequest(t, env.server, http.MethodPost, "/v1/breakers/unknown/reset")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, env.server, http.MethodPost, "/v1/breakers/fastweb/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.breakers.BeforeCall("fastweb").Allowed)

	env.breakers.RecordFailure("fastweb", boom)
	env.breakers.RecordFailure("fastweb", boom)
	rec = doRequest(t, env.server, http.MethodPost, "/v1/breakers/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.breakers.BeforeCall("fastweb").Allowed)
}

func TestSweepEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	rec := doRequest(t, env.server, http.MethodGet, "/v1/sweeps/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, env.server, http.MethodPost, "/v1/sweeps")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return env.sweeper.sweepCalls() == 1
	}, time.Second, 10*time.Millisecond)

	rec = doRequest(t, env.server, http.MethodGet, "/v1/sweeps/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	sweep, ok := body["sweep"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 3, sweep["checked"])
}

func TestStatsIncludesLastSweep(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	require.NoError(t, env.store.Save(context.Background(), scholar.Scholarship{
		ID:           "rec-1",
		Title:        "STEM Excellence Award",
		Provider:     "Acme Foundation",
		IsActive:     true,
		QualityScore: 80,
	}))
	_, err := env.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	rec := doRequest(t, env.server, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 1, body["total_records"])
	require.EqualValues(t, 1, body["active_records"])
	require.NotEmpty(t, body["last_sweep"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "sekrit"
	})

	rec := doRequest(t, env.server, http.MethodGet, "/v1/breakers")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/breakers", nil)
	req.Header.Set("X-API-Key", "sekrit")
	resp := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	// Health endpoints stay open for probes even with auth on.
	rec = doRequest(t, env.server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	env.server.router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := doRequest(t, env.server, http.MethodGet, "/panic")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
