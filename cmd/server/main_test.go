package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/api/handler"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/internal/queue"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── fakes ──────────────────────────────────────────────────────────────────

type testPinger struct {
	err error
}

func (p *testPinger) Ping(_ context.Context) error { return p.err }

type testKeyStore struct {
	count    int
	countErr error
	created  []*models.APIKey
}

func (s *testKeyStore) CountAPIKeys(_ context.Context) (int, error) { return s.count, s.countErr }

func (s *testKeyStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.created = append(s.created, key)
	return nil
}

type testReportStore struct {
	reports []*models.Report
	updated map[uuid.UUID]string
}

func (s *testReportStore) GetReport(_ context.Context, id uuid.UUID) (*models.Report, error) {
	for _, r := range s.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *testReportStore) ListReports(_ context.Context, f store.ReportFilter) ([]*models.Report, int, error) {
	start := (f.Page - 1) * f.Limit
	if start >= len(s.reports) {
		return nil, len(s.reports), nil
	}
	end := min(start+f.Limit, len(s.reports))
	return s.reports[start:end], len(s.reports), nil
}

func (s *testReportStore) UpdateReportStatus(_ context.Context, id uuid.UUID, status models.ReportStatus, opts ...store.StatusUpdateOption) error {
	if status != models.StatusFailed {
		return errors.New("unexpected status")
	}
	s.updated[id] = store.StatusMessage(opts...)
	for _, r := range s.reports {
		if r.ID == id {
			r.Status = status
			r.StatusMessage = s.updated[id]
		}
	}
	return nil
}

// statusOnlyStore exposes testReportStore to the status handler.
type statusOnlyStore struct {
	handler.ReportStore
	reports *testReportStore
}

func (s statusOnlyStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.reports.GetReport(ctx, id)
}

type testStatusCache struct {
	statuses map[uuid.UUID]string
	setErr   error
	deleted  []uuid.UUID
}

func newTestStatusCache() *testStatusCache {
	return &testStatusCache{statuses: map[uuid.UUID]string{}}
}

func (c *testStatusCache) SetReportStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.statuses[id] = status
	return nil
}

func (c *testStatusCache) GetReportStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	v, ok := c.statuses[id]
	return v, ok, nil
}

func (c *testStatusCache) DeleteReportStatus(_ context.Context, id uuid.UUID) error {
	delete(c.statuses, id)
	c.deleted = append(c.deleted, id)
	return nil
}

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testPinger{}, &testPinger{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		db     error
		cache  error
		failed []string
	}{
		{"database", errors.New("connection refused"), nil, []string{"database"}},
		{"cache", nil, errors.New("redis down"), []string{"cache"}},
		{"both", errors.New("db down"), errors.New("redis down"), []string{"database", "cache"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := healthHandler(&testPinger{err: tt.db}, &testPinger{err: tt.cache})

			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
			details := errObj["details"].(map[string]any)
			for _, svc := range tt.failed {
				assert.Equal(t, "degraded", details[svc])
			}
		})
	}
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "AI_PROVIDER"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("TRANSCRIBER", "whispercpp")
	t.Setenv("WHISPERCPP_MODEL_PATH", "/models/ggml-base.bin")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── bootstrap key ──────────────────────────────────────────────────────────

func TestEnsureBootstrapKey_GeneratesWhenEmpty(t *testing.T) {
	s := &testKeyStore{}

	require.NoError(t, ensureBootstrapKey(context.Background(), s, ""))

	require.Len(t, s.created, 1)
	assert.Equal(t, []string{models.ScopeAdmin}, s.created[0].Scopes)
	assert.NotEmpty(t, s.created[0].KeyHash)
}

func TestEnsureBootstrapKey_UsesConfiguredKey(t *testing.T) {
	s := &testKeyStore{}
	raw := "cf_bootstrap_secret_value"

	require.NoError(t, ensureBootstrapKey(context.Background(), s, raw))

	require.Len(t, s.created, 1)
	assert.Equal(t, raw[:8], s.created[0].KeyPrefix)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(s.created[0].KeyHash), []byte(raw)))
}

func TestEnsureBootstrapKey_SkipsWhenKeysExist(t *testing.T) {
	s := &testKeyStore{count: 2}

	require.NoError(t, ensureBootstrapKey(context.Background(), s, "cf_bootstrap_secret_value"))
	assert.Empty(t, s.created)
}

func TestEnsureBootstrapKey_Errors(t *testing.T) {
	err := ensureBootstrapKey(context.Background(), &testKeyStore{countErr: errors.New("db down")}, "")
	assert.Error(t, err)

	err = ensureBootstrapKey(context.Background(), &testKeyStore{}, "short")
	assert.Error(t, err)
}

// ─── restart recovery ───────────────────────────────────────────────────────

func TestRecoverUnfinished(t *testing.T) {
	var reports []*models.Report
	var wantPending []uuid.UUID
	for i := 0; i < 150; i++ {
		r := &models.Report{ID: uuid.New(), Status: models.StatusPending}
		if i%3 == 0 {
			r.Status = models.StatusTranscribing
		} else {
			wantPending = append(wantPending, r.ID)
		}
		reports = append(reports, r)
	}
	s := &testReportStore{reports: reports, updated: map[uuid.UUID]string{}}
	c := newTestStatusCache()

	pending, err := recoverUnfinished(context.Background(), s, c)
	require.NoError(t, err)

	assert.Equal(t, wantPending, pending)
	assert.Len(t, s.updated, 50)
	for id, msg := range s.updated {
		assert.Equal(t, "transcribing: interrupted by server restart", msg)
		assert.Equal(t, string(models.StatusFailed), c.statuses[id])
	}
}

func TestRecoverUnfinished_StatusEndpointShowsFailure(t *testing.T) {
	interrupted := &models.Report{ID: uuid.New(), Status: models.StatusTranscribing}
	s := &testReportStore{reports: []*models.Report{interrupted}, updated: map[uuid.UUID]string{}}
	c := newTestStatusCache()
	c.statuses[interrupted.ID] = string(models.StatusTranscribing)

	_, err := recoverUnfinished(context.Background(), s, c)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/api/v1/reports/{reportID}/status", handler.NewReportStatusHandler(statusOnlyStore{reports: s}, c))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+interrupted.ID.String()+"/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Status        string `json:"status"`
			Progress      int    `json:"progress"`
			StatusMessage string `json:"status_message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed", body.Data.Status)
	assert.Equal(t, 0, body.Data.Progress)
	assert.Equal(t, "transcribing: interrupted by server restart", body.Data.StatusMessage)
}

func TestRecoverUnfinished_CacheWriteFailureDropsEntry(t *testing.T) {
	interrupted := &models.Report{ID: uuid.New(), Status: models.StatusSummarizing}
	s := &testReportStore{reports: []*models.Report{interrupted}, updated: map[uuid.UUID]string{}}
	c := newTestStatusCache()
	c.statuses[interrupted.ID] = string(models.StatusSummarizing)
	c.setErr = errors.New("redis timeout")

	_, err := recoverUnfinished(context.Background(), s, c)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{interrupted.ID}, c.deleted)
	_, found := c.statuses[interrupted.ID]
	assert.False(t, found)
}

func TestEnqueueAll(t *testing.T) {
	q := queue.NewLocalQueue(4)
	defer q.Close()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	enqueueAll(context.Background(), q, ids)

	assert.Equal(t, 2, q.Len())
}

// ─── backend selection ──────────────────────────────────────────────────────

func TestNewQueue_Local(t *testing.T) {
	q, err := newQueue(config.QueueConfig{Backend: "local"})
	require.NoError(t, err)
	defer q.Close()

	_, ok := q.(*queue.LocalQueue)
	assert.True(t, ok)
}

func TestNewBlobStore_Local(t *testing.T) {
	s, err := newBlobStore(context.Background(), config.StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, s)
}
