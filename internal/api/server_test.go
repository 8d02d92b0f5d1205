package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-sync/internal/cache"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/queue"
	"github.com/scout-sync/internal/service"
	"github.com/scout-sync/internal/types"
	"github.com/scout-sync/internal/worker"
)

// Mock services for testing
type mockSync struct {
	state     worker.SyncState
	syncFunc  func(ctx context.Context) (*worker.PassResult, error)
	retryFunc func(ctx context.Context, localID string) (*worker.ItemResult, error)
	syncCtx   context.Context
}

func (m *mockSync) SyncPending(ctx context.Context) (*worker.PassResult, error) {
	m.syncCtx = ctx
	if m.syncFunc != nil {
		return m.syncFunc(ctx)
	}
	return &worker.PassResult{}, nil
}

func (m *mockSync) RetryItem(ctx context.Context, localID string) (*worker.ItemResult, error) {
	if m.retryFunc != nil {
		return m.retryFunc(ctx, localID)
	}
	return &worker.ItemResult{LocalID: localID, Status: types.SyncStatusSynced}, nil
}

func (m *mockSync) Status() worker.SyncState {
	return m.state
}

type mockQueue struct {
	entries  map[string]*models.OfflineObservation
	statuses []types.SyncStatus
	addFunc  func(ctx context.Context, in queue.ObservationInput) (*models.OfflineObservation, error)
}

func (m *mockQueue) Add(ctx context.Context, in queue.ObservationInput) (*models.OfflineObservation, error) {
	if m.addFunc != nil {
		return m.addFunc(ctx, in)
	}
	return &models.OfflineObservation{LocalID: "generated", Data: in.ObservationPayload, SyncStatus: types.SyncStatusPending}, nil
}

func (m *mockQueue) Get(_ context.Context, localID string) (*models.OfflineObservation, error) {
	obs, ok := m.entries[localID]
	if !ok {
		return nil, apperrors.NewNotFoundError("offline observation", localID)
	}
	return obs, nil
}

func (m *mockQueue) List(_ context.Context, statuses ...types.SyncStatus) ([]*models.OfflineObservation, error) {
	m.statuses = statuses
	for _, s := range statuses {
		if !s.IsValid() {
			return nil, apperrors.NewValidationError("status", "unknown sync status")
		}
	}
	var out []*models.OfflineObservation
	for _, obs := range m.entries {
		out = append(out, obs)
	}
	return out, nil
}

func (m *mockQueue) Stats(context.Context) (*queue.Stats, error) {
	return &queue.Stats{Pending: 2, Failed: 1, Exhausted: 1, Total: 3}, nil
}

type mockSubmissions struct {
	result *service.SubmissionResult
	err    error
}

func (m *mockSubmissions) Submit(context.Context, queue.ObservationInput) (*service.SubmissionResult, error) {
	return m.result, m.err
}

type mockCache struct {
	result *cache.ReadResult
	err    error
}

func (m *mockCache) ListPlayers(context.Context) (*cache.ReadResult, error) { return m.result, m.err }
func (m *mockCache) ListObservations(context.Context) (*cache.ReadResult, error) {
	return m.result, m.err
}

type mockConnectivity struct {
	online bool
}

func (m *mockConnectivity) IsOnline() bool        { return m.online }
func (m *mockConnectivity) SetOnline(online bool) { m.online = online }

type mockHealth struct {
	err error
}

func (m *mockHealth) Health(context.Context) error { return m.err }

type testDeps struct {
	sync   *mockSync
	queue  *mockQueue
	submit *mockSubmissions
	cache  *mockCache
	conn   *mockConnectivity
	health *mockHealth
}

func createTestServer(online bool) (*Server, *testDeps) {
	d := &testDeps{
		sync:   &mockSync{state: worker.SyncState{PendingCount: 1, Online: online}},
		queue:  &mockQueue{entries: map[string]*models.OfflineObservation{}},
		submit: &mockSubmissions{},
		cache:  &mockCache{result: &cache.ReadResult{}},
		conn:   &mockConnectivity{online: online},
		health: &mockHealth{},
	}
	cfg := DefaultServerConfig("127.0.0.1", "0")
	cfg.RequestsPerSecond = 0
	s := NewServer(cfg, Dependencies{
		Sync:         d.sync,
		Queue:        d.queue,
		Submissions:  d.submit,
		Cache:        d.cache,
		Connectivity: d.conn,
		LocalStore:   d.health,
	})
	return s, d
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s, d := createTestServer(true)

	w := doRequest(s, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	d.health.err = errors.New("disk I/O error")
	w = doRequest(s, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestSyncStatus(t *testing.T) {
	s, d := createTestServer(true)
	d.sync.state = worker.SyncState{
		PendingCount: 3,
		IsSyncing:    true,
		Progress:     types.SyncProgress{Current: 1, Total: 3},
		Online:       true,
	}

	w := doRequest(s, "GET", "/api/sync/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"pendingCount":3,"isSyncing":true,"syncProgress":{"current":1,"total":3},"online":true}`,
		w.Body.String())
}

func TestSyncNow(t *testing.T) {
	t.Run("offline is rejected", func(t *testing.T) {
		s, d := createTestServer(false)
		called := false
		d.sync.syncFunc = func(context.Context) (*worker.PassResult, error) {
			called = true
			return &worker.PassResult{}, nil
		}

		w := doRequest(s, "POST", "/api/sync", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, called)
	})

	t.Run("pass result returned", func(t *testing.T) {
		s, d := createTestServer(true)
		d.sync.syncFunc = func(context.Context) (*worker.PassResult, error) {
			return &worker.PassResult{Attempted: 2, Synced: 1, Failed: 1}, nil
		}

		w := doRequest(s, "POST", "/api/sync", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var result worker.PassResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, 1, result.Synced)
		assert.Equal(t, 1, result.Failed)
	})

	t.Run("pass detached from request", func(t *testing.T) {
		s, d := createTestServer(true)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req := httptest.NewRequest("POST", "/api/sync", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		require.NotNil(t, d.sync.syncCtx)
		assert.NoError(t, d.sync.syncCtx.Err())
	})

	t.Run("running pass reported as accepted", func(t *testing.T) {
		s, d := createTestServer(true)
		d.sync.syncFunc = func(context.Context) (*worker.PassResult, error) {
			return &worker.PassResult{Skipped: true}, nil
		}

		w := doRequest(s, "POST", "/api/sync", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, http.StatusOK},
		{"not found", apperrors.NewNotFoundError("offline observation", "x"), http.StatusNotFound},
		{"offline", apperrors.NewOfflineError("retry"), http.StatusServiceUnavailable},
		{"synced entry", apperrors.NewInvalidTransitionError("x", types.SyncStatusSynced, types.SyncStatusSyncing), http.StatusConflict},
		{"pass running", apperrors.NewConflictError("a sync pass is running"), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d := createTestServer(true)
			var gotID string
			d.sync.retryFunc = func(_ context.Context, localID string) (*worker.ItemResult, error) {
				gotID = localID
				if tt.err != nil {
					return nil, tt.err
				}
				return &worker.ItemResult{LocalID: localID, Status: types.SyncStatusSynced}, nil
			}

			w := doRequest(s, "POST", "/api/offline-observations/abc-123/retry", nil)

			assert.Equal(t, tt.expected, w.Code)
			assert.Equal(t, "abc-123", gotID)
		})
	}
}

func TestListOffline(t *testing.T) {
	s, d := createTestServer(true)
	d.queue.entries["a"] = &models.OfflineObservation{LocalID: "a", SyncStatus: types.SyncStatusFailed}

	w := doRequest(s, "GET", "/api/offline-observations?status=pending,failed", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []types.SyncStatus{types.SyncStatusPending, types.SyncStatusFailed}, d.queue.statuses)
	var resp OfflineListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = doRequest(s, "GET", "/api/offline-observations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListOffline_EmptyIsArray(t *testing.T) {
	s, _ := createTestServer(true)

	w := doRequest(s, "GET", "/api/offline-observations", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())
}

func TestGetOffline(t *testing.T) {
	s, d := createTestServer(true)
	d.queue.entries["a"] = &models.OfflineObservation{LocalID: "a", SyncStatus: types.SyncStatusPending}

	assert.Equal(t, http.StatusOK, doRequest(s, "GET", "/api/offline-observations/a", nil).Code)

	w := doRequest(s, "GET", "/api/offline-observations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueStats(t *testing.T) {
	s, _ := createTestServer(true)

	w := doRequest(s, "GET", "/api/offline-observations/stats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Exhausted)
}

func TestEnqueue(t *testing.T) {
	t.Run("invalid JSON", func(t *testing.T) {
		s, _ := createTestServer(true)
		w := doRequest(s, "POST", "/api/offline-observations", []byte("invalid json"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, ErrCodeInvalidInput, decodeError(t, w).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		s, _ := createTestServer(true)
		w := doRequest(s, "POST", "/api/offline-observations", []byte(`{"first_name":"Jan","shoe_size":44}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		s, d := createTestServer(true)
		d.queue.addFunc = func(context.Context, queue.ObservationInput) (*models.OfflineObservation, error) {
			return nil, apperrors.NewValidationError("first_name", "required")
		}
		w := doRequest(s, "POST", "/api/offline-observations", []byte(`{"last_name":"Kowalski"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("queue full", func(t *testing.T) {
		s, d := createTestServer(true)
		d.queue.addFunc = func(context.Context, queue.ObservationInput) (*models.OfflineObservation, error) {
			return nil, apperrors.NewQueueFullError(10)
		}
		w := doRequest(s, "POST", "/api/offline-observations", []byte(`{"last_name":"Kowalski"}`))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("queued", func(t *testing.T) {
		s, _ := createTestServer(true)
		body, _ := json.Marshal(map[string]interface{}{
			"first_name":       "Jan",
			"last_name":        "Kowalski",
			"birth_year":       2010,
			"source":           "scouting",
			"observation_date": "2025-03-01",
		})
		w := doRequest(s, "POST", "/api/offline-observations", body)

		require.Equal(t, http.StatusAccepted, w.Code)
		var obs models.OfflineObservation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obs))
		assert.Equal(t, "Kowalski", obs.Data.LastName)
	})
}

func TestSubmitObservation(t *testing.T) {
	s, d := createTestServer(true)

	d.submit.result = &service.SubmissionResult{LocalID: "l1", PlayerID: "P1", ObservationID: "O1"}
	w := doRequest(s, "POST", "/api/observations", []byte(`{"first_name":"Jan"}`))
	assert.Equal(t, http.StatusCreated, w.Code)

	d.submit.result = &service.SubmissionResult{LocalID: "l1", Queued: true}
	w = doRequest(s, "POST", "/api/observations", []byte(`{"first_name":"Jan"}`))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestReadThroughCache(t *testing.T) {
	s, d := createTestServer(false)
	d.cache.result = &cache.ReadResult{
		Records:   []json.RawMessage{json.RawMessage(`{"id":"P1"}`)},
		FromCache: true,
		CachedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	w := doRequest(s, "GET", "/api/players", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-From-Cache"))
	assert.Contains(t, w.Body.String(), `"id":"P1"`)

	d.cache.err = apperrors.NewRemoteError("list observations", errors.New("refused"))
	w = doRequest(s, "GET", "/api/observations", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestConnectivity(t *testing.T) {
	s, d := createTestServer(false)

	w := doRequest(s, "PUT", "/api/connectivity", []byte(`{"online":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, d.conn.online)

	w = doRequest(s, "PUT", "/api/connectivity", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, "GET", "/api/connectivity", nil)
	assert.JSONEq(t, `{"online":true}`, w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := createTestServer(true)

	w := doRequest(s, "OPTIONS", "/api/sync", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
