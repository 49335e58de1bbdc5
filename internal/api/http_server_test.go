package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/database"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/queue"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/repository"
)

type stubMonitor struct{ online bool }

func (m *stubMonitor) IsOnline() bool        { return m.online }
func (m *stubMonitor) SetOnline(online bool) { m.online = online }
func (m *stubMonitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	return ch, func() {}
}

type stubTrigger struct{}

func (stubTrigger) Kick()            {}
func (stubTrigger) IsDraining() bool { return false }

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestServer(t *testing.T) (*HTTPServer, domain.Store) {
	t.Helper()
	store := repository.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	logger := testLogger()
	manager := queue.NewManager(store, &stubMonitor{online: true}, stubTrigger{}, logger)

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:    config.APIAuthConfig{Enabled: false},
	}
	return NewHTTPServer(&cfg, store, manager, logger), store
}

func seedAction(t *testing.T, store domain.Store, id string, createdAt time.Time) {
	t.Helper()
	err := store.EnqueueAction(context.Background(), &models.QueuedAction{
		ID:        id,
		Type:      models.ActionUpdateStatus,
		Payload:   json.RawMessage(`{"delivery_id":"d-1"}`),
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("enqueue action: %v", err)
	}
}

func seedDeadLetter(t *testing.T, store domain.Store, id string, failedAt time.Time) {
	t.Helper()
	err := store.PushDeadLetter(context.Background(), &models.DeadLetterAction{
		ID:        id,
		Type:      models.ActionUpdateStatus,
		Payload:   json.RawMessage(`{}`),
		Reason:    models.DeadLetterRetriesExhausted,
		CreatedAt: failedAt.Add(-time.Minute),
		FailedAt:  failedAt,
	})
	if err != nil {
		t.Fatalf("push dead letter: %v", err)
	}
}

func TestStatus(t *testing.T) {
	server, store := newTestServer(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedAction(t, store, "a-1", base)
	seedAction(t, store, "a-2", base.Add(time.Second))
	seedDeadLetter(t, store, "dl-1", base.Add(time.Minute))

	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var body struct {
		Online         bool `json:"online"`
		Draining       bool `json:"draining"`
		PendingActions int  `json:"pending_actions"`
		DeadLetters    int  `json:"dead_letters"`
		UnsyncedPhotos int  `json:"unsynced_photos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if !body.Online {
		t.Fatalf("expected online=true")
	}
	if body.Draining {
		t.Fatalf("expected draining=false")
	}
	if body.PendingActions != 2 {
		t.Fatalf("expected 2 pending actions, got %d", body.PendingActions)
	}
	if body.DeadLetters != 1 {
		t.Fatalf("expected 1 dead letter, got %d", body.DeadLetters)
	}
	if body.UnsyncedPhotos != 0 {
		t.Fatalf("expected 0 unsynced photos, got %d", body.UnsyncedPhotos)
	}
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/v1/status", "application/json", http.NoBody)
	assert.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestQueue_ListsInCreationOrder(t *testing.T) {
	server, store := newTestServer(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedAction(t, store, "a-late", base.Add(time.Minute))
	seedAction(t, store, "a-early", base)

	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/queue")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var body struct {
		Actions []models.QueuedAction `json:"actions"`
		Count   int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.Count != 2 {
		t.Fatalf("expected count=2, got %d", body.Count)
	}
	if body.Actions[0].ID != "a-early" || body.Actions[1].ID != "a-late" {
		t.Fatalf("expected creation order, got %s then %s", body.Actions[0].ID, body.Actions[1].ID)
	}
}

func TestDeadLetter_LimitAndOrder(t *testing.T) {
	server, store := newTestServer(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedDeadLetter(t, store, "dl-old", base)
	seedDeadLetter(t, store, "dl-new", base.Add(time.Hour))

	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/deadletter?limit=1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var body struct {
		DeadLetters []models.DeadLetterAction `json:"dead_letters"`
		Count       int                       `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.Count != 1 {
		t.Fatalf("expected count=1, got %d", body.Count)
	}
	if body.DeadLetters[0].ID != "dl-new" {
		t.Fatalf("expected newest first, got %s", body.DeadLetters[0].ID)
	}
}

func TestDeadLetter_InvalidLimit(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	for _, raw := range []string{"abc", "-1"} {
		resp, err := http.Get(ts.URL + "/api/v1/deadletter?limit=" + raw)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", raw, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestReadyz_StoreDown(t *testing.T) {
	logger := testLogger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	db.Close()

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:    config.APIAuthConfig{Enabled: false},
	}
	server := NewHTTPServer(&cfg, db, nil, logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected runtime metrics in scrape output")
	}
}

func TestAuth(t *testing.T) {
	store := repository.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	logger := testLogger()
	manager := queue.NewManager(store, &stubMonitor{online: true}, stubTrigger{}, logger)

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Name: "ops", Permissions: []string{"read:queue"}},
			},
		},
	}
	server := NewHTTPServer(&cfg, store, manager, logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	t.Run("MissingHeader", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/queue", http.NoBody)
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/queue", http.NoBody)
		req.Header.Set("x-api-key", "wrong")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("ValidKey", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/queue", http.NoBody)
		req.Header.Set("x-api-key", "valid-key")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("WrongPermission", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/status", http.NoBody)
		req.Header.Set("x-api-key", "valid-key")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("HealthzOpen", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 without credentials, got %d", resp.StatusCode)
		}
	})

	t.Run("MetricsOpen", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 without credentials, got %d", resp.StatusCode)
		}
	})
}

func TestRateLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	logger := testLogger()
	manager := queue.NewManager(store, &stubMonitor{online: true}, stubTrigger{}, logger)

	cfg := config.APIConfig{
		Enabled:   true,
		HTTP:      config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:      config.APIAuthConfig{Enabled: false},
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1},
	}
	server := NewHTTPServer(&cfg, store, manager, logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp1, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("request 1 failed: %v", err)
	}
	defer resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("request 2 failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp2.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/api/v1/status", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}
}

func TestRequestIDEcho(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest("GET", ts.URL+"/healthz", http.NoBody)
	req.Header.Set("x-request-id", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("x-request-id"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	// Without a caller-supplied id the server generates one.
	resp2, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("x-request-id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestShutdown_Unstarted(t *testing.T) {
	server, _ := newTestServer(t)
	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown unstarted server: %v", err)
	}
}

// End to end: status and queue reflect what the manager persists.
func TestStatusReflectsQueuedActions(t *testing.T) {
	logger := testLogger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "agent.db"), logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	manager := queue.NewManager(db, &stubMonitor{online: false}, stubTrigger{}, logger)

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:    config.APIAuthConfig{Enabled: false},
	}
	server := NewHTTPServer(&cfg, db, manager, logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	checkPending(t, ts.URL, 0)

	if _, err := manager.QueueAction(context.Background(), models.ActionUpdateStatus, models.UpdateStatusPayload{
		DeliveryID: "d-1",
		Status:     models.DeliveryDelivered,
	}); err != nil {
		t.Fatalf("queue action: %v", err)
	}

	checkPending(t, ts.URL, 1)
}

func checkPending(t *testing.T, baseURL string, want int) {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/v1/status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	var body struct {
		PendingActions int `json:"pending_actions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PendingActions != want {
		t.Fatalf("pending_actions: want %d got %d", want, body.PendingActions)
	}
}
