package memoryserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nexus-core/agentruntime/internal/auth"
	"github.com/nexus-core/agentruntime/internal/metrics"
)

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, NewHashEmbedder(32))

	s := NewServer(Config{Verifier: auth.NewVerifier("test-key")}, svc)
	return s.httpSrv.Handler, "test-key"
}

func doJSON(t *testing.T, h http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerRecordsMemoryOpsAndExposesMetrics(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, NewHashEmbedder(32))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := NewServer(Config{Verifier: auth.NewVerifier("test-key"), Metrics: m, MetricsRegistry: reg}, svc)
	h := s.httpSrv.Handler

	doJSON(t, h, http.MethodPost, "/add", "test-key", map[string]any{"userId": "u1", "content": "hello"})

	if got := testutil.ToFloat64(m.MemoryOps.WithLabelValues("add", "ok")); got != 1 {
		t.Fatalf("expected add/ok counter of 1, got %v", got)
	}

	rec := doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /metrics to be served, got %d", rec.Code)
	}
}

func TestServerHealthIsPublic(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServerRejectsMissingAPIKey(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/add", "", map[string]any{"userId": "u1", "content": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServerAddSearchRoundTrip(t *testing.T) {
	h, key := newTestServer(t)

	addRec := doJSON(t, h, http.MethodPost, "/add", key, map[string]any{
		"userId":  "u1",
		"content": "the garden needs watering",
	})
	if addRec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", addRec.Code, addRec.Body.String())
	}
	var added AddResult
	if err := json.Unmarshal(addRec.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	if added.ID == "" {
		t.Fatal("expected non-empty id")
	}

	searchRec := doJSON(t, h, http.MethodPost, "/search", key, map[string]any{
		"userId": "u1",
		"query":  "garden",
	})
	if searchRec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", searchRec.Code, searchRec.Body.String())
	}
	var searchBody struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(searchRec.Body.Bytes(), &searchBody); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(searchBody.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(searchBody.Results))
	}

	deleteRec := doJSON(t, h, http.MethodDelete, "/memories/"+added.ID, key, nil)
	if deleteRec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", deleteRec.Code)
	}

	statsRec := doJSON(t, h, http.MethodGet, "/stats", key, nil)
	var stats struct {
		MemoryCount int64 `json:"memoryCount"`
	}
	if err := json.Unmarshal(statsRec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.MemoryCount != 0 {
		t.Fatalf("expected 0 memories after delete, got %d", stats.MemoryCount)
	}
}

func TestServerSessionMemoriesRoute(t *testing.T) {
	h, key := newTestServer(t)

	doJSON(t, h, http.MethodPost, "/add", key, map[string]any{
		"userId":    "u1",
		"content":   "linked to a session",
		"sessionId": "sess-1",
	})

	rec := doJSON(t, h, http.MethodGet, "/sessions/sess-1/memories", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Memories []map[string]any `json:"memories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Memories) != 1 {
		t.Fatalf("expected 1 linked memory, got %d", len(body.Memories))
	}
}
