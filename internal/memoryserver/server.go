package memoryserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexus-core/agentruntime/internal/auth"
	"github.com/nexus-core/agentruntime/internal/metrics"
	"github.com/nexus-core/agentruntime/internal/models"
)

// Config configures a Server.
type Config struct {
	Addr     string
	Verifier *auth.Verifier
	Logger   *slog.Logger

	// Metrics records op counters; nil disables instrumentation.
	Metrics *metrics.Metrics
	// MetricsRegistry, when set alongside Metrics, mounts /metrics on the
	// same listener as the Memory Service API.
	MetricsRegistry *prometheus.Registry
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server exposes the Memory Service HTTP API over a Service.
type Server struct {
	cfg      Config
	svc      *Service
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer wires svc behind the service's HTTP route set.
func NewServer(cfg Config, svc *Service) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/add", s.authenticated(s.handleAdd))
	mux.Handle("/search", s.authenticated(s.handleSearch))
	mux.Handle("/memories/", s.authenticated(s.handleMemoriesByID))
	mux.Handle("/sessions/", s.authenticated(s.handleSessionMemories))
	mux.Handle("/reset", s.authenticated(s.handleReset))
	mux.Handle("/stats", s.authenticated(s.handleStats))
	if cfg.Metrics != nil && cfg.MetricsRegistry != nil {
		mux.Handle("/metrics", metrics.Handler(cfg.MetricsRegistry))
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. It returns once the listener is
// bound so callers can observe bind failures synchronously.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("memoryserver: listen: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("memory server error", "error", err)
		}
	}()
	s.cfg.Logger.Info("memory service listening", "addr", s.cfg.Addr)
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// authenticated wraps h requiring a valid X-API-Key header on every route
// except /health.
func (s *Server) authenticated(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.cfg.Verifier.Check(r.Header.Get("X-API-Key")); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// recordOp increments MemoryOps for op, labeled ok/error, when metrics are
// configured.
func (s *Server) recordOp(op string, err error) {
	if s.cfg.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.cfg.Metrics.MemoryOps.WithLabelValues(op, status).Inc()
}

type addRequest struct {
	UserID    string         `json:"userId"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "userId and content are required")
		return
	}

	result, err := s.svc.Add(r.Context(), req.UserID, req.Content, req.Metadata, req.SessionID)
	s.recordOp("add", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	results, err := s.svc.Search(r.Context(), req.UserID, req.Query, req.Limit)
	s.recordOp("search", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleMemoriesByID dispatches GET /memories/:userId and
// DELETE /memories/:id on the shared "/memories/" prefix.
func (s *Server) handleMemoriesByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/memories/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		items, err := s.svc.List(r.Context(), id, limit)
		s.recordOp("list", err)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"memories": items})
	case http.MethodDelete:
		err := s.svc.Delete(r.Context(), id)
		s.recordOp("delete", err)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or DELETE required")
	}
}

// handleSessionMemories serves GET /sessions/:sessionId/memories.
func (s *Server) handleSessionMemories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sessionID, rest, ok := strings.Cut(path, "/")
	if !ok || sessionID == "" || rest != "memories" {
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	items, err := s.svc.SessionMemories(r.Context(), sessionID)
	s.recordOp("session_memories", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": items})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		UserID string `json:"userId,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	err := s.svc.Reset(r.Context(), req.UserID)
	s.recordOp("reset", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	stats, err := s.svc.Stats(r.Context())
	s.recordOp("stats", err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memoryCount": stats.MemoryCount,
		"userCount":   stats.UserCount,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var rerr *models.RuntimeError
	if errors.As(err, &rerr) && rerr.Kind == models.KindInvalidArguments {
		writeError(w, http.StatusNotFound, rerr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
