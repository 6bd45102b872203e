// Package gateway is the JSON-RPC WebSocket Gateway: three-tier
// auth-on-upgrade, a JSON-RPC 2.0 envelope over text frames, session
// multiplexing per connection, heartbeat ping/pong, and a pub/sub bridge
// from the Notification Bus to subscribed clients. Each connection runs
// its own upgrade/readLoop/writeLoop goroutines with a ping ticker
// keeping it alive.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/approval"
	"github.com/nexus-core/agentruntime/internal/auth"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/notify"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

const (
	maxPayloadBytes    = 1 << 20
	pingInterval       = 30 * time.Second
	pongWait           = 90 * time.Second
	writeWait          = 10 * time.Second
	defaultMaxSessions = 5

	// runRateLimit and runRateBurst bound how fast one connection can
	// spin up agent.run sessions, independent of the concurrent-session
	// cap, so a misbehaving client can't starve others by rapid-firing
	// short runs.
	runRateLimit = 2 // per second
	runRateBurst = 5
)

// Deps bundles the collaborators the Gateway needs to build and run Agent
// Loops for agent.run, grounded on subagent.LoopFactory's construction
// style but for the top-level (non-subagent) run path.
type Deps struct {
	Tools               *toolregistry.Registry
	Brain               brain.Brain
	Approval            *approval.Manager
	Memory              agentloop.MemorySource
	Spawner             agentloop.Spawner
	Bus                 *notify.Bus
	APIKeyVerifier      *auth.Verifier
	JWTVerifier         *auth.JWTVerifier
	DefaultSystemPrompt string
	MaxSessionsPerClient int
	Logger              *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxSessionsPerClient <= 0 {
		d.MaxSessionsPerClient = defaultMaxSessions
	}
	return d
}

// Server owns active connections and bridges Notification Bus traffic to
// them.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]*clientConn
	sessions map[string]*clientConn // sessionID -> owning connection
}

// NewServer builds a Server ready to be mounted at an HTTP path.
func NewServer(deps Deps) *Server {
	deps = deps.withDefaults()
	return &Server{
		deps:     deps,
		conns:    make(map[string]*clientConn),
		sessions: make(map[string]*clientConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ActiveSessions returns the number of sessions currently registered for
// pub/sub routing, for gauge polling by callers that export metrics.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run starts the pub/sub bridge loop, consuming Notification Bus traffic
// on the "core:notify:*" pattern until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s.deps.Bus == nil {
		return
	}
	events := s.deps.Bus.Subscribe(ctx, "core:notify:*")
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			s.route(n)
		}
	}
}

// ServeHTTP upgrades the connection after the three-tier auth check: the
// first of header, query token, or subprotocol token to succeed accepts
// the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cc := &clientConn{
		id:        uuid.NewString(),
		clientID:  clientID,
		conn:      conn,
		send:      make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
		server:    s,
		runs:      make(map[string]context.CancelFunc),
		runLimiter: rate.NewLimiter(runRateLimit, runRateBurst),
	}

	s.mu.Lock()
	s.conns[cc.id] = cc
	s.mu.Unlock()

	cc.run()

	s.mu.Lock()
	delete(s.conns, cc.id)
	for sid, owner := range s.sessions {
		if owner == cc {
			delete(s.sessions, sid)
		}
	}
	s.mu.Unlock()
}

// authenticate implements the three-tier check: X-API-Key header,
// ?token= query JWT, or a JWT-like Sec-WebSocket-Protocol value. Any
// success accepts; all failing rejects with 401.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" && s.deps.APIKeyVerifier != nil {
		if err := s.deps.APIKeyVerifier.Check(key); err == nil {
			return "api-key", nil
		}
	}

	if token := r.URL.Query().Get("token"); token != "" && s.deps.JWTVerifier != nil {
		if clientID, err := s.deps.JWTVerifier.Verify(token); err == nil {
			return clientID, nil
		}
	}

	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" && s.deps.JWTVerifier != nil {
		for _, candidate := range strings.Split(proto, ",") {
			candidate = strings.TrimSpace(candidate)
			if auth.LooksLikeJWT(candidate) {
				if clientID, err := s.deps.JWTVerifier.Verify(candidate); err == nil {
					return clientID, nil
				}
			}
		}
	}

	return "", errors.New("authentication failed")
}

// registerSession records sessionID's owning connection for pub/sub
// routing, and enforces the per-client running-session cap. The caller has
// already added sessionID to cc.runs, so the cap is exceeded only when
// cc.runs holds more than MaxSessionsPerClient entries.
func (s *Server) registerSession(cc *clientConn, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cc.runs) > s.deps.MaxSessionsPerClient {
		return false
	}
	s.sessions[sessionID] = cc
	return true
}

func (s *Server) unregisterSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// route dispatches one bridged Notification by its channel: global reaches
// every connection whose subscription filter accepts it, approval reaches
// every connection regardless of filter, agent:<sessionId> reaches only the
// connection that owns the session, and any other channel (schedule
// included) reaches every connection regardless of filter.
func (s *Server) route(n models.Notification) {
	switch {
	case n.Channel == models.ChannelGlobal:
		s.broadcast(n, true)
	case n.Channel == models.ChannelApproval:
		s.broadcast(n, false)
	case strings.HasPrefix(n.Channel, "agent:"):
		sessionID := strings.TrimPrefix(n.Channel, "agent:")
		s.mu.Lock()
		owner := s.sessions[sessionID]
		s.mu.Unlock()
		if owner != nil {
			owner.deliver(n)
		}
	default:
		s.broadcast(n, false)
	}
}

// broadcast fans n out to every connection, honoring each connection's
// subscription filter when respectFilter is set.
func (s *Server) broadcast(n models.Notification, respectFilter bool) {
	s.mu.Lock()
	targets := make([]*clientConn, 0, len(s.conns))
	for _, cc := range s.conns {
		targets = append(targets, cc)
	}
	s.mu.Unlock()

	for _, cc := range targets {
		if respectFilter && !cc.accepts(n.Channel) {
			continue
		}
		cc.deliver(n)
	}
}
