package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/models"
)

// clientConn is one authenticated WebSocket connection, able to own
// multiple concurrently-running sessions up to its configured cap.
type clientConn struct {
	id       string
	clientID string
	conn     *websocket.Conn
	send     chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	server   *Server

	mu         sync.Mutex
	runs       map[string]context.CancelFunc
	runLimiter *rate.Limiter

	filterMu sync.Mutex
	filter   []string // empty means accept all

	sendMu sync.RWMutex
	closed bool
}

func (c *clientConn) run() {
	defer c.close()
	go c.writeLoop()
	go c.pingLoop()
	c.readLoop()
}

func (c *clientConn) close() {
	c.cancel()

	c.sendMu.Lock()
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()

	_ = c.conn.Close()

	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.runs))
	for _, cancel := range c.runs {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel() // disconnect cancels every running session owned by this connection
	}
}

func (c *clientConn) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueueResponse(newError(nil, codeParseError, "invalid JSON"))
			continue
		}
		if req.Method == "" {
			c.enqueueResponse(newError(req.ID, codeInvalidRequest, "method is required"))
			continue
		}
		c.dispatch(req)
	}
}

func (c *clientConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *clientConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *clientConn) dispatch(req rpcRequest) {
	switch req.Method {
	case "system.ping":
		c.enqueueResponse(newResult(req.ID, map[string]any{"pong": true, "timestamp": time.Now().UnixMilli()}))
	case "tools.list":
		c.handleToolsList(req)
	case "agent.run":
		c.handleAgentRun(req)
	case "agent.cancel":
		c.handleAgentCancel(req)
	case "notify.subscribe":
		c.handleSubscribe(req, true)
	case "notify.unsubscribe":
		c.handleSubscribe(req, false)
	default:
		c.enqueueResponse(newError(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (c *clientConn) handleToolsList(req rpcRequest) {
	defs := c.server.deps.Tools.Snapshot()
	tools := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		var params any
		_ = json.Unmarshal(d.Parameters, &params)
		tools = append(tools, map[string]any{
			"name":             d.Name,
			"description":      d.Description,
			"parameters":       params,
			"scope":            d.Scope,
			"requiresApproval": d.RequiresApproval != nil,
		})
	}
	c.enqueueResponse(newResult(req.ID, map[string]any{"tools": tools}))
}

type agentRunParams struct {
	Task      string `json:"task"`
	SessionID string `json:"sessionId,omitempty"`
	MaxTurns  int    `json:"maxTurns,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

func (c *clientConn) handleAgentRun(req rpcRequest) {
	var params agentRunParams
	if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.Task) == "" {
		c.enqueueResponse(newError(req.ID, codeInvalidParams, "task is required"))
		return
	}

	if !c.runLimiter.Allow() {
		c.enqueueResponse(newError(req.ID, codeSessionLimit, "run rate exceeded, slow down"))
		return
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	if _, exists := c.runs[sessionID]; exists {
		c.mu.Unlock()
		cancel()
		c.enqueueResponse(newError(req.ID, codeInvalidRequest, "session already running"))
		return
	}
	if len(c.runs) >= c.server.deps.MaxSessionsPerClient {
		c.mu.Unlock()
		cancel()
		c.enqueueResponse(newError(req.ID, codeSessionLimit, "session limit exceeded"))
		return
	}
	c.runs[sessionID] = cancel
	c.mu.Unlock()

	if !c.server.registerSession(c, sessionID) {
		c.mu.Lock()
		delete(c.runs, sessionID)
		c.mu.Unlock()
		cancel()
		c.enqueueResponse(newError(req.ID, codeSessionLimit, "session limit exceeded"))
		return
	}

	go c.runAgent(runCtx, req.ID, sessionID, params)
}

func (c *clientConn) runAgent(ctx context.Context, reqID any, sessionID string, params agentRunParams) {
	defer func() {
		c.mu.Lock()
		delete(c.runs, sessionID)
		c.mu.Unlock()
		c.server.unregisterSession(sessionID)
	}()

	budgets := agentloop.DefaultBudgets()
	if params.MaxTurns > 0 {
		budgets.MaxTurns = params.MaxTurns
	}

	schemas := make([]brain.ToolSchema, 0)
	for _, d := range c.server.deps.Tools.Snapshot() {
		schemas = append(schemas, brain.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}

	loop := agentloop.New(agentloop.Deps{
		Brain:    c.server.deps.Brain,
		Tools:    c.server.deps.Tools,
		Approval: c.server.deps.Approval,
		Memory:   c.server.deps.Memory,
		Spawner:  c.server.deps.Spawner,
		Sink:     &eventSink{conn: c},
		Logger:   c.server.deps.Logger,
	}, agentloop.Config{
		SessionID:    sessionID,
		UserID:       c.clientID,
		Task:         params.Task,
		SystemPrompt: c.server.deps.DefaultSystemPrompt,
		Tools:        schemas,
		Budgets:      budgets,
		Notifier:     c.server.deps.Bus,
	})

	result := loop.Run(ctx)
	c.enqueueResponse(newResult(reqID, map[string]any{
		"sessionId":         result.SessionID,
		"success":           result.Success,
		"answer":            result.Answer,
		"turns":             result.Stats.Turns,
		"stoppedReason":     result.StoppedReason,
		"totalInputTokens":  result.Stats.TotalInputTokens,
		"totalOutputTokens": result.Stats.TotalOutputTokens,
	}))
}

type agentCancelParams struct {
	SessionID string `json:"sessionId"`
}

func (c *clientConn) handleAgentCancel(req rpcRequest) {
	var params agentCancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.SessionID == "" {
		c.enqueueResponse(newError(req.ID, codeInvalidParams, "sessionId is required"))
		return
	}

	c.mu.Lock()
	cancel, ok := c.runs[params.SessionID]
	c.mu.Unlock()
	if !ok {
		c.enqueueResponse(newError(req.ID, codeSessionNotFound, fmt.Sprintf("no running session %q", params.SessionID)))
		return
	}
	cancel()
	c.enqueueResponse(newResult(req.ID, map[string]any{"sessionId": params.SessionID, "cancelled": true}))
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

func (c *clientConn) handleSubscribe(req rpcRequest, subscribe bool) {
	var params subscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.enqueueResponse(newError(req.ID, codeInvalidParams, "channels is required"))
		return
	}

	c.filterMu.Lock()
	if subscribe {
		c.filter = appendUnique(c.filter, params.Channels)
	} else {
		c.filter = removeAll(c.filter, params.Channels)
	}
	snapshot := append([]string(nil), c.filter...)
	c.filterMu.Unlock()

	c.enqueueResponse(newResult(req.ID, map[string]any{"subscribed": snapshot}))
}

// accepts reports whether n's channel passes this connection's filter: an
// empty filter accepts everything; entries match by full name or by the
// prefix before the first colon.
func (c *clientConn) accepts(channel string) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if len(c.filter) == 0 {
		return true
	}
	prefix, _, _ := strings.Cut(channel, ":")
	for _, f := range c.filter {
		if f == channel || f == prefix {
			return true
		}
	}
	return false
}

func (c *clientConn) deliver(n models.Notification) {
	c.enqueueNotification(newNotification("notify."+n.Event, map[string]any{
		"channel":   n.Channel,
		"event":     n.Event,
		"data":      n.Data,
		"timestamp": n.Timestamp,
	}))
}

func (c *clientConn) enqueueResponse(resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *clientConn) enqueueNotification(n rpcNotification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue pushes a raw frame onto the write channel, dropping it if the
// writer is backed up rather than blocking the reader. Safe to call after
// the connection has closed: a closed connection simply drops the frame.
func (c *clientConn) enqueue(data []byte) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func appendUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	for _, a := range add {
		if !seen[a] {
			existing = append(existing, a)
			seen[a] = true
		}
	}
	return existing
}

func removeAll(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[r] = true
	}
	out := existing[:0]
	for _, e := range existing {
		if !drop[e] {
			out = append(out, e)
		}
	}
	return out
}

// eventSink adapts the Agent Loop's event stream onto agent.event
// notifications for the connection owning the session.
type eventSink struct {
	conn *clientConn
}

func (e *eventSink) Emit(ctx context.Context, ev models.AgentEvent) {
	e.conn.enqueueNotification(newNotification("agent.event", ev))
}
