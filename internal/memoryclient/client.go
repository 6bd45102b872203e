// Package memoryclient is the HTTP client of the Memory Service API,
// consumed by the Agent Loop's recall-before-acting step and by skills
// that capture facts. Built on plain net/http plus an API-key header,
// gated by the *memory* circuit breaker and the *storage* backoff profile
// like the rest of the runtime's upstream calls.
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexus-core/agentruntime/internal/backoff"
	"github.com/nexus-core/agentruntime/internal/circuit"
	"github.com/nexus-core/agentruntime/internal/models"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Breaker    *circuit.Breaker
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Breaker == nil {
		c.Breaker = circuit.New("memory", circuit.Config{}, nil)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Client is the Agent Loop's handle onto the Memory Service HTTP API.
type Client struct {
	cfg Config
}

// New builds a Client against baseURL.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// AddResult is the response body of POST /add.
type AddResult struct {
	Success      bool   `json:"success"`
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

type addRequest struct {
	UserID    string         `json:"userId"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Add stores content for userID via the service's POST /add dedup contract.
func (c *Client) Add(ctx context.Context, userID, content string, metadata map[string]any, sessionID string) (AddResult, error) {
	var out AddResult
	err := c.call(ctx, http.MethodPost, "/add", addRequest{
		UserID: userID, Content: content, Metadata: metadata, SessionID: sessionID,
	}, &out)
	return out, err
}

type searchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Results []models.MemorySearchResult `json:"results"`
}

// Search queries up to limit memory items for userID via the service's
// POST /search ranking contract.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]models.MemorySearchResult, error) {
	var out searchResponse
	err := c.call(ctx, http.MethodPost, "/search", searchRequest{UserID: userID, Query: query, Limit: limit}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// List returns the most recent memories for userID via GET /memories/:userId.
func (c *Client) List(ctx context.Context, userID string, limit int) ([]models.MemoryItem, error) {
	path := fmt.Sprintf("/memories/%s", userID)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out struct {
		Memories []models.MemoryItem `json:"memories"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Memories, nil
}

// SessionMemories returns memories linked to sessionID via GET
// /sessions/:sessionId/memories.
func (c *Client) SessionMemories(ctx context.Context, sessionID string) ([]models.MemoryItem, error) {
	var out struct {
		Memories []models.MemoryItem `json:"memories"`
	}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/sessions/%s/memories", sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Memories, nil
}

// Delete removes a memory by id via DELETE /memories/:id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/memories/%s", id), nil, nil)
}

// Reset performs a scoped (userID != "") or global reset via POST /reset.
func (c *Client) Reset(ctx context.Context, userID string) error {
	body := map[string]string{}
	if userID != "" {
		body["userId"] = userID
	}
	return c.call(ctx, http.MethodPost, "/reset", body, nil)
}

// Stats is the response body of GET /stats. The bundled memoryserver
// reports memoryCount and userCount only, so DBSizeBytes is zero when
// talking to it.
type Stats struct {
	MemoryCount int64 `json:"memoryCount"`
	UserCount   int64 `json:"userCount"`
	DBSizeBytes int64 `json:"dbSizeBytes"`
}

// Stats fetches GET /stats.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.call(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// Health reports the service's GET /health; it is public and bypasses the
// API-key header.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// call performs one authenticated request, retried per the *storage*
// backoff profile and gated by the memory circuit breaker, degrading reads
// to StorageUnavailable rather than surfacing a raw transport error.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	op := func(attempt int) (struct{}, error) {
		if !c.cfg.Breaker.IsCallPermitted() {
			return struct{}{}, models.NewError(models.KindStorageUnavailable, "memory service unavailable", models.ErrUpstreamUnavailable)
		}
		err := c.do(ctx, method, path, body, out)
		if err != nil {
			c.cfg.Breaker.RecordFailure()
			return struct{}{}, err
		}
		c.cfg.Breaker.RecordSuccess()
		return struct{}{}, nil
	}
	res, err := backoff.WithBackoff(ctx, backoff.Storage, c.cfg.MaxRetries, op)
	if err == backoff.ErrMaxAttemptsExhausted {
		return models.NewError(models.KindStorageUnavailable, "memory service unavailable", res.LastError)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return models.NewError(models.KindAuthFailed, "memory service rejected API key", nil)
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("memory service %s %s: %d %s", method, path, resp.StatusCode, string(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
