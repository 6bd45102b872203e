package memoryserver

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
)

const (
	dedupThreshold   = 0.92
	dedupSearchWindow = 50
	decayHalfLifeDays = 30.0
	cosineWeight      = 0.7
	decayWeight       = 0.3
)

// Service implements the Memory Service's business logic over a Store and
// an optional Embedder. The dedup threshold and decay half-life are exposed
// as fields; the cosine/decay ranking weights are the package constants
// cosineWeight and decayWeight.
type Service struct {
	store    *Store
	embedder Embedder

	DedupThreshold float64
	DecayHalfLife  float64
}

// NewService builds a Service. embedder may be nil to run in
// substring-fallback mode.
func NewService(store *Store, embedder Embedder) *Service {
	return &Service{
		store:          store,
		embedder:       embedder,
		DedupThreshold: dedupThreshold,
		DecayHalfLife:  decayHalfLifeDays,
	}
}

// AddResult mirrors the HTTP /add response body.
type AddResult struct {
	Success      bool
	ID           string
	Deduplicated bool
}

// Add embeds content (if an embedder is configured), checks the last
// dedupSearchWindow memories of userID for a cosine match at or above
// DedupThreshold, and either merges into the existing record or inserts a
// new one.
func (s *Service) Add(ctx context.Context, userID, content string, metadata map[string]any, sessionID string) (AddResult, error) {
	var embedding []float32
	if s.embedder != nil {
		embedding = s.embedder.Embed(content)
	}

	if embedding != nil {
		recent, err := s.store.RecentByUser(ctx, userID, dedupSearchWindow)
		if err != nil {
			return AddResult{}, err
		}
		for _, r := range recent {
			if len(r.Embedding) == 0 {
				continue
			}
			if cosineSimilarity(embedding, r.Embedding) >= s.DedupThreshold {
				if err := s.store.Update(ctx, r.ID, content, embedding, metadata); err != nil {
					return AddResult{}, err
				}
				if err := s.store.LinkSession(ctx, r.ID, sessionID); err != nil {
					return AddResult{}, err
				}
				return AddResult{Success: true, ID: r.ID, Deduplicated: true}, nil
			}
		}
	}

	id, err := s.store.Insert(ctx, userID, content, embedding, metadata)
	if err != nil {
		return AddResult{}, err
	}
	if err := s.store.LinkSession(ctx, id, sessionID); err != nil {
		return AddResult{}, err
	}
	return AddResult{Success: true, ID: id}, nil
}

// Search implements the service's POST /search ranking contract: empty
// query returns most-recent limit; with an embedder configured, ranks by
// 0.7*cosine + 0.3*decay(age); otherwise falls back to substring match
// with a decay-only score.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]models.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	if strings.TrimSpace(query) == "" {
		recent, err := s.store.RecentByUser(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]models.MemorySearchResult, 0, len(recent))
		for _, r := range recent {
			out = append(out, toResult(r, s.decay(r.CreatedAt)))
		}
		return out, nil
	}

	all, err := s.store.AllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		r     row
		score float64
	}
	var candidates []scored

	if s.embedder != nil {
		queryVec := s.embedder.Embed(query)
		for _, r := range all {
			if len(r.Embedding) == 0 {
				continue
			}
			score := cosineWeight*cosineSimilarity(queryVec, r.Embedding) + decayWeight*s.decay(r.CreatedAt)
			candidates = append(candidates, scored{r, score})
		}
	} else {
		needle := strings.ToLower(query)
		for _, r := range all {
			if strings.Contains(strings.ToLower(r.Content), needle) {
				candidates = append(candidates, scored{r, s.decay(r.CreatedAt)})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]models.MemorySearchResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, toResult(c.r, c.score))
	}
	return out, nil
}

func toResult(r row, score float64) models.MemorySearchResult {
	return models.MemorySearchResult{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: score, CreatedAt: r.CreatedAt}
}

// decay implements decay = 0.5^(ageDays/halfLife).
func (s *Service) decay(createdAt time.Time) float64 {
	ageDays := time.Since(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/s.DecayHalfLife)
}

// List returns up to limit most-recent memories for userID (GET
// /memories/:userId).
func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.MemoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.store.RecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return toItems(rows), nil
}

// SessionMemories returns memories linked to sessionID.
func (s *Service) SessionMemories(ctx context.Context, sessionID string) ([]models.MemoryItem, error) {
	rows, err := s.store.BySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toItems(rows), nil
}

// Delete removes a memory and its session links.
func (s *Service) Delete(ctx context.Context, id string) error { return s.store.Delete(ctx, id) }

// Reset performs a scoped or global reset.
func (s *Service) Reset(ctx context.Context, userID string) error { return s.store.Reset(ctx, userID) }

// StatsResult mirrors the HTTP /stats response body.
type StatsResult struct {
	MemoryCount int64
	UserCount   int64
}

// Stats reports aggregate counts.
func (s *Service) Stats(ctx context.Context) (StatsResult, error) {
	count, users, err := s.store.Stats(ctx)
	if err != nil {
		return StatsResult{}, err
	}
	return StatsResult{MemoryCount: count, UserCount: users}, nil
}

func toItems(rows []row) []models.MemoryItem {
	out := make([]models.MemoryItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toItem())
	}
	return out
}
