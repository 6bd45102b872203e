package models

import "time"

// MemoryItem is one stored episodic/procedural fact. If Embedding is
// present it must share its dimension with every other embedding stored
// for the same user.
type MemoryItem struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Content     string         `json:"content"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	SessionLinks []string      `json:"sessionLinks,omitempty"`
}

// MemorySearchResult is one ranked hit from /search.
type MemorySearchResult struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score"`
	CreatedAt time.Time      `json:"createdAt"`
}
