// Package memoryserver implements the Memory Service HTTP contract,
// giving internal/memoryclient a concrete counterpart for the loop's
// recall path and end-to-end test scenarios to run against. Storage is
// modernc.org/sqlite, a pure-Go SQLite driver, holding content plus a
// JSON-encoded embedding vector; ranking combines
// 0.7*cosine + 0.3*decay(age) with dedup against the last 50 memories per
// user at a 0.92 cosine threshold.
package memoryserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nexus-core/agentruntime/internal/models"
)

// Store persists memory items in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a SQLite database at path. Use
// ":memory:" for ephemeral/test stores.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memoryserver: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS session_links (
			memory_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			PRIMARY KEY (memory_id, session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_session_links_session ON session_links(session_id);
	`)
	return err
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

type row struct {
	ID        string
	UserID    string
	Content   string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r row) toItem() models.MemoryItem {
	return models.MemoryItem{
		ID: r.ID, UserID: r.UserID, Content: r.Content, Embedding: r.Embedding,
		Metadata: r.Metadata, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// Insert creates a new memory row and returns its generated id.
func (s *Store) Insert(ctx context.Context, userID, content string, embedding []float32, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if err := s.write(ctx, id, userID, content, embedding, metadata, now, now); err != nil {
		return "", err
	}
	return id, nil
}

// Update overwrites an existing row's content/embedding/metadata, bumping
// updated_at, used by the dedup-merge path.
func (s *Store) Update(ctx context.Context, id, content string, embedding []float32, metadata map[string]any) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.write(ctx, id, existing.UserID, content, embedding, metadata, existing.CreatedAt, time.Now().UTC())
}

func (s *Store) write(ctx context.Context, id, userID, content string, embedding []float32, metadata map[string]any, createdAt, updatedAt time.Time) error {
	var embJSON, metaJSON []byte
	var err error
	if embedding != nil {
		embJSON, err = json.Marshal(embedding)
		if err != nil {
			return err
		}
	}
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, embedding, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, embedding=excluded.embedding,
			metadata=excluded.metadata, updated_at=excluded.updated_at
	`, id, userID, content, nullable(embJSON), nullable(metaJSON), createdAt.UnixMilli(), updatedAt.UnixMilli())
	return err
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// RecentByUser returns up to limit most-recent memories for userID,
// newest first.
func (s *Store) RecentByUser(ctx context.Context, userID string, limit int) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, embedding, metadata, created_at, updated_at
		FROM memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Get fetches one memory by id.
func (s *Store) Get(ctx context.Context, id string) (models.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, embedding, metadata, created_at, updated_at
		FROM memories WHERE id = ?
	`, id)
	if err != nil {
		return models.MemoryItem{}, err
	}
	defer rows.Close()
	items, err := scanRows(rows)
	if err != nil {
		return models.MemoryItem{}, err
	}
	if len(items) == 0 {
		return models.MemoryItem{}, models.NewError(models.KindInvalidArguments, fmt.Sprintf("memory %q not found", id), models.ErrNotFound)
	}
	return items[0].toItem(), nil
}

// Delete removes a memory and any session links to it, serving the
// DELETE /memories/:id route.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_links WHERE memory_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// LinkSession records that memoryID is linked to sessionID.
func (s *Store) LinkSession(ctx context.Context, memoryID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_links (memory_id, session_id) VALUES (?, ?)
	`, memoryID, sessionID)
	return err
}

// BySession returns memories linked to sessionID via GET
// /sessions/:sessionId/memories.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.content, m.embedding, m.metadata, m.created_at, m.updated_at
		FROM memories m
		JOIN session_links sl ON sl.memory_id = m.id
		WHERE sl.session_id = ?
		ORDER BY m.created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// AllForUser returns every memory for a substring-match search fallback.
func (s *Store) AllForUser(ctx context.Context, userID string) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, embedding, metadata, created_at, updated_at
		FROM memories WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Reset deletes memories (and their session links) scoped to userID, or
// every memory when userID is empty, serving the POST /reset route.
func (s *Store) Reset(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if userID == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_links`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM session_links WHERE memory_id IN (SELECT id FROM memories WHERE user_id = ?)
		`, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Stats reports aggregate counts for GET /stats.
func (s *Store) Stats(ctx context.Context) (memoryCount, userCount int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&memoryCount); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM memories`).Scan(&userCount)
	return
}

func scanRows(rows *sql.Rows) ([]row, error) {
	var out []row
	for rows.Next() {
		var (
			r                  row
			embJSON, metaJSON  sql.NullString
			createdMs, updated int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &embJSON, &metaJSON, &createdMs, &updated); err != nil {
			return nil, err
		}
		if embJSON.Valid && embJSON.String != "" {
			if err := json.Unmarshal([]byte(embJSON.String), &r.Embedding); err != nil {
				return nil, err
			}
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
				return nil, err
			}
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
