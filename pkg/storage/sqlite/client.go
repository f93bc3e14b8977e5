// Package sqlite provides the SQLite backend for the memory store.
//
// SQLite is the default backend for local, single-node deployments.
// Embedding vectors are stored as JSON strings in TEXT columns; similarity
// math happens in the engines above this layer, so the backend only needs
// to produce faithful rows. WAL mode keeps readers unblocked by the
// background decay writer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Client implements storage.Store on a SQLite database file.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config configures the SQLite backend.
type Config struct {
	// DBPath is the path to the database file. ":memory:" is accepted for
	// throwaway stores in tests.
	DBPath string

	// TableName is the table holding memories. Defaults to "memories".
	TableName string
}

// NewClient opens (creating if needed) the database and ensures the schema.
func NewClient(cfg *Config) (*Client, error) {
	table := cfg.TableName
	if table == "" {
		table = "memories"
	}

	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return nil, memory.Internalf("create db directory: %v", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, memory.Internalf("open sqlite: %v", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memory.Internalf("ping sqlite: %v", err)
	}

	c := &Client{db: db, tableName: table}
	if err := c.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding TEXT,
			importance REAL NOT NULL DEFAULT 0.5,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			last_decayed_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return memory.Internalf("init schema: %v", err)
	}

	for _, idx := range []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)", c.tableName, c.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user_type ON %s(user_id, memory_type)", c.tableName, c.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_importance ON %s(importance)", c.tableName, c.tableName),
	} {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return memory.Internalf("init schema index: %v", err)
		}
	}
	return nil
}

// Insert persists a new memory. Re-inserting an existing id surfaces as
// memory.ErrConflict via the primary key constraint.
func (c *Client) Insert(ctx context.Context, m *memory.Memory) error {
	embeddingJSON, tagsJSON, err := encodeColumns(m)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, memory_type, content, summary, embedding, importance, tags, created_at, last_accessed_at, last_decayed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		m.ID,
		m.UserID,
		string(m.MemoryType),
		m.Content,
		m.Summary,
		embeddingJSON,
		m.Importance,
		tagsJSON,
		m.CreatedAt,
		m.LastAccessedAt,
		nullableTime(m.LastDecayedAt),
		m.AccessCount,
	)
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: id %d already exists", memory.ErrConflict, m.ID)
		}
		return memory.Internalf("insert: %v", err)
	}
	return nil
}

// Get returns the memory, or (nil, nil) when the id is unknown.
func (c *Client) Get(ctx context.Context, id int64) (*memory.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, memory_type, content, summary, embedding, importance, tags,
		       created_at, last_accessed_at, last_decayed_at, access_count
		FROM %s WHERE id = ?
	`, c.tableName)

	m, err := scanMemory(c.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memory.Internalf("get: %v", err)
	}
	return m, nil
}

// Update replaces the row by id. The WHERE guard carries the user_id so a
// re-parenting attempt affects zero rows; a follow-up probe distinguishes
// "unknown id" from "owner mismatch".
func (c *Client) Update(ctx context.Context, m *memory.Memory) error {
	embeddingJSON, tagsJSON, err := encodeColumns(m)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET memory_type = ?, content = ?, summary = ?, embedding = ?, importance = ?,
		    tags = ?, last_accessed_at = ?, access_count = ?
		WHERE id = ? AND user_id = ?
	`, c.tableName)

	res, err := c.db.ExecContext(ctx, query,
		string(m.MemoryType),
		m.Content,
		m.Summary,
		embeddingJSON,
		m.Importance,
		tagsJSON,
		m.LastAccessedAt,
		m.AccessCount,
		m.ID,
		m.UserID,
	)
	if err != nil {
		return memory.Internalf("update: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return memory.Internalf("update: %v", err)
	}
	if affected == 0 {
		existing, probeErr := c.Get(ctx, m.ID)
		if probeErr != nil {
			return probeErr
		}
		if existing == nil {
			return fmt.Errorf("%w: id %d", memory.ErrNotFound, m.ID)
		}
		return fmt.Errorf("%w: memory %d belongs to another user", memory.ErrConflict, m.ID)
	}
	return nil
}

// Delete removes the row; an absent id is a no-op reported as (false, nil).
func (c *Client) Delete(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.tableName)
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, memory.Internalf("delete: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, memory.Internalf("delete: %v", err)
	}
	return affected > 0, nil
}

// List returns memories matching the query, importance-first.
func (c *Client) List(ctx context.Context, q *memory.MemoryQuery) ([]*memory.Memory, error) {
	where := "WHERE 1=1"
	args := []interface{}{}

	if q.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if len(q.Types) > 0 {
		where += " AND memory_type IN (?" + repeatPlaceholder(len(q.Types)-1) + ")"
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.MinImportance > 0 {
		where += " AND importance >= ?"
		args = append(args, q.MinImportance)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, memory_type, content, summary, embedding, importance, tags,
		       created_at, last_accessed_at, last_decayed_at, access_count
		FROM %s %s
		ORDER BY importance DESC, last_accessed_at DESC
	`, c.tableName, where)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	return c.queryMemories(ctx, query, args...)
}

// ListEmbedded returns the user's memories that carry an embedding vector.
func (c *Client) ListEmbedded(ctx context.Context, userID string) ([]*memory.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, memory_type, content, summary, embedding, importance, tags,
		       created_at, last_accessed_at, last_decayed_at, access_count
		FROM %s
		WHERE user_id = ? AND embedding IS NOT NULL
		ORDER BY id
	`, c.tableName)
	return c.queryMemories(ctx, query, userID)
}

// RecordAccess bumps access_count and last_accessed_at in one statement;
// SQLite serializes it against concurrent updates of the same row.
func (c *Client) RecordAccess(ctx context.Context, id int64) error {
	query := fmt.Sprintf(
		"UPDATE %s SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		c.tableName,
	)
	res, err := c.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return memory.Internalf("record access: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return memory.Internalf("record access: %v", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", memory.ErrNotFound, id)
	}
	return nil
}

// DecayStates returns the decay projection for every memory, all users.
func (c *Client) DecayStates(ctx context.Context) ([]storage.DecayState, error) {
	query := fmt.Sprintf(
		"SELECT id, importance, last_accessed_at, last_decayed_at FROM %s ORDER BY id",
		c.tableName,
	)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, memory.Internalf("decay states: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var states []storage.DecayState
	for rows.Next() {
		var s storage.DecayState
		var decayedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.Importance, &s.LastAccessedAt, &decayedAt); err != nil {
			return nil, memory.Internalf("decay states: %v", err)
		}
		if decayedAt.Valid {
			t := decayedAt.Time
			s.LastDecayedAt = &t
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Internalf("decay states: %v", err)
	}
	return states, nil
}

// SetImportance writes the new importance and stamps the decay anchor for
// one row. Atomic on its own; the batch above survives cancellation.
func (c *Client) SetImportance(ctx context.Context, id int64, importance float64, decayedAt time.Time) error {
	query := fmt.Sprintf(
		"UPDATE %s SET importance = ?, last_decayed_at = ? WHERE id = ?",
		c.tableName,
	)
	res, err := c.db.ExecContext(ctx, query, importance, decayedAt.UTC(), id)
	if err != nil {
		return memory.Internalf("set importance: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return memory.Internalf("set importance: %v", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", memory.ErrNotFound, id)
	}
	return nil
}

// DeleteBelowImportance evicts everything under the threshold, any user.
func (c *Client) DeleteBelowImportance(ctx context.Context, threshold float64) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE importance < ?", c.tableName)
	res, err := c.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, memory.Internalf("cleanup: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, memory.Internalf("cleanup: %v", err)
	}
	return int(affected), nil
}

// Stats computes the per-user rollup with SQL aggregates.
func (c *Client) Stats(ctx context.Context, userID string) (*memory.MemoryStats, error) {
	stats := &memory.MemoryStats{ByType: make(map[memory.MemoryType]int)}

	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), COALESCE(AVG(importance), 0.0) FROM %s WHERE user_id = ?", c.tableName),
		userID,
	).Scan(&stats.TotalCount, &stats.AvgImportance)
	if err != nil {
		return nil, memory.Internalf("stats: %v", err)
	}

	for _, t := range memory.AllMemoryTypes() {
		stats.ByType[t] = 0
	}
	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT memory_type, COUNT(*) FROM %s WHERE user_id = ? GROUP BY memory_type", c.tableName),
		userID,
	)
	if err != nil {
		return nil, memory.Internalf("stats: %v", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var typeStr string
		var count int
		if err := rows.Scan(&typeStr, &count); err != nil {
			return nil, memory.Internalf("stats: %v", err)
		}
		stats.ByType[memory.ParseMemoryType(typeStr)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Internalf("stats: %v", err)
	}

	err = c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = ? AND embedding IS NOT NULL", c.tableName),
		userID,
	).Scan(&stats.WithEmbeddings)
	if err != nil {
		return nil, memory.Internalf("stats: %v", err)
	}

	return stats, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*memory.Memory, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memory.Internalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, memory.Internalf("scan: %v", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Internalf("query: %v", err)
	}
	return memories, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var typeStr string
	var embeddingStr sql.NullString
	var tagsStr string
	var decayedAt sql.NullTime

	err := s.Scan(
		&m.ID,
		&m.UserID,
		&typeStr,
		&m.Content,
		&m.Summary,
		&embeddingStr,
		&m.Importance,
		&tagsStr,
		&m.CreatedAt,
		&m.LastAccessedAt,
		&decayedAt,
		&m.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	m.MemoryType = memory.ParseMemoryType(typeStr)
	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &m.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if tagsStr != "" {
		if err := json.Unmarshal([]byte(tagsStr), &m.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if decayedAt.Valid {
		t := decayedAt.Time
		m.LastDecayedAt = &t
	}
	return &m, nil
}

// encodeColumns serializes the embedding and tags columns.
// An absent embedding becomes NULL so ListEmbedded can filter in SQL.
func encodeColumns(m *memory.Memory) (interface{}, string, error) {
	var embeddingJSON interface{}
	if m.HasEmbedding() {
		b, err := json.Marshal(m.Embedding)
		if err != nil {
			return nil, "", memory.Internalf("marshal embedding: %v", err)
		}
		embeddingJSON = string(b)
	}

	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsB, err := json.Marshal(tags)
	if err != nil {
		return nil, "", memory.Internalf("marshal tags: %v", err)
	}
	return embeddingJSON, string(tagsB), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// repeatPlaceholder returns n copies of ", ?" for IN clauses.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
