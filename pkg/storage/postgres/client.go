// Package postgres provides the PostgreSQL backend for the memory store.
//
// Embeddings and tags are stored as JSONB; similarity ranking still happens
// in the engines above this layer, so the backend stays a plain row store
// and needs no extension support.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

// Client implements storage.Store on PostgreSQL.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains PostgreSQL connection settings.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
	SSLMode   string
}

// NewClient connects to PostgreSQL and ensures the schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	table := cfg.TableName
	if table == "" {
		table = "memories"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, memory.Internalf("open postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memory.Internalf("ping postgres: %v", err)
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
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			memory_type VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding JSONB,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			tags JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL,
			last_decayed_at TIMESTAMPTZ,
			access_count BIGINT NOT NULL DEFAULT 0
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

// Insert persists a new memory; a duplicate id maps to memory.ErrConflict.
func (c *Client) Insert(ctx context.Context, m *memory.Memory) error {
	embeddingJSON, tagsJSON, err := encodeColumns(m)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, memory_type, content, summary, embedding, importance, tags, created_at, last_accessed_at, last_decayed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
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
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
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
		FROM %s WHERE id = $1
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

// Update replaces the row by id. The owner guard in the WHERE clause makes a
// re-parenting attempt affect zero rows; a probe then classifies the failure.
func (c *Client) Update(ctx context.Context, m *memory.Memory) error {
	embeddingJSON, tagsJSON, err := encodeColumns(m)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET memory_type = $1, content = $2, summary = $3, embedding = $4, importance = $5,
		    tags = $6, last_accessed_at = $7, access_count = $8
		WHERE id = $9 AND user_id = $10
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.tableName)
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
		args = append(args, q.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if len(q.Types) > 0 {
		placeholders := ""
		for i, t := range q.Types {
			args = append(args, string(t))
			if i > 0 {
				placeholders += ", "
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		where += " AND memory_type IN (" + placeholders + ")"
	}
	if q.MinImportance > 0 {
		args = append(args, q.MinImportance)
		where += fmt.Sprintf(" AND importance >= $%d", len(args))
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
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY id
	`, c.tableName)
	return c.queryMemories(ctx, query, userID)
}

// RecordAccess bumps access_count and last_accessed_at in one statement.
func (c *Client) RecordAccess(ctx context.Context, id int64) error {
	query := fmt.Sprintf(
		"UPDATE %s SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2",
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

// SetImportance writes the new importance and stamps the decay anchor.
func (c *Client) SetImportance(ctx context.Context, id int64, importance float64, decayedAt time.Time) error {
	query := fmt.Sprintf(
		"UPDATE %s SET importance = $1, last_decayed_at = $2 WHERE id = $3",
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
	query := fmt.Sprintf("DELETE FROM %s WHERE importance < $1", c.tableName)
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
		fmt.Sprintf("SELECT COUNT(*), COALESCE(AVG(importance), 0.0) FROM %s WHERE user_id = $1", c.tableName),
		userID,
	).Scan(&stats.TotalCount, &stats.AvgImportance)
	if err != nil {
		return nil, memory.Internalf("stats: %v", err)
	}

	for _, t := range memory.AllMemoryTypes() {
		stats.ByType[t] = 0
	}
	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT memory_type, COUNT(*) FROM %s WHERE user_id = $1 GROUP BY memory_type", c.tableName),
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
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = $1 AND embedding IS NOT NULL", c.tableName),
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var typeStr string
	var embeddingRaw []byte
	var tagsRaw []byte
	var decayedAt sql.NullTime

	err := s.Scan(
		&m.ID,
		&m.UserID,
		&typeStr,
		&m.Content,
		&m.Summary,
		&embeddingRaw,
		&m.Importance,
		&tagsRaw,
		&m.CreatedAt,
		&m.LastAccessedAt,
		&decayedAt,
		&m.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	m.MemoryType = memory.ParseMemoryType(typeStr)
	if len(embeddingRaw) > 0 {
		if err := json.Unmarshal(embeddingRaw, &m.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &m.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if decayedAt.Valid {
		t := decayedAt.Time
		m.LastDecayedAt = &t
	}
	return &m, nil
}

// encodeColumns serializes the embedding and tags columns. An absent
// embedding becomes SQL NULL so ListEmbedded can filter server-side.
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
