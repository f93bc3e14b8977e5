// Package memory defines the entity model for the semantic memory store:
// the Memory entry itself, query and statistics projections, similarity
// search results, and the error taxonomy shared by every layer above it.
package memory

import "time"

// Importance bounds and defaults shared across the store.
const (
	// DefaultImportance is assigned to new memories when the caller does
	// not specify one.
	DefaultImportance = 0.5

	// MinImportance is the low-water mark: memories whose importance decays
	// below it are reported by the decay engine as eviction candidates.
	MinImportance = 0.1

	// MaxImportance is the upper bound of the importance scale.
	MaxImportance = 1.0
)

// Relevance blends query similarity with stored importance when ranking
// retrieval results: relevance = similarity*0.7 + importance*0.3.
const (
	relevanceSimilarityWeight = 0.7
	relevanceImportanceWeight = 0.3
)

// MemoryType classifies what kind of knowledge a memory holds.
//
// The set is closed; unknown strings read back from storage map to TypeOther.
type MemoryType string

const (
	// TypeFact is factual knowledge extracted from conversations.
	TypeFact MemoryType = "fact"

	// TypePreference is a user preference learned over time.
	TypePreference MemoryType = "preference"

	// TypeEvent records something that happened (appointments, reminders fired).
	TypeEvent MemoryType = "event"

	// TypeInstruction is a standing instruction from the user to the assistant.
	TypeInstruction MemoryType = "instruction"

	// TypeConversation is conversational context worth keeping verbatim.
	TypeConversation MemoryType = "conversation"

	// TypeOther is the fallback for uncategorized knowledge.
	TypeOther MemoryType = "other"
)

// AllMemoryTypes returns every memory type, in a stable order.
//
// Used by the stats aggregator to produce per-type counts.
func AllMemoryTypes() []MemoryType {
	return []MemoryType{
		TypeFact,
		TypePreference,
		TypeEvent,
		TypeInstruction,
		TypeConversation,
		TypeOther,
	}
}

// ParseMemoryType maps a stored string back to a MemoryType.
// Unknown values fall back to TypeOther rather than failing the read.
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(s) {
	case TypeFact, TypePreference, TypeEvent, TypeInstruction, TypeConversation, TypeOther:
		return MemoryType(s)
	default:
		return TypeOther
	}
}

// Memory is a single knowledge entry owned by exactly one user.
//
// Invariants:
//   - Importance stays within [0, 1] at all times.
//   - ID never changes after creation; UserID never changes for the
//     memory's lifetime (the store rejects re-parenting).
//   - LastAccessedAt >= CreatedAt.
//   - AccessCount is monotonically non-decreasing.
type Memory struct {
	// ID is the unique identifier, snowflake-assigned on save.
	// Zero means "not yet assigned".
	ID int64 `json:"id"`

	// UserID identifies the owner. Every operation is scoped to one owner.
	UserID string `json:"user_id"`

	// Content is the full text. May be ciphertext when encryption at rest
	// is enabled; the store treats it as opaque either way.
	Content string `json:"content"`

	// Summary is a short form of the content used for display and logging.
	Summary string `json:"summary"`

	// MemoryType classifies the entry.
	MemoryType MemoryType `json:"memory_type"`

	// Embedding is the optional vector used for semantic search.
	// Memories without one are simply invisible to similarity search.
	Embedding []float32 `json:"embedding,omitempty"`

	// Importance is a [0,1] confidence score; it decays over time and is
	// effectively reinforced by access (access resets the decay clock).
	Importance float64 `json:"importance"`

	// Tags hold categorical labels for filtering.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the memory was created (UTC).
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the memory was last read through RecordAccess (UTC).
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// LastDecayedAt anchors the decay engine: elapsed time for a decay pass
	// is measured from the later of LastAccessedAt and LastDecayedAt, so
	// consecutive passes never double-count the same period. Nil until the
	// first pass touches the row.
	LastDecayedAt *time.Time `json:"last_decayed_at,omitempty"`

	// AccessCount is how many times this memory has been accessed.
	AccessCount uint32 `json:"access_count"`
}

// New creates a memory with defaults applied: DefaultImportance, both
// timestamps set to now (UTC), no embedding, no tags.
//
// The ID stays zero until the service assigns one on save.
func New(userID, content, summary string, memoryType MemoryType) *Memory {
	now := time.Now().UTC()
	return &Memory{
		UserID:         userID,
		Content:        content,
		Summary:        summary,
		MemoryType:     memoryType,
		Importance:     DefaultImportance,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// WithEmbedding sets the embedding vector and returns the memory.
func (m *Memory) WithEmbedding(embedding []float32) *Memory {
	m.Embedding = embedding
	return m
}

// WithImportance sets the importance, clamped to [0, 1], and returns the memory.
func (m *Memory) WithImportance(importance float64) *Memory {
	m.Importance = ClampImportance(importance)
	return m
}

// WithTags sets the tags and returns the memory.
func (m *Memory) WithTags(tags ...string) *Memory {
	m.Tags = tags
	return m
}

// HasEmbedding reports whether the memory carries an embedding vector.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// EmbeddingDimensions returns the embedding length, 0 when absent.
func (m *Memory) EmbeddingDimensions() int {
	return len(m.Embedding)
}

// RecordAccess bumps the access counter and resets the access timestamp.
// The persistent equivalent lives on the store; this is for in-memory copies.
func (m *Memory) RecordAccess() {
	m.LastAccessedAt = time.Now().UTC()
	m.AccessCount++
}

// RelevanceScore combines a similarity score with this memory's importance:
// similarity*0.7 + importance*0.3.
func (m *Memory) RelevanceScore(similarity float64) float64 {
	return similarity*relevanceSimilarityWeight + m.Importance*relevanceImportanceWeight
}

// BelowImportanceThreshold reports whether the memory sits under the
// MinImportance low-water mark and is therefore an eviction candidate.
func (m *Memory) BelowImportanceThreshold() bool {
	return m.Importance < MinImportance
}

// ClampImportance restricts v to the [0, 1] importance range.
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// SimilarMemory pairs a memory with its cosine similarity against a query.
//
// Similarity lies in [-1, 1]; text embeddings are rarely negative but the
// range is preserved so anti-correlated vectors are representable.
type SimilarMemory struct {
	// Memory is the matched entry.
	Memory *Memory

	// Similarity is the cosine similarity against the query embedding.
	Similarity float64
}

// RelevanceScore returns the blended ranking score for this result.
func (s *SimilarMemory) RelevanceScore() float64 {
	return s.Memory.RelevanceScore(s.Similarity)
}

// MemoryQuery filters list reads. It carries no ownership semantics beyond
// the declared UserID filter; ranking is the search engine's job.
type MemoryQuery struct {
	// UserID scopes the query to one owner. Empty matches all users
	// (used only by maintenance paths).
	UserID string

	// Types filters by memory type; empty means any type.
	Types []MemoryType

	// MinImportance drops memories below the given importance.
	MinImportance float64

	// Limit caps the number of results; 0 means unlimited.
	Limit int
}

// NewQuery returns an empty query.
func NewQuery() *MemoryQuery {
	return &MemoryQuery{}
}

// ForUser scopes the query to one owner.
func (q *MemoryQuery) ForUser(userID string) *MemoryQuery {
	q.UserID = userID
	return q
}

// OfTypes filters by memory types.
func (q *MemoryQuery) OfTypes(types ...MemoryType) *MemoryQuery {
	q.Types = types
	return q
}

// WithMinImportance sets the importance floor.
func (q *MemoryQuery) WithMinImportance(min float64) *MemoryQuery {
	q.MinImportance = min
	return q
}

// WithLimit caps the result count.
func (q *MemoryQuery) WithLimit(limit int) *MemoryQuery {
	q.Limit = limit
	return q
}

// MemoryStats is a read-only rollup over one user's memories.
// Computed on demand, never persisted.
type MemoryStats struct {
	// TotalCount is the number of memories the user owns.
	TotalCount int

	// ByType counts memories per type. Every type appears, possibly with 0.
	ByType map[MemoryType]int

	// WithEmbeddings counts memories that carry an embedding.
	WithEmbeddings int

	// AvgImportance is the mean importance; 0.0 over an empty set, never NaN.
	AvgImportance float64
}
