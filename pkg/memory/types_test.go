package memory_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
)

func TestNewDefaults(t *testing.T) {
	before := time.Now().UTC()
	m := memory.New("alice", "likes black coffee", "coffee preference", memory.TypePreference)
	after := time.Now().UTC()

	assert.Equal(t, int64(0), m.ID)
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, memory.TypePreference, m.MemoryType)
	assert.Equal(t, memory.DefaultImportance, m.Importance)
	assert.False(t, m.HasEmbedding())
	assert.Equal(t, uint32(0), m.AccessCount)

	assert.False(t, m.CreatedAt.Before(before))
	assert.False(t, m.CreatedAt.After(after))
	assert.Equal(t, m.CreatedAt, m.LastAccessedAt)
	assert.Nil(t, m.LastDecayedAt)
}

func TestWithImportanceClamps(t *testing.T) {
	m := memory.New("alice", "content", "summary", memory.TypeFact)

	assert.Equal(t, 1.0, m.WithImportance(1.5).Importance)
	assert.Equal(t, 0.0, m.WithImportance(-0.3).Importance)
	assert.Equal(t, 0.42, m.WithImportance(0.42).Importance)
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, memory.ClampImportance(-1))
	assert.Equal(t, 1.0, memory.ClampImportance(2))
	assert.Equal(t, 0.5, memory.ClampImportance(0.5))
}

func TestRelevanceScore(t *testing.T) {
	m := memory.New("alice", "content", "summary", memory.TypeFact).WithImportance(0.8)

	// similarity 0.9, importance 0.8 -> 0.9*0.7 + 0.8*0.3 = 0.87
	score := m.RelevanceScore(0.9)
	assert.InDelta(t, 0.87, score, 0.01)

	sim := &memory.SimilarMemory{Memory: m, Similarity: 0.9}
	assert.InDelta(t, 0.87, sim.RelevanceScore(), 0.01)
}

func TestRelevanceScoreBounds(t *testing.T) {
	low := memory.New("alice", "c", "s", memory.TypeFact).WithImportance(0)
	high := memory.New("alice", "c", "s", memory.TypeFact).WithImportance(1)

	assert.InDelta(t, -0.7, low.RelevanceScore(-1), 1e-9)
	assert.InDelta(t, 1.0, high.RelevanceScore(1), 1e-9)
	assert.False(t, math.IsNaN(high.RelevanceScore(0)))
}

func TestRecordAccess(t *testing.T) {
	m := memory.New("alice", "content", "summary", memory.TypeFact)
	created := m.CreatedAt

	time.Sleep(time.Millisecond)
	m.RecordAccess()
	m.RecordAccess()

	assert.Equal(t, uint32(2), m.AccessCount)
	assert.True(t, m.LastAccessedAt.After(created))
}

func TestBelowImportanceThreshold(t *testing.T) {
	m := memory.New("alice", "content", "summary", memory.TypeFact)

	assert.False(t, m.WithImportance(0.1).BelowImportanceThreshold())
	assert.True(t, m.WithImportance(0.09).BelowImportanceThreshold())
}

func TestEmbeddingHelpers(t *testing.T) {
	m := memory.New("alice", "content", "summary", memory.TypeFact)
	assert.Equal(t, 0, m.EmbeddingDimensions())

	m.WithEmbedding([]float32{0.1, 0.2, 0.3})
	assert.True(t, m.HasEmbedding())
	assert.Equal(t, 3, m.EmbeddingDimensions())
}

func TestParseMemoryType(t *testing.T) {
	for _, mt := range memory.AllMemoryTypes() {
		assert.Equal(t, mt, memory.ParseMemoryType(string(mt)))
	}
	assert.Equal(t, memory.TypeOther, memory.ParseMemoryType("banana"))
	assert.Equal(t, memory.TypeOther, memory.ParseMemoryType(""))
}

func TestQueryBuilder(t *testing.T) {
	q := memory.NewQuery().
		ForUser("alice").
		OfTypes(memory.TypeFact, memory.TypeEvent).
		WithMinImportance(0.3).
		WithLimit(10)

	require.NotNil(t, q)
	assert.Equal(t, "alice", q.UserID)
	assert.Equal(t, []memory.MemoryType{memory.TypeFact, memory.TypeEvent}, q.Types)
	assert.Equal(t, 0.3, q.MinImportance)
	assert.Equal(t, 10, q.Limit)
}
