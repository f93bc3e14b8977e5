package search_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/search"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "search.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func insertEmbedded(t *testing.T, store *sqlite.Client, id int64, userID string, vec []float32, importance float64) {
	t.Helper()
	m := memory.New(userID, "content", "summary", memory.TypeFact).
		WithEmbedding(vec).
		WithImportance(importance)
	m.ID = id
	require.NoError(t, store.Insert(context.Background(), m))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, search.CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, search.CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-9)
	assert.InDelta(t, -1.0, search.CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Scale invariance.
	assert.InDelta(t, 1.0, search.CosineSimilarity([]float32{2, 2}, []float32{5, 5}), 1e-9)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, search.CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, search.CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, search.CosineSimilarity(nil, nil))
	assert.False(t, math.IsNaN(search.CosineSimilarity([]float32{0, 0}, []float32{0, 0})))
}

func TestSearchSimilarRanksByProximity(t *testing.T) {
	store := newTestStore(t)
	engine := search.NewEngine(store)
	ctx := context.Background()

	insertEmbedded(t, store, 1, "alice", []float32{1, 0, 0}, 0.5)
	insertEmbedded(t, store, 2, "alice", []float32{0, 1, 0}, 0.5)

	results, err := engine.SearchSimilar(ctx, "alice", []float32{0.9, 0.1, 0}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1), results[0].Memory.ID)
	assert.Equal(t, int64(2), results[1].Memory.ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestSearchSimilarThreshold(t *testing.T) {
	store := newTestStore(t)
	engine := search.NewEngine(store)

	insertEmbedded(t, store, 1, "alice", []float32{1, 0, 0}, 0.5)
	insertEmbedded(t, store, 2, "alice", []float32{0, 1, 0}, 0.5)

	results, err := engine.SearchSimilar(context.Background(), "alice", []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Memory.ID)
}

func TestSearchSimilarLimit(t *testing.T) {
	store := newTestStore(t)
	engine := search.NewEngine(store)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		insertEmbedded(t, store, i, "alice", []float32{1, float32(i) * 0.1, 0}, 0.5)
	}

	results, err := engine.SearchSimilar(ctx, "alice", []float32{1, 0, 0}, 3, 0.0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Limit zero short-circuits to no results, not unlimited.
	results, err = engine.SearchSimilar(ctx, "alice", []float32{1, 0, 0}, 0, 0.0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSimilarEmptyQueryIsValidationError(t *testing.T) {
	engine := search.NewEngine(newTestStore(t))

	_, err := engine.SearchSimilar(context.Background(), "alice", nil, 10, 0.0)
	assert.True(t, errors.Is(err, memory.ErrValidation))
}

func TestSearchSimilarSkipsMismatchedDimensions(t *testing.T) {
	store := newTestStore(t)
	engine := search.NewEngine(store)

	insertEmbedded(t, store, 1, "alice", []float32{1, 0, 0}, 0.5)
	insertEmbedded(t, store, 2, "alice", []float32{1, 0}, 0.5) // old model, 2 dims

	results, err := engine.SearchSimilar(context.Background(), "alice", []float32{1, 0, 0}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Memory.ID)
}

func TestSearchSimilarScopedToUser(t *testing.T) {
	store := newTestStore(t)
	engine := search.NewEngine(store)

	insertEmbedded(t, store, 1, "alice", []float32{1, 0, 0}, 0.5)
	insertEmbedded(t, store, 2, "bob", []float32{1, 0, 0}, 0.5)

	results, err := engine.SearchSimilar(context.Background(), "alice", []float32{1, 0, 0}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Memory.UserID)
}

func TestRankTieBreakers(t *testing.T) {
	older := memory.New("alice", "c", "s", memory.TypeFact).WithImportance(0.5)
	older.ID = 1
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	newer := memory.New("alice", "c", "s", memory.TypeFact).WithImportance(0.5)
	newer.ID = 2
	newer.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	important := memory.New("alice", "c", "s", memory.TypeFact).WithImportance(0.9)
	important.ID = 3
	important.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	results := []*memory.SimilarMemory{
		{Memory: newer, Similarity: 0.8},
		{Memory: older, Similarity: 0.8},
		{Memory: important, Similarity: 0.8},
	}
	search.Rank(results)

	// Equal similarity: importance wins, then older creation time.
	assert.Equal(t, int64(3), results[0].Memory.ID)
	assert.Equal(t, int64(1), results[1].Memory.ID)
	assert.Equal(t, int64(2), results[2].Memory.ID)
}
