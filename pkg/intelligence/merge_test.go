package intelligence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/intelligence"
	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

func insertEmbedded(t *testing.T, store *sqlite.Client, id int64, userID string, vec []float32) {
	t.Helper()
	m := memory.New(userID, "content", "summary", memory.TypeFact).WithEmbedding(vec)
	m.ID = id
	require.NoError(t, store.Insert(context.Background(), m))
}

func TestFindMergeCandidates(t *testing.T) {
	store := newTestStore(t)
	detector := intelligence.NewMergeDetector(store, 0.85)
	ctx := context.Background()

	insertEmbedded(t, store, 1, "alice", []float32{1, 0, 0})       // near-duplicate
	insertEmbedded(t, store, 2, "alice", []float32{0.99, 0.05, 0}) // near-duplicate
	insertEmbedded(t, store, 3, "alice", []float32{0, 1, 0})       // unrelated

	candidate := memory.New("alice", "new fact", "summary", memory.TypeFact).
		WithEmbedding([]float32{1, 0, 0})

	results, err := detector.FindMergeCandidates(ctx, candidate)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// All duplicates are returned, best match first, no truncation.
	assert.Equal(t, int64(1), results[0].Memory.ID)
	assert.Equal(t, int64(2), results[1].Memory.ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.85)
	}
}

func TestFindMergeCandidatesExcludesSelf(t *testing.T) {
	store := newTestStore(t)
	detector := intelligence.NewMergeDetector(store, 0.85)
	ctx := context.Background()

	saved := memory.New("alice", "content", "summary", memory.TypeFact).
		WithEmbedding([]float32{1, 0, 0})
	saved.ID = 7
	require.NoError(t, store.Insert(ctx, saved))

	// A saved memory is never its own duplicate.
	results, err := detector.FindMergeCandidates(ctx, saved)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindMergeCandidatesScopedToUser(t *testing.T) {
	store := newTestStore(t)
	detector := intelligence.NewMergeDetector(store, 0.85)

	insertEmbedded(t, store, 1, "bob", []float32{1, 0, 0})

	candidate := memory.New("alice", "content", "summary", memory.TypeFact).
		WithEmbedding([]float32{1, 0, 0})

	results, err := detector.FindMergeCandidates(context.Background(), candidate)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindMergeCandidatesWithoutEmbedding(t *testing.T) {
	detector := intelligence.NewMergeDetector(newTestStore(t), 0.85)

	candidate := memory.New("alice", "content", "summary", memory.TypeFact)
	results, err := detector.FindMergeCandidates(context.Background(), candidate)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewMergeDetectorDefaultThreshold(t *testing.T) {
	detector := intelligence.NewMergeDetector(newTestStore(t), 0)
	assert.Equal(t, intelligence.DefaultMergeThreshold, detector.Threshold())
}
