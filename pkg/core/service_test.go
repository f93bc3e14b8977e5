package core_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/encryption"
	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

// stubEmbedder returns canned vectors keyed by exact text, or a default
// vector for anything unknown. No network, fully deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Close() error    { return nil }

func newTestService(t *testing.T, crypto encryption.Provider) (*core.Service, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "service.db"),
	})
	require.NoError(t, err)

	emb := &stubEmbedder{vectors: map[string][]float32{
		"likes hiking":        {1, 0, 0},
		"allergic to peanuts": {0, 1, 0},
		"outdoor activities":  {0.9, 0.1, 0},
	}}

	svc, err := core.NewServiceWith(&core.Config{}, store, emb, crypto)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func TestSaveAssignsID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	m := memory.New("alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, svc.Save(ctx, m))
	assert.NotZero(t, m.ID)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "likes hiking", got.Content)
}

func TestSaveValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		m    *memory.Memory
	}{
		{"missing user", memory.New("", "content", "s", memory.TypeFact)},
		{"missing content", memory.New("alice", "", "s", memory.TypeFact)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Save(ctx, tc.m)
			assert.True(t, errors.Is(err, memory.ErrValidation))
		})
	}

	out := memory.New("alice", "content", "s", memory.TypeFact)
	out.Importance = 1.5 // bypass the clamping setter
	err := svc.Save(ctx, out)
	assert.True(t, errors.Is(err, memory.ErrValidation))
}

func TestSaveDuplicateIDConflicts(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	m := memory.New("alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, svc.Save(ctx, m))

	dup := memory.New("alice", "likes hiking", "hobby", memory.TypePreference)
	dup.ID = m.ID
	err := svc.Save(ctx, dup)
	assert.True(t, errors.Is(err, memory.ErrConflict))

	var storeErr *memory.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "Save", storeErr.Op)
}

func TestRememberEmbedsAndSaves(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	m, err := svc.Remember(ctx, "alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, m.Embedding)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
}

func TestRetrieveContextRanksAndRecordsAccess(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	hiking, err := svc.Remember(ctx, "alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, err)
	peanuts, err := svc.Remember(ctx, "alice", "allergic to peanuts", "allergy", memory.TypeFact)
	require.NoError(t, err)

	results, err := svc.RetrieveContext(ctx, "alice", "outdoor activities")
	require.NoError(t, err)
	require.Len(t, results, 1) // peanuts falls below the 0.5 threshold
	assert.Equal(t, hiking.ID, results[0].Memory.ID)

	// Retrieval reinforces: the hit's access count was bumped in the store.
	stored, err := store.Get(ctx, hiking.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.AccessCount)

	missed, err := store.Get(ctx, peanuts.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), missed.AccessCount)
}

func TestFormatContextForPrompt(t *testing.T) {
	svc, _ := newTestService(t, nil)

	assert.Equal(t, "", svc.FormatContextForPrompt(nil))

	m := memory.New("alice", "likes hiking", "hobby", memory.TypePreference)
	out := svc.FormatContextForPrompt([]*memory.SimilarMemory{{Memory: m, Similarity: 0.9}})
	assert.Contains(t, out, "Relevant information from memory:")
	assert.Contains(t, out, "[preference] likes hiking")
}

func TestUpdateAbsentIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)

	m := memory.New("alice", "content", "s", memory.TypeFact)
	m.ID = 424242
	err := svc.Update(context.Background(), m)
	assert.True(t, errors.Is(err, memory.ErrNotFound))
}

func TestDeleteAbsentIsFalseNil(t *testing.T) {
	svc, _ := newTestService(t, nil)

	removed, err := svc.Delete(context.Background(), 424242)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestListByType(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Remember(ctx, "alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "alice", "allergic to peanuts", "allergy", memory.TypeFact)
	require.NoError(t, err)

	got, err := svc.ListByType(ctx, "alice", memory.TypeFact)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "allergic to peanuts", got[0].Content)
}

func TestEncryptionAtRest(t *testing.T) {
	crypto, err := encryption.NewAESGCM(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	svc, store := newTestService(t, crypto)
	ctx := context.Background()

	m, err := svc.Remember(ctx, "alice", "allergic to peanuts", "allergy", memory.TypeFact)
	require.NoError(t, err)

	// The backend holds ciphertext.
	raw, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "allergic to peanuts", raw.Content)

	// Every read path decrypts.
	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "allergic to peanuts", got.Content)

	results, err := svc.RetrieveContext(ctx, "alice", "allergic to peanuts")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "allergic to peanuts", results[0].Memory.Content)
}

func TestFindMergeCandidatesThroughService(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	saved, err := svc.Remember(ctx, "alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, err)

	candidate := memory.New("alice", "enjoys hiking a lot", "hobby", memory.TypePreference).
		WithEmbedding([]float32{0.99, 0.01, 0})

	results, err := svc.FindMergeCandidates(ctx, candidate)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, saved.ID, results[0].Memory.ID)
	assert.Equal(t, "likes hiking", results[0].Memory.Content)
}

func TestStatsThroughService(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	stats, err := svc.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCount)
	assert.Equal(t, 0.0, stats.AvgImportance)

	_, err = svc.Remember(ctx, "alice", "likes hiking", "hobby", memory.TypePreference)
	require.NoError(t, err)

	stats, err = svc.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCount)
	assert.Equal(t, 1, stats.WithEmbeddings)
}
