package intelligence_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/intelligence"
	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "decay.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func insertAged(t *testing.T, store *sqlite.Client, id int64, importance float64, age time.Duration) {
	t.Helper()
	m := memory.New("alice", "content", "summary", memory.TypeFact).WithImportance(importance)
	m.ID = id
	m.CreatedAt = time.Now().UTC().Add(-age)
	m.LastAccessedAt = m.CreatedAt
	require.NoError(t, store.Insert(context.Background(), m))
}

func TestDecayFormula(t *testing.T) {
	// importance * e^(-rate*days)
	assert.InDelta(t, 0.5*math.Exp(-0.1*7), intelligence.Decay(0.5, 7, 0.1), 1e-9)
	assert.InDelta(t, 0.5*math.Exp(-1), intelligence.Decay(0.5, 10, 0.1), 1e-9)
}

func TestDecayZeroElapsedIsIdentity(t *testing.T) {
	assert.Equal(t, 0.7, intelligence.Decay(0.7, 0, 0.1))
	// Clock skew must never inflate a score.
	assert.Equal(t, 0.7, intelligence.Decay(0.7, -3, 0.1))
}

func TestDecayClamps(t *testing.T) {
	assert.Equal(t, 1.0, intelligence.Decay(1.8, 0, 0.1))
	assert.GreaterOrEqual(t, intelligence.Decay(0.001, 10000, 0.1), 0.0)
}

func TestApplyDecayReducesImportance(t *testing.T) {
	store := newTestStore(t)
	engine := intelligence.NewDecayEngine(store, 0.1)
	ctx := context.Background()

	insertAged(t, store, 1, 0.5, 10*24*time.Hour)

	_, err := engine.ApplyDecay(ctx)
	require.NoError(t, err)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*math.Exp(-1), got.Importance, 0.01)
	assert.NotNil(t, got.LastDecayedAt)
}

func TestApplyDecayReportsEvictionCandidates(t *testing.T) {
	store := newTestStore(t)
	engine := intelligence.NewDecayEngine(store, 0.1)
	ctx := context.Background()

	insertAged(t, store, 1, 0.2, 30*24*time.Hour) // decays to ~0.01
	insertAged(t, store, 2, 0.9, time.Hour)       // barely decays

	lowIDs, err := engine.ApplyDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, lowIDs)

	// Reported, not deleted.
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestApplyDecayComposes(t *testing.T) {
	store := newTestStore(t)
	engine := intelligence.NewDecayEngine(store, 0.1)
	ctx := context.Background()

	insertAged(t, store, 1, 0.5, 10*24*time.Hour)

	_, err := engine.ApplyDecay(ctx)
	require.NoError(t, err)
	afterFirst, err := store.Get(ctx, 1)
	require.NoError(t, err)

	// The second pass measures elapsed time from the first pass's anchor,
	// so running it immediately changes nothing measurable.
	_, err = engine.ApplyDecay(ctx)
	require.NoError(t, err)
	afterSecond, err := store.Get(ctx, 1)
	require.NoError(t, err)

	assert.InDelta(t, afterFirst.Importance, afterSecond.Importance, 0.001)
}

func TestApplyDecayRespectsCancellation(t *testing.T) {
	store := newTestStore(t)
	engine := intelligence.NewDecayEngine(store, 0.1)

	insertAged(t, store, 1, 0.5, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.ApplyDecay(ctx)
	assert.Error(t, err)
}

func TestCleanupBelowThresholdIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	engine := intelligence.NewDecayEngine(store, 0.1)
	ctx := context.Background()

	insertAged(t, store, 1, 0.05, 0)
	insertAged(t, store, 2, 0.5, 0)

	removed, err := engine.CleanupBelowThreshold(ctx, memory.MinImportance)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = engine.CleanupBelowThreshold(ctx, memory.MinImportance)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestNewDecayEngineDefaultRate(t *testing.T) {
	engine := intelligence.NewDecayEngine(newTestStore(t), 0)
	assert.Equal(t, intelligence.DefaultDecayRate, engine.Rate())
}
