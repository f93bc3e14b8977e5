// Package search implements brute-force semantic similarity search over the
// memory store: cosine similarity against every embedded memory of a user,
// ranked by similarity with importance and age as tie-breakers.
//
// The linear scan is deliberate. Per-user memory counts in a personal
// assistant stay in the low thousands, where an exact scan beats an
// approximate index on both recall and operational simplicity.
package search

import (
	"context"
	"math"
	"sort"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// Engine ranks a user's embedded memories against a query vector.
type Engine struct {
	store storage.Store
}

// NewEngine creates a search engine over the given store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// SearchSimilar returns up to limit memories of the user whose cosine
// similarity to the query embedding is >= minSimilarity, ordered by
// similarity descending (importance, then creation time, break ties).
//
// Memories without an embedding, or with an embedding of a different
// dimensionality than the query, are excluded rather than failing the
// search: a model migration must not take retrieval down. An empty query
// embedding is memory.ErrValidation; limit 0 short-circuits to no results.
func (e *Engine) SearchSimilar(ctx context.Context, userID string, query []float32, limit int, minSimilarity float64) ([]*memory.SimilarMemory, error) {
	if len(query) == 0 {
		return nil, memory.Validationf("query embedding is empty")
	}
	if limit == 0 {
		return []*memory.SimilarMemory{}, nil
	}

	candidates, err := e.store.ListEmbedded(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]*memory.SimilarMemory, 0, len(candidates))
	for _, m := range candidates {
		if m.EmbeddingDimensions() != len(query) {
			continue
		}
		sim := CosineSimilarity(query, m.Embedding)
		if sim >= minSimilarity {
			results = append(results, &memory.SimilarMemory{Memory: m, Similarity: sim})
		}
	}

	Rank(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Rank sorts results in place: similarity descending, then importance
// descending, then creation time ascending (older first) for stability.
func Rank(results []*memory.SimilarMemory) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Memory.Importance != results[j].Memory.Importance {
			return results[i].Memory.Importance > results[j].Memory.Importance
		}
		return results[i].Memory.CreatedAt.Before(results[j].Memory.CreatedAt)
	})
}

// CosineSimilarity computes the cosine similarity of two vectors,
// accumulating in float64 for precision. It returns 0.0 when either vector
// has zero magnitude or when the lengths differ, so a degenerate vector
// ranks as unrelated instead of poisoning results with NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
