package intelligence

import (
	"context"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/search"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// DefaultMergeThreshold is the cosine similarity above which two memories
// are considered near-duplicates worth merging.
const DefaultMergeThreshold = 0.85

// MergeDetector finds stored memories that are near-duplicates of a
// candidate, so the caller can merge instead of accumulating restatements
// of the same fact. Detection only; the merge decision stays with the
// caller (typically an LLM-assisted consolidation step).
type MergeDetector struct {
	store     storage.Store
	threshold float64
}

// NewMergeDetector creates a detector. A non-positive threshold falls back
// to DefaultMergeThreshold.
func NewMergeDetector(store storage.Store, threshold float64) *MergeDetector {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	return &MergeDetector{store: store, threshold: threshold}
}

// Threshold returns the similarity threshold in effect.
func (d *MergeDetector) Threshold() float64 {
	return d.threshold
}

// FindMergeCandidates returns every stored memory of the same user whose
// similarity to the candidate meets the threshold, ordered like search
// results. The list is never truncated: a merge pass has to see all
// duplicates, not the top k. The candidate itself is excluded by id, so an
// already saved memory never reports itself as its own duplicate.
//
// A candidate without an embedding has no candidates, by definition.
func (d *MergeDetector) FindMergeCandidates(ctx context.Context, candidate *memory.Memory) ([]*memory.SimilarMemory, error) {
	if !candidate.HasEmbedding() {
		return []*memory.SimilarMemory{}, nil
	}

	stored, err := d.store.ListEmbedded(ctx, candidate.UserID)
	if err != nil {
		return nil, err
	}

	results := make([]*memory.SimilarMemory, 0)
	for _, m := range stored {
		if m.ID == candidate.ID {
			continue
		}
		if m.EmbeddingDimensions() != candidate.EmbeddingDimensions() {
			continue
		}
		sim := search.CosineSimilarity(candidate.Embedding, m.Embedding)
		if sim >= d.threshold {
			results = append(results, &memory.SimilarMemory{Memory: m, Similarity: sim})
		}
	}

	search.Rank(results)
	return results, nil
}
