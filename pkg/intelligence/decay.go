// Package intelligence hosts the maintenance engines that keep the memory
// store healthy over time: exponential importance decay modeled on the
// Ebbinghaus forgetting curve, and duplicate detection for near-identical
// memories.
package intelligence

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
)

// DefaultDecayRate is the per-day exponential decay constant. At 0.1 an
// untouched memory loses roughly half its importance in a week.
const DefaultDecayRate = 0.1

// Decay returns the importance after elapsedDays of inactivity:
// importance * e^(-rate*elapsedDays), clamped to [0, 1].
//
// Non-positive elapsed time leaves the value unchanged (aside from the
// clamp), so clock skew can never inflate a score.
func Decay(importance, elapsedDays, rate float64) float64 {
	if elapsedDays <= 0 {
		return memory.ClampImportance(importance)
	}
	return memory.ClampImportance(importance * math.Exp(-rate*elapsedDays))
}

// DecayEngine applies time-based decay across the whole store.
type DecayEngine struct {
	store storage.Store
	rate  float64
}

// NewDecayEngine creates a decay engine. A non-positive rate falls back to
// DefaultDecayRate.
func NewDecayEngine(store storage.Store, rate float64) *DecayEngine {
	if rate <= 0 {
		rate = DefaultDecayRate
	}
	return &DecayEngine{store: store, rate: rate}
}

// Rate returns the per-day decay constant in effect.
func (e *DecayEngine) Rate() float64 {
	return e.rate
}

// ApplyDecay runs one decay pass over every memory, all users, and returns
// the ids whose importance ended below memory.MinImportance (eviction
// candidates; nothing is deleted here).
//
// Elapsed time per row is measured from the later of last access and last
// decay, so back-to-back passes compose: two passes over the same idle
// period decay once, not twice. Each row is written individually and the
// context is checked between rows, so a cancelled pass leaves already
// processed rows durable. Rows deleted concurrently mid-pass are skipped.
func (e *DecayEngine) ApplyDecay(ctx context.Context) ([]int64, error) {
	states, err := e.store.DecayStates(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var lowImportance []int64
	for _, s := range states {
		if err := ctx.Err(); err != nil {
			return lowImportance, err
		}

		elapsedDays := now.Sub(s.DecayAnchor()).Hours() / 24
		decayed := Decay(s.Importance, elapsedDays, e.rate)

		if err := e.store.SetImportance(ctx, s.ID, decayed, now); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				continue
			}
			return lowImportance, err
		}
		if decayed < memory.MinImportance {
			lowImportance = append(lowImportance, s.ID)
		}
	}

	log.Printf("decay pass complete: %d memories scanned, %d below threshold",
		len(states), len(lowImportance))
	return lowImportance, nil
}

// CleanupBelowThreshold deletes every memory under the threshold and returns
// how many were removed. Running it twice in a row removes nothing the
// second time.
func (e *DecayEngine) CleanupBelowThreshold(ctx context.Context, threshold float64) (int, error) {
	removed, err := e.store.DeleteBelowImportance(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("cleanup removed %d memories below importance %.2f", removed, threshold)
	}
	return removed, nil
}
