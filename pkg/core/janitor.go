package core

import (
	"context"
	"log"
	"sync"
	"time"
)

// Janitor runs periodic decay passes and low-importance cleanup in the
// background. A decay pass then cleanup form one maintenance cycle.
//
// Start and Stop are not safe to call concurrently with each other; the
// cycles themselves only use the service's concurrency-safe methods.
type Janitor struct {
	service  *Service
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor over the service. A non-positive interval
// falls back to the configured DecayInterval, then to 24h.
func NewJanitor(service *Service, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = service.config.Intelligence.DecayInterval
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Janitor{service: service, interval: interval}
}

// Start launches the maintenance loop. The first cycle runs after one full
// interval, not immediately, so process startup stays cheap. Calling Start
// on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				j.runCycle(runCtx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
// Safe to call on a janitor that was never started.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	j.wg.Wait()
}

// RunOnce executes a single maintenance cycle synchronously.
func (j *Janitor) RunOnce(ctx context.Context) error {
	return j.runCycle(ctx)
}

func (j *Janitor) runCycle(ctx context.Context) error {
	lowIDs, err := j.service.ApplyDecay(ctx)
	if err != nil {
		log.Printf("janitor: decay pass failed: %v", err)
		return err
	}
	if len(lowIDs) > 0 {
		log.Printf("janitor: %d memories below eviction threshold", len(lowIDs))
	}

	if _, err := j.service.CleanupLowImportance(ctx); err != nil {
		log.Printf("janitor: cleanup failed: %v", err)
		return err
	}
	return nil
}
