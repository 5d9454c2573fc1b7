package feedback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quaylabs/llmrouter/internal/cache"
	"github.com/quaylabs/llmrouter/internal/circuitbreaker"
	"github.com/quaylabs/llmrouter/models"
)

type countingHealth struct {
	calls atomic.Int32
}

func (c *countingHealth) RecomputeHealth(_ context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestLoop_RunsConfiguredTasksAndStopsOnCancel(t *testing.T) {
	catalog := models.NewInMemoryCatalog(nil, nil)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{})
	health := &countingHealth{}
	store := cache.New[string](cache.Config{MaxEntries: 10})

	intervals := Intervals{
		CatalogRefresh:  10 * time.Millisecond,
		HealthRecompute: 10 * time.Millisecond,
		CircuitPrune:    0, // disabled
		CacheCleanup:    10 * time.Millisecond,
	}
	loop := New(intervals, catalog, breakers, health, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop.Run did not return after context cancellation")
	}

	if health.calls.Load() == 0 {
		t.Fatal("expected at least one health recompute call")
	}
}

func TestLoop_DisabledTaskNeverRuns(t *testing.T) {
	catalog := models.NewInMemoryCatalog(nil, nil)
	health := &countingHealth{}

	intervals := Intervals{} // everything disabled
	loop := New(intervals, catalog, nil, health, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if health.calls.Load() != 0 {
		t.Fatalf("expected zero health recompute calls with intervals disabled, got %d", health.calls.Load())
	}
}

func TestDefaultIntervals_AllPositive(t *testing.T) {
	d := DefaultIntervals()
	if d.CatalogRefresh <= 0 || d.PricingRefresh <= 0 || d.HealthRecompute <= 0 || d.CircuitPrune <= 0 || d.CacheCleanup <= 0 {
		t.Fatalf("expected every default interval to be positive, got %+v", d)
	}
}
