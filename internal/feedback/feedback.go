// Package feedback runs the background refresh loop described in spec
// §4.9: independent tickers keep the catalog, pricing, health scores,
// circuit breaker bookkeeping, and cache all converging toward current
// reality without blocking the request path.
package feedback

import (
	"context"
	"log"
	"time"

	"github.com/quaylabs/llmrouter/internal/cache"
	"github.com/quaylabs/llmrouter/internal/circuitbreaker"
	"github.com/quaylabs/llmrouter/models"
)

// Intervals configures how often each background task runs. A zero
// interval disables that task entirely. PricingRefresh is not read by Run:
// no separate pricing task is started, and pricing is re-resolved only as
// part of each catalog refresh.
type Intervals struct {
	CatalogRefresh  time.Duration
	PricingRefresh  time.Duration
	HealthRecompute time.Duration
	CircuitPrune    time.Duration
	CacheCleanup    time.Duration
}

// DefaultIntervals returns the cadences spec §4.9 suggests: catalog
// discovery on a minute scale, pricing on an hour scale, health and circuit
// bookkeeping on a minute-to-hour scale, and cache cleanup on a second
// scale.
func DefaultIntervals() Intervals {
	return Intervals{
		CatalogRefresh:  5 * time.Minute,
		PricingRefresh:  1 * time.Hour,
		HealthRecompute: 1 * time.Minute,
		CircuitPrune:    1 * time.Hour,
		CacheCleanup:    30 * time.Second,
	}
}

// HealthRecomputer recomputes and writes back each model's Performance
// snapshot from accumulated Predictor history. Implemented by the router
// assembly package, which has both Catalog and Predictor in scope.
type HealthRecomputer interface {
	RecomputeHealth(ctx context.Context) error
}

// CachePruner is the subset of cache.Store's surface the loop needs,
// expressed without a generic type parameter so Loop can hold one
// regardless of what value type the cache stores.
type CachePruner interface {
	Cleanup() int
}

// Loop owns the set of background tickers. Each task runs on its own
// goroutine so a slow discovery call never delays cache cleanup or vice
// versa.
type Loop struct {
	intervals Intervals
	catalog   models.Catalog
	breakers  *circuitbreaker.Manager
	health    HealthRecomputer
	cache     CachePruner
}

// New creates a Loop. health and pruner may be nil to skip those tasks
// regardless of their configured interval.
func New(intervals Intervals, catalog models.Catalog, breakers *circuitbreaker.Manager, health HealthRecomputer, pruner CachePruner) *Loop {
	return &Loop{intervals: intervals, catalog: catalog, breakers: breakers, health: health, cache: pruner}
}

// Run starts every configured task and blocks until ctx is cancelled,
// mirroring the signal.NotifyContext-driven shutdown used by cmd/llmrouter.
func (l *Loop) Run(ctx context.Context) {
	tasks := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"catalog-refresh", l.intervals.CatalogRefresh, l.refreshCatalog},
		{"health-recompute", l.intervals.HealthRecompute, l.recomputeHealth},
		{"circuit-prune", l.intervals.CircuitPrune, l.pruneCircuits},
		{"cache-cleanup", l.intervals.CacheCleanup, l.cleanupCache},
	}

	done := make(chan struct{}, len(tasks))
	for _, task := range tasks {
		if task.interval <= 0 {
			done <- struct{}{}
			continue
		}
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer func() { done <- struct{}{} }()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					run(ctx)
				}
			}
		}(task.name, task.interval, task.run)
	}

	<-ctx.Done()
	for range tasks {
		<-done
	}
}

func (l *Loop) refreshCatalog(ctx context.Context) {
	if l.catalog == nil {
		return
	}
	if err := l.catalog.Refresh(ctx); err != nil {
		log.Printf("feedback: catalog refresh failed: %v", err)
	}
}

func (l *Loop) recomputeHealth(ctx context.Context) {
	if l.health == nil {
		return
	}
	if err := l.health.RecomputeHealth(ctx); err != nil {
		log.Printf("feedback: health recompute failed: %v", err)
	}
}

// circuitIdleTimeout is how long a per-model breaker may sit untouched
// before pruneCircuits reclaims it.
const circuitIdleTimeout = 24 * time.Hour

func (l *Loop) pruneCircuits(_ context.Context) {
	if l.breakers == nil {
		return
	}
	l.breakers.Prune(circuitIdleTimeout)
}

func (l *Loop) cleanupCache(_ context.Context) {
	if l.cache == nil {
		return
	}
	l.cache.Cleanup()
}

var _ CachePruner = (*cache.Store[any])(nil)
