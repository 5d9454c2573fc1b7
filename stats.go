package llmrouter

import (
	"sync"

	"github.com/quaylabs/llmrouter/domain"
)

// RouteStats is the aggregated counter set GET /v1/route/stats reports. It
// accumulates in-process only, per spec: the core keeps no durable state.
type RouteStats struct {
	mu sync.Mutex

	total        int64
	cacheHits    int64
	byOutcome    map[domain.Outcome]int64
	byModel      map[string]int64
	errorsByKind map[string]int64
}

// NewRouteStats builds an empty counter set.
func NewRouteStats() *RouteStats {
	return &RouteStats{
		byOutcome:    make(map[domain.Outcome]int64),
		byModel:      make(map[string]int64),
		errorsByKind: make(map[string]int64),
	}
}

func (s *RouteStats) recordSuccess(modelID string, cacheHit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byOutcome[domain.OutcomeOK]++
	s.byModel[modelID]++
	if cacheHit {
		s.cacheHits++
	}
}

func (s *RouteStats) recordFailure(outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byOutcome[outcome]++
	s.errorsByKind[string(outcome)]++
}

// Snapshot is the JSON-serializable point-in-time view of RouteStats.
type Snapshot struct {
	TotalRequests int64            `json:"totalRequests"`
	CacheHitRate  float64          `json:"cacheHitRate"`
	ByOutcome     map[string]int64 `json:"byOutcome"`
	ByModel       map[string]int64 `json:"byModel"`
}

// Snapshot returns a point-in-time copy of the current counters.
func (s *RouteStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		TotalRequests: s.total,
		ByOutcome:     make(map[string]int64, len(s.byOutcome)),
		ByModel:       make(map[string]int64, len(s.byModel)),
	}
	for k, v := range s.byOutcome {
		out.ByOutcome[string(k)] = v
	}
	for k, v := range s.byModel {
		out.ByModel[k] = v
	}
	if s.total > 0 {
		out.CacheHitRate = float64(s.cacheHits) / float64(s.total)
	}
	return out
}
