// Package policy assembles the ordered candidate list for a Classification,
// applying the task-type threshold table, capability filtering, and
// Predictor-based success-rate filtering described in spec §4.7.
package policy

import (
	"context"
	"sort"

	"github.com/quaylabs/llmrouter/domain"
	"github.com/quaylabs/llmrouter/internal/predictor"
	"github.com/quaylabs/llmrouter/internal/routeconfig"
	"github.com/quaylabs/llmrouter/models"
)

// CircuitState reports whether a model's circuit is currently open, the one
// piece of live state Policy needs from circuitbreaker.Manager without
// importing it (avoiding a dependency from policy → circuitbreaker →
// nothing back, but kept as a narrow interface so policy stays testable
// without a real Manager).
type CircuitState interface {
	IsOpen(key string) bool
}

// Predictions is the subset of Predictor's read surface Policy needs.
type Predictions interface {
	Predict(ctx context.Context, modelID string, taskType domain.TaskType, complexity domain.Complexity) predictor.Prediction
	Health(modelID string, latencyScore, qualityScore, availabilityScore, costScore float64) predictor.HealthScore
}

const (
	minSuccessRatePrimary  = 0.8
	minSuccessRateFallback = 0.7
)

// relaxationOrder is the order thresholds are relaxed in when no candidate
// satisfies the task table, per spec §4.7 step 6.
var relaxationOrder = []string{"cost", "latency", "quality"}

// Policy assembles ordered candidate lists from a Catalog snapshot,
// Predictor recommendations, and live CircuitState.
type Policy struct {
	catalog   models.Catalog
	predictor Predictions
	circuits  CircuitState
	taskTable map[string]routeconfig.TaskThresholds
}

// New creates a Policy. taskTable may be nil to use
// routeconfig.DefaultTaskTable().
func New(catalog models.Catalog, predictor Predictions, circuits CircuitState, taskTable map[string]routeconfig.TaskThresholds) *Policy {
	if taskTable == nil {
		taskTable = routeconfig.DefaultTaskTable()
	}
	return &Policy{catalog: catalog, predictor: predictor, circuits: circuits, taskTable: taskTable}
}

// Select implements the six-step algorithm of spec §4.7 and returns an
// ordered list of candidate model IDs, highest priority first. budget is
// the caller's cost-sensitivity hint (domain.Hints.Budget), passed through
// to the avoid-set computation's cost threshold.
func (p *Policy) Select(ctx context.Context, c domain.Classification, budget float64) []string {
	all := p.catalog.List()

	base := p.baseFilter(all, c, budget)
	if len(base) == 0 {
		return nil
	}

	thresholds, hasTable := p.taskTable[string(c.TaskType)]
	if !hasTable {
		thresholds = routeconfig.DefaultTaskTable()["general"]
	}

	candidates := p.applyTaskTable(ctx, base, thresholds, c)
	if len(candidates) > 0 {
		return candidates
	}

	// Step 6: relax thresholds one step at a time.
	relaxed := thresholds
	for _, field := range relaxationOrder {
		relaxed = relaxOneStep(relaxed, field)
		candidates = p.applyTaskTable(ctx, base, relaxed, c)
		if len(candidates) > 0 {
			return candidates
		}
	}

	// Still empty: return the best-available candidate ignoring the task table.
	return bestAvailable(base)
}

// baseFilter implements step 1's conjunctive filter
// (enabled ∧ online ∧ circuit≠open ∧ id∉avoid) plus step 2's
// required-capability containment.
func (p *Policy) baseFilter(all []models.RoutingModel, c domain.Classification, budget float64) []models.RoutingModel {
	required := c.CapabilityTags()
	avoid := p.avoidSet(all, budget)

	var out []models.RoutingModel
	for _, m := range all {
		if !m.Enabled || m.Availability.Status != models.AvailabilityOnline {
			continue
		}
		if p.circuits != nil && p.circuits.IsOpen(m.ID) {
			continue
		}
		if avoid[m.ID] {
			continue
		}
		hasAll := true
		for _, tag := range required {
			if !m.HasCapability(tag) {
				hasAll = false
				break
			}
		}
		if !hasAll {
			continue
		}
		out = append(out, m)
	}
	return out
}

// latencyCeilingMs and costCeilingPer1K anchor the [0,1] normalization
// avoidSet feeds into Predictor.Health; chosen to match predictor.go's own
// reference latency ceiling and a representative top-end per-1K-token cost
// across the catalog.
const (
	latencyCeilingMs = 20_000
	costCeilingPer1K = 0.10
)

// avoidSet computes spec §4.6/§4.7 step 1's avoid set: the IDs
// predictor.Recommend flags as overall<0.4 or trend-declining, given each
// candidate's current normalized health signals. Returns nil (meaning
// "avoid nothing") when Policy has no Predictor configured.
func (p *Policy) avoidSet(all []models.RoutingModel, budget float64) map[string]bool {
	if p.predictor == nil {
		return nil
	}

	healths := make([]predictor.ModelHealth, 0, len(all))
	for _, m := range all {
		latencyScore := 1 - minFloat(m.Performance.AvgLatencyMs/latencyCeilingMs, 1)
		costScore := 1 - minFloat(m.Pricing.OutputPer1K/costCeilingPer1K, 1)
		availabilityScore := m.Availability.Uptime
		if availabilityScore == 0 && m.Availability.Status == models.AvailabilityOnline {
			availabilityScore = 1
		}
		health := p.predictor.Health(m.ID, latencyScore, m.Performance.QualityScore, availabilityScore, costScore)
		healths = append(healths, predictor.ModelHealth{ModelID: m.ID, Health: health, Cost: costScore})
	}

	rec := predictor.Recommend(healths, budget)
	if len(rec.Avoid) == 0 {
		return nil
	}
	avoid := make(map[string]bool, len(rec.Avoid))
	for _, id := range rec.Avoid {
		avoid[id] = true
	}
	return avoid
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// applyTaskTable implements steps 3-5: primary-then-fallback ordering,
// threshold filtering, Predictor-based success-rate filtering, and the
// quality/cost/latency tie-break.
func (p *Policy) applyTaskTable(ctx context.Context, base []models.RoutingModel, t routeconfig.TaskThresholds, c domain.Classification) []string {
	byID := make(map[string]models.RoutingModel, len(base))
	for _, m := range base {
		byID[m.ID] = m
	}

	var primary, fallback []models.RoutingModel
	if len(t.Primary) > 0 || len(t.Fallback) > 0 {
		for _, id := range t.Primary {
			if m, ok := byID[id]; ok {
				primary = append(primary, m)
			}
		}
		for _, id := range t.Fallback {
			if m, ok := byID[id]; ok {
				fallback = append(fallback, m)
			}
		}
	} else {
		primary = base
	}

	primary = filterByThresholds(primary, t)
	fallback = filterByThresholds(fallback, t)

	if p.predictor != nil {
		primary = filterBySuccessRate(ctx, p.predictor, primary, c, minSuccessRatePrimary)
		fallback = filterBySuccessRate(ctx, p.predictor, fallback, c, minSuccessRateFallback)
	}

	tieBreak(primary)
	tieBreak(fallback)

	out := make([]string, 0, len(primary)+len(fallback))
	for _, m := range primary {
		out = append(out, m.ID)
	}
	for _, m := range fallback {
		out = append(out, m.ID)
	}
	return out
}

func filterByThresholds(models_ []models.RoutingModel, t routeconfig.TaskThresholds) []models.RoutingModel {
	var out []models.RoutingModel
	for _, m := range models_ {
		if t.MinQuality > 0 && m.Performance.QualityScore < t.MinQuality {
			continue
		}
		if t.MaxLatencyMs > 0 && m.Performance.AvgLatencyMs > t.MaxLatencyMs {
			continue
		}
		if t.MaxCostPer1K > 0 && m.Pricing.OutputPer1K > t.MaxCostPer1K {
			continue
		}
		out = append(out, m)
	}
	return out
}

func filterBySuccessRate(ctx context.Context, p Predictions, models_ []models.RoutingModel, c domain.Classification, minRate float64) []models.RoutingModel {
	var out []models.RoutingModel
	for _, m := range models_ {
		pred := p.Predict(ctx, m.ID, c.TaskType, c.Complexity)
		if pred.SampleCount == 0 || pred.SuccessRate >= minRate {
			out = append(out, m)
		}
	}
	return out
}

// tieBreak sorts by quality desc, then cost asc, then latency asc, in place.
func tieBreak(models_ []models.RoutingModel) {
	sort.SliceStable(models_, func(i, j int) bool {
		a, b := models_[i], models_[j]
		if a.Performance.QualityScore != b.Performance.QualityScore {
			return a.Performance.QualityScore > b.Performance.QualityScore
		}
		if a.Pricing.OutputPer1K != b.Pricing.OutputPer1K {
			return a.Pricing.OutputPer1K < b.Pricing.OutputPer1K
		}
		return a.Performance.AvgLatencyMs < b.Performance.AvgLatencyMs
	})
}

// relaxOneStep loosens one threshold field by 25%, the "relax by one step"
// spec §4.7 leaves to implementations to define concretely.
func relaxOneStep(t routeconfig.TaskThresholds, field string) routeconfig.TaskThresholds {
	switch field {
	case "cost":
		if t.MaxCostPer1K > 0 {
			t.MaxCostPer1K *= 1.25
		}
	case "latency":
		if t.MaxLatencyMs > 0 {
			t.MaxLatencyMs *= 1.25
		}
	case "quality":
		t.MinQuality *= 0.75
	}
	return t
}

// bestAvailable implements the final fallback: best candidate by the same
// tie-break, ignoring the task table entirely.
func bestAvailable(base []models.RoutingModel) []string {
	cp := make([]models.RoutingModel, len(base))
	copy(cp, base)
	tieBreak(cp)
	out := make([]string, len(cp))
	for i, m := range cp {
		out[i] = m.ID
	}
	return out
}
