// Package predictor maintains a statistical performance model per
// (modelID, taskType, complexity) and derives per-model health scores and
// routing recommendations from it.
package predictor

import (
	"context"
	"sort"
	"sync"

	"github.com/quaylabs/llmrouter/domain"
)

// historyCapacity bounds how many recent metrics are kept per model, so
// memory stays flat regardless of request volume.
const historyCapacity = 500

// trendWindow is the sample count compared against the prior same-sized
// window to compute trend, per spec §4.6.
const trendWindow = 20

// Trend describes the recent direction of a model's combined
// latency+quality performance.
type Trend string

// Trend enum values.
const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Prediction is the statistical tier's output for one (modelID, taskType,
// complexity) query.
type Prediction struct {
	LatencyMs   float64
	Quality     float64
	SuccessRate float64
	Confidence  float64
	SampleCount int
}

// HealthScore is the per-model composite described in spec §3.
type HealthScore struct {
	Latency      float64
	Quality      float64
	Availability float64
	Cost         float64
	Overall      float64
	Trend        Trend
}

// Overall computes the weighted composite per spec §3.
func Overall(latency, quality, availability, cost float64) float64 {
	return 0.25*latency + 0.35*quality + 0.25*availability + 0.15*cost
}

// StatisticalTier is an optional model-based second tier; a real
// implementation could call out to a small regression or ML model.
// Implementations return ok=false to mean "no opinion" (not an error).
type StatisticalTier interface {
	Predict(ctx context.Context, modelID string, taskType domain.TaskType, complexity domain.Complexity) (Prediction, bool)
}

type modelHistory struct {
	mu      sync.Mutex
	metrics []domain.RequestMetric
}

// Predictor accumulates per-model RequestMetric history and serves
// predictions and recommendations derived from it.
type Predictor struct {
	mu       sync.RWMutex
	history  map[string]*modelHistory
	model    StatisticalTier // optional
}

// New creates an empty Predictor. model may be nil to use the statistical
// tier only.
func New(model StatisticalTier) *Predictor {
	return &Predictor{
		history: make(map[string]*modelHistory),
		model:   model,
	}
}

// Record appends a completed RequestMetric to modelID's history.
func (p *Predictor) Record(modelID string, m domain.RequestMetric) {
	h := p.historyFor(modelID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = append(h.metrics, m)
	if len(h.metrics) > historyCapacity {
		h.metrics = h.metrics[len(h.metrics)-historyCapacity:]
	}
}

func (p *Predictor) historyFor(modelID string) *modelHistory {
	p.mu.RLock()
	h, ok := p.history[modelID]
	p.mu.RUnlock()
	if ok {
		return h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.history[modelID]; ok {
		return h
	}
	h = &modelHistory{}
	p.history[modelID] = h
	return h
}

// Predict returns the predicted (latency, quality, successRate, confidence)
// for modelID filtered by taskType/complexity; an empty taskType/complexity
// filter uses all metrics. The statistical tier runs first when present;
// the recency-weighted tier always runs and is returned when the
// statistical tier has no opinion.
func (p *Predictor) Predict(ctx context.Context, modelID string, taskType domain.TaskType, complexity domain.Complexity) Prediction {
	if p.model != nil {
		if pred, ok := p.model.Predict(ctx, modelID, taskType, complexity); ok {
			return pred
		}
	}
	return p.predictStatistical(modelID, taskType, complexity)
}

func (p *Predictor) predictStatistical(modelID string, taskType domain.TaskType, complexity domain.Complexity) Prediction {
	h := p.historyFor(modelID)
	h.mu.Lock()
	defer h.mu.Unlock()

	filtered := filterMetrics(h.metrics, taskType, complexity)
	if len(filtered) == 0 {
		return Prediction{Confidence: 0.5}
	}

	latency := recencyWeightedMean(filtered, func(m domain.RequestMetric) float64 { return m.LatencyMs })
	quality := recencyWeightedMean(filtered, func(m domain.RequestMetric) float64 { return m.QualitySignal })

	successes := 0
	for _, m := range filtered {
		if m.Success() {
			successes++
		}
	}
	successRate := float64(successes) / float64(len(filtered))

	return Prediction{
		LatencyMs:   latency,
		Quality:     quality,
		SuccessRate: successRate,
		Confidence:  confidenceFromSamples(len(filtered)),
		SampleCount: len(filtered),
	}
}

func filterMetrics(metrics []domain.RequestMetric, taskType domain.TaskType, complexity domain.Complexity) []domain.RequestMetric {
	if taskType == "" && complexity == "" {
		return metrics
	}
	var out []domain.RequestMetric
	for _, m := range metrics {
		if taskType != "" && m.TaskType != taskType {
			continue
		}
		if complexity != "" && m.Complexity != complexity {
			continue
		}
		out = append(out, m)
	}
	return out
}

// recencyWeightedMean weights each sample by its position: the most recent
// sample carries the highest weight, linearly decaying to 1 for the oldest.
func recencyWeightedMean(metrics []domain.RequestMetric, value func(domain.RequestMetric) float64) float64 {
	n := len(metrics)
	if n == 0 {
		return 0
	}
	var weightedSum, totalWeight float64
	for i, m := range metrics {
		weight := float64(i + 1) // oldest=1 ... newest=n
		weightedSum += value(m) * weight
		totalWeight += weight
	}
	return weightedSum / totalWeight
}

// confidenceFromSamples implements spec §4.6's confidence growth formula.
func confidenceFromSamples(n int) float64 {
	c := 0.5 + 0.05*float64(n)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// Health computes the composite HealthScore for a model given its current
// availability and cost-normalized signals. latencyScore/qualityScore and
// the rest are expected to already be normalized to [0,1] by the caller
// (typically the Catalog, which knows the task-appropriate latency/cost
// bounds); Health only combines them and computes trend from history.
func (p *Predictor) Health(modelID string, latencyScore, qualityScore, availabilityScore, costScore float64) HealthScore {
	overall := Overall(latencyScore, qualityScore, availabilityScore, costScore)
	return HealthScore{
		Latency:      latencyScore,
		Quality:      qualityScore,
		Availability: availabilityScore,
		Cost:         costScore,
		Overall:      overall,
		Trend:        p.trend(modelID),
	}
}

// trend compares the mean of the last trendWindow samples against the prior
// trendWindow samples, per spec §4.6.
func (p *Predictor) trend(modelID string) Trend {
	h := p.historyFor(modelID)
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.metrics)
	if n < trendWindow*2 {
		return TrendStable
	}

	recent := h.metrics[n-trendWindow:]
	prior := h.metrics[n-2*trendWindow : n-trendWindow]

	recentScore := meanLatencyQuality(recent)
	priorScore := meanLatencyQuality(prior)
	delta := recentScore - priorScore

	switch {
	case delta > 0.1:
		return TrendImproving
	case delta < -0.1:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// meanLatencyQuality combines quality directly and latency inverted
// (lower latency is better) into a single comparable [roughly 0,1] score.
// Latency is normalized against a fixed reference ceiling since trend
// comparison only needs a consistent scale, not an absolute one.
func meanLatencyQuality(metrics []domain.RequestMetric) float64 {
	const latencyCeilingMs = 20_000
	var sum float64
	for _, m := range metrics {
		latencyScore := 1 - minFloat(m.LatencyMs/latencyCeilingMs, 1)
		sum += (latencyScore + m.QualitySignal) / 2
	}
	return sum / float64(len(metrics))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Recommendation is the Predictor's ranked routing advice for one
// (taskType, complexity, budget) query.
type Recommendation struct {
	Primary   []string
	Fallback  []string
	Avoid     []string
	Reasoning string
}

// ModelHealth pairs a model ID with its current HealthScore, the input
// Recommend needs from the Catalog/FeedbackLoop-maintained health set.
type ModelHealth struct {
	ModelID string
	Health  HealthScore
	Cost    float64 // normalized [0,1], higher is cheaper
}

// Recommend implements spec §4.6's Recommend(taskType, complexity, budget):
// candidates with overall>=0.6 and cost>=costThreshold are primary, sorted
// by overall descending; anything with overall<0.4 or a declining trend is
// avoided. budget <= 0 means "unconstrained" and uses the spec's literal
// 0.5 cost threshold; a positive budget raises the bar proportionally (see
// Open Question decision in DESIGN.md — the spec leaves this mapping to
// configuration).
func Recommend(candidates []ModelHealth, budget float64) Recommendation {
	costThreshold := 0.5
	if budget > 0 {
		costThreshold = minFloat(0.5+budget/100, 0.9)
	}

	var primary, fallback, avoid []ModelHealth

	for _, c := range candidates {
		switch {
		case c.Health.Overall < 0.4 || c.Health.Trend == TrendDeclining:
			avoid = append(avoid, c)
		case c.Health.Overall >= 0.6 && c.Cost >= costThreshold:
			primary = append(primary, c)
		default:
			fallback = append(fallback, c)
		}
	}

	sortByOverallDesc(primary)
	sortByOverallDesc(fallback)

	return Recommendation{
		Primary:   modelIDs(primary),
		Fallback:  modelIDs(fallback),
		Avoid:     modelIDs(avoid),
		Reasoning: "ranked by overall health score; budget hint applied to cost weighting",
	}
}

func sortByOverallDesc(models []ModelHealth) {
	sort.Slice(models, func(i, j int) bool {
		return models[i].Health.Overall > models[j].Health.Overall
	})
}

func modelIDs(models []ModelHealth) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ModelID
	}
	return ids
}
