package predictor

import (
	"context"
	"testing"
	"time"

	"github.com/quaylabs/llmrouter/domain"
)

func metric(latency, quality float64, outcome domain.Outcome) domain.RequestMetric {
	return domain.RequestMetric{
		LatencyMs:     latency,
		QualitySignal: quality,
		Outcome:       outcome,
		StartedAt:     time.Now(),
		EndedAt:       time.Now(),
	}
}

func TestPredict_NoHistoryReturnsNeutralConfidence(t *testing.T) {
	p := New(nil)
	pred := p.Predict(context.Background(), "model-a", domain.TaskGeneral, domain.ComplexitySimple)
	if pred.Confidence != 0.5 {
		t.Fatalf("expected 0.5 confidence with no history, got %f", pred.Confidence)
	}
}

func TestPredict_SuccessRate(t *testing.T) {
	p := New(nil)
	p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	p.Record("model-a", metric(100, 0.1, domain.OutcomeUpstreamErr))

	pred := p.Predict(context.Background(), "model-a", "", "")
	if pred.SuccessRate < 0.66 || pred.SuccessRate > 0.67 {
		t.Fatalf("expected ~0.667 success rate, got %f", pred.SuccessRate)
	}
}

func TestPredict_ConfidenceGrowsWithSamples(t *testing.T) {
	p := New(nil)
	for i := 0; i < 5; i++ {
		p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	}
	pred5 := p.Predict(context.Background(), "model-a", "", "")

	for i := 0; i < 5; i++ {
		p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	}
	pred10 := p.Predict(context.Background(), "model-a", "", "")

	if pred10.Confidence <= pred5.Confidence {
		t.Fatalf("expected confidence to grow with sample count: %f -> %f", pred5.Confidence, pred10.Confidence)
	}

	expected5 := 0.5 + 0.05*5
	if pred5.Confidence != expected5 {
		t.Fatalf("expected confidence formula result %f, got %f", expected5, pred5.Confidence)
	}
}

func TestPredict_ConfidenceCapsAt095(t *testing.T) {
	p := New(nil)
	for i := 0; i < 50; i++ {
		p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	}
	pred := p.Predict(context.Background(), "model-a", "", "")
	if pred.Confidence != 0.95 {
		t.Fatalf("expected confidence capped at 0.95, got %f", pred.Confidence)
	}
}

func TestPredict_FiltersByTaskTypeAndComplexity(t *testing.T) {
	p := New(nil)
	p.Record("model-a", domain.RequestMetric{LatencyMs: 100, QualitySignal: 0.9, Outcome: domain.OutcomeOK, TaskType: domain.TaskCodeGeneration, Complexity: domain.ComplexitySimple})
	p.Record("model-a", domain.RequestMetric{LatencyMs: 9000, QualitySignal: 0.1, Outcome: domain.OutcomeUpstreamErr, TaskType: domain.TaskCreativeGeneration, Complexity: domain.ComplexityExpert})

	pred := p.Predict(context.Background(), "model-a", domain.TaskCodeGeneration, domain.ComplexitySimple)
	if pred.SampleCount != 1 {
		t.Fatalf("expected filter to isolate 1 sample, got %d", pred.SampleCount)
	}
	if pred.SuccessRate != 1.0 {
		t.Fatalf("expected 1.0 success rate for the filtered sample, got %f", pred.SuccessRate)
	}
}

type fakeStatisticalTier struct {
	pred Prediction
	ok   bool
}

func (f fakeStatisticalTier) Predict(context.Context, string, domain.TaskType, domain.Complexity) (Prediction, bool) {
	return f.pred, f.ok
}

func TestPredict_ModelTierOverridesWhenConfident(t *testing.T) {
	p := New(fakeStatisticalTier{pred: Prediction{Quality: 0.99}, ok: true})
	pred := p.Predict(context.Background(), "model-a", "", "")
	if pred.Quality != 0.99 {
		t.Fatalf("expected model tier's prediction to win, got %+v", pred)
	}
}

func TestHealth_OverallWeightedFormula(t *testing.T) {
	p := New(nil)
	h := p.Health("model-a", 1.0, 1.0, 1.0, 1.0)
	if h.Overall != 1.0 {
		t.Fatalf("expected overall 1.0 for all-perfect inputs, got %f", h.Overall)
	}

	h2 := p.Health("model-b", 0.0, 0.0, 0.0, 0.0)
	if h2.Overall != 0.0 {
		t.Fatalf("expected overall 0.0 for all-zero inputs, got %f", h2.Overall)
	}
}

func TestTrend_StableWithInsufficientHistory(t *testing.T) {
	p := New(nil)
	p.Record("model-a", metric(100, 0.9, domain.OutcomeOK))
	h := p.Health("model-a", 0.5, 0.5, 0.5, 0.5)
	if h.Trend != TrendStable {
		t.Fatalf("expected stable trend with insufficient history, got %s", h.Trend)
	}
}

func TestTrend_Improving(t *testing.T) {
	p := New(nil)
	for i := 0; i < trendWindow; i++ {
		p.Record("model-a", metric(15000, 0.3, domain.OutcomeOK))
	}
	for i := 0; i < trendWindow; i++ {
		p.Record("model-a", metric(100, 0.95, domain.OutcomeOK))
	}
	h := p.Health("model-a", 0.5, 0.5, 0.5, 0.5)
	if h.Trend != TrendImproving {
		t.Fatalf("expected improving trend, got %s", h.Trend)
	}
}

func TestRecommend_ClassifiesPrimaryFallbackAvoid(t *testing.T) {
	candidates := []ModelHealth{
		{ModelID: "good", Health: HealthScore{Overall: 0.8, Trend: TrendStable}, Cost: 0.7},
		{ModelID: "mediocre", Health: HealthScore{Overall: 0.55, Trend: TrendStable}, Cost: 0.6},
		{ModelID: "bad", Health: HealthScore{Overall: 0.2, Trend: TrendStable}, Cost: 0.9},
		{ModelID: "declining", Health: HealthScore{Overall: 0.9, Trend: TrendDeclining}, Cost: 0.9},
	}
	rec := Recommend(candidates, 0)

	if len(rec.Primary) != 1 || rec.Primary[0] != "good" {
		t.Fatalf("expected 'good' as sole primary, got %+v", rec.Primary)
	}
	if len(rec.Fallback) != 1 || rec.Fallback[0] != "mediocre" {
		t.Fatalf("expected 'mediocre' as fallback, got %+v", rec.Fallback)
	}
	avoidSet := map[string]bool{}
	for _, id := range rec.Avoid {
		avoidSet[id] = true
	}
	if !avoidSet["bad"] || !avoidSet["declining"] {
		t.Fatalf("expected 'bad' and 'declining' to be avoided, got %+v", rec.Avoid)
	}
}
