package policy

import (
	"context"
	"testing"

	"github.com/quaylabs/llmrouter/domain"
	"github.com/quaylabs/llmrouter/internal/predictor"
	"github.com/quaylabs/llmrouter/internal/routeconfig"
	"github.com/quaylabs/llmrouter/models"
)

type fakeCircuits struct {
	open map[string]bool
}

func (f fakeCircuits) IsOpen(key string) bool { return f.open[key] }

type fakePredictions struct {
	rates   map[string]float64
	healths map[string]predictor.HealthScore
}

func (f fakePredictions) Predict(_ context.Context, modelID string, _ domain.TaskType, _ domain.Complexity) predictor.Prediction {
	rate, ok := f.rates[modelID]
	if !ok {
		return predictor.Prediction{}
	}
	return predictor.Prediction{SuccessRate: rate, SampleCount: 10}
}

func (f fakePredictions) Health(modelID string, _, _, _, _ float64) predictor.HealthScore {
	if h, ok := f.healths[modelID]; ok {
		return h
	}
	return predictor.HealthScore{Overall: 0.8, Trend: predictor.TrendStable}
}

func newTestCatalog(t *testing.T, models_ []models.RoutingModel) models.Catalog {
	t.Helper()
	c := models.NewInMemoryCatalog(nil, nil)
	for _, m := range models_ {
		c.Upsert(m)
	}
	return c
}

func onlineModel(id string, quality, cost, latency float64) models.RoutingModel {
	return models.RoutingModel{
		ID:      id,
		Enabled: true,
		Availability: models.ModelAvailability{
			Status: models.AvailabilityOnline,
		},
		Performance: models.ModelPerformance{
			QualityScore: quality,
			AvgLatencyMs: latency,
		},
		Pricing: models.RoutingPricing{
			OutputPer1K: cost,
		},
	}
}

func TestSelect_FiltersDisabledAndOffline(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("good", 0.9, 0.01, 500),
		{ID: "disabled", Enabled: false, Availability: models.ModelAvailability{Status: models.AvailabilityOnline}},
		{ID: "offline", Enabled: true, Availability: models.ModelAvailability{Status: models.AvailabilityOffline}},
	})
	p := New(catalog, nil, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 1 || got[0] != "good" {
		t.Fatalf("expected only 'good', got %v", got)
	}
}

func TestSelect_FiltersOpenCircuit(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("a", 0.9, 0.01, 500),
		onlineModel("b", 0.9, 0.01, 500),
	})
	circuits := fakeCircuits{open: map[string]bool{"a": true}}
	p := New(catalog, nil, circuits, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	for _, id := range got {
		if id == "a" {
			t.Fatalf("expected circuit-open model 'a' to be excluded, got %v", got)
		}
	}
}

func TestSelect_RequiresCapability(t *testing.T) {
	multimodal := onlineModel("vision", 0.8, 0.02, 1000)
	multimodal.Capabilities = map[string]bool{"multimodal": true}
	textOnly := onlineModel("text", 0.9, 0.01, 500)

	catalog := newTestCatalog(t, []models.RoutingModel{multimodal, textOnly})
	p := New(catalog, nil, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{
		TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple, RequiresMultimodal: true,
	}, 0)
	if len(got) != 1 || got[0] != "vision" {
		t.Fatalf("expected only 'vision', got %v", got)
	}
}

func TestSelect_TieBreakByQualityThenCost(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("cheap-low-quality", 0.7, 0.01, 500),
		onlineModel("expensive-high-quality", 0.95, 0.05, 500),
	})
	p := New(catalog, nil, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if len(got) < 2 || got[0] != "expensive-high-quality" {
		t.Fatalf("expected higher-quality model first, got %v", got)
	}
}

func TestSelect_FiltersLowPredictedSuccessRate(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("reliable", 0.9, 0.01, 500),
		onlineModel("flaky", 0.9, 0.01, 500),
	})
	preds := fakePredictions{rates: map[string]float64{"reliable": 0.95, "flaky": 0.2}}
	p := New(catalog, preds, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	for _, id := range got {
		if id == "flaky" {
			t.Fatalf("expected low-success-rate model 'flaky' to be excluded, got %v", got)
		}
	}
	if len(got) != 1 || got[0] != "reliable" {
		t.Fatalf("expected only 'reliable', got %v", got)
	}
}

func TestSelect_RelaxesThresholdsWhenEmpty(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("slightly-over-budget", 0.55, 0.052, 4800),
	})
	table := map[string]routeconfig.TaskThresholds{
		"fast-response": {MinQuality: 0.60, MaxLatencyMs: 5000, MaxCostPer1K: 0.05},
	}
	p := New(catalog, nil, nil, table)

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskFastResponse, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 1 || got[0] != "slightly-over-budget" {
		t.Fatalf("expected threshold relaxation to surface the only candidate, got %v", got)
	}
}

func TestSelect_BestAvailableWhenNoTaskTableEntrySatisfiable(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("only-option", 0.1, 10.0, 60000),
	})
	table := map[string]routeconfig.TaskThresholds{
		"fast-response": {MinQuality: 0.95, MaxLatencyMs: 100, MaxCostPer1K: 0.001},
	}
	p := New(catalog, nil, nil, table)

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskFastResponse, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 1 || got[0] != "only-option" {
		t.Fatalf("expected the single existing model as a last resort, got %v", got)
	}
}

func TestSelect_NoCandidatesReturnsNil(t *testing.T) {
	catalog := newTestCatalog(t, nil)
	p := New(catalog, nil, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if got != nil {
		t.Fatalf("expected nil for an empty catalog, got %v", got)
	}
}

func TestSelect_PrimaryThenFallbackOrdering(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("primary-model", 0.8, 0.02, 1000),
		onlineModel("fallback-model", 0.99, 0.001, 100),
	})
	table := map[string]routeconfig.TaskThresholds{
		"general": {Primary: []string{"primary-model"}, Fallback: []string{"fallback-model"}, MinQuality: 0.1},
	}
	p := New(catalog, nil, nil, table)

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 2 || got[0] != "primary-model" || got[1] != "fallback-model" {
		t.Fatalf("expected primary before fallback regardless of tie-break ranking, got %v", got)
	}
}

func TestSelect_ExcludesAvoidSetModels(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("healthy", 0.9, 0.01, 500),
		onlineModel("unhealthy", 0.9, 0.01, 500),
	})
	predictions := fakePredictions{
		healths: map[string]predictor.HealthScore{
			"healthy":   {Overall: 0.8, Trend: predictor.TrendStable},
			"unhealthy": {Overall: 0.2, Trend: predictor.TrendStable},
		},
	}
	p := New(catalog, predictions, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 1 || got[0] != "healthy" {
		t.Fatalf("expected only 'healthy', got %v", got)
	}
}

func TestSelect_ExcludesDecliningTrendModels(t *testing.T) {
	catalog := newTestCatalog(t, []models.RoutingModel{
		onlineModel("stable", 0.9, 0.01, 500),
		onlineModel("declining", 0.9, 0.01, 500),
	})
	predictions := fakePredictions{
		healths: map[string]predictor.HealthScore{
			"stable":    {Overall: 0.9, Trend: predictor.TrendStable},
			"declining": {Overall: 0.9, Trend: predictor.TrendDeclining},
		},
	}
	p := New(catalog, predictions, nil, routeconfig.DefaultTaskTable())

	got := p.Select(context.Background(), domain.Classification{TaskType: domain.TaskGeneral, Complexity: domain.ComplexitySimple}, 0)
	if len(got) != 1 || got[0] != "stable" {
		t.Fatalf("expected only 'stable', got %v", got)
	}
}
