// Package llmrouter implements the request-routing pipeline described in
// spec §4: classify a request, pick an ordered list of candidate models,
// execute against them with circuit-breaker protection and safety checks,
// and feed the outcome back into the predictor that informed the choice.
//
// Pipeline is the new entry point; Gateway (gateway.go) remains available
// as the lower-level, statically-configured strategy executor Pipeline
// delegates single-candidate execution to via internal/upstream.
package llmrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/quaylabs/llmrouter/domain"
	"github.com/quaylabs/llmrouter/internal/cache"
	"github.com/quaylabs/llmrouter/internal/circuitbreaker"
	"github.com/quaylabs/llmrouter/internal/classifier"
	"github.com/quaylabs/llmrouter/internal/guard"
	"github.com/quaylabs/llmrouter/internal/logging"
	"github.com/quaylabs/llmrouter/internal/policy"
	"github.com/quaylabs/llmrouter/internal/predictor"
	"github.com/quaylabs/llmrouter/internal/routeconfig"
	"github.com/quaylabs/llmrouter/internal/upstream"
	"github.com/quaylabs/llmrouter/models"
	"github.com/quaylabs/llmrouter/providers"
)

// CachedResponse is the value stored in Pipeline's response cache: the
// provider response plus the classification that produced it, so a cache
// hit can still report which task type/complexity served the request.
type CachedResponse struct {
	Response       *providers.Response
	Classification domain.Classification
}

// Result is what Route returns: the response actually used, the
// classification the pipeline settled on, which model served it, and
// whether it was a cache hit.
type Result struct {
	Response       *providers.Response
	Classification domain.Classification
	ModelID        string
	CacheHit       bool
}

// Pipeline assembles the classify → select → execute → record stages of
// spec §4 from the building blocks built this session: Catalog, Guard,
// Classifier, Policy, Predictor, and the circuit breaker Manager, executing
// candidates through internal/upstream adapters.
type Pipeline struct {
	catalog    models.Catalog
	guard      *guard.Guard
	classifier *classifier.Classifier
	policy     *policy.Policy
	predictor  *predictor.Predictor
	breakers   *circuitbreaker.Manager
	upstreams  *upstream.Registry
	cache      *cache.Store[CachedResponse]
	stats      *RouteStats

	maxAttemptsPerCandidate int
	cacheTTL                time.Duration
}

// Stats returns the Pipeline's running counter set, exposed over
// GET /v1/route/stats.
func (p *Pipeline) Stats() *RouteStats { return p.stats }

// PipelineConfig bundles Pipeline's collaborators and tuning knobs.
type PipelineConfig struct {
	Catalog                 models.Catalog
	Guard                   *guard.Guard
	Classifier              *classifier.Classifier
	Predictor               *predictor.Predictor
	Breakers                *circuitbreaker.Manager
	Upstreams               *upstream.Registry
	TaskTable               map[string]routeconfig.TaskThresholds // nil uses routeconfig.DefaultTaskTable(); ignored if PolicyOverride is set
	PolicyOverride          *policy.Policy
	Cache                   *cache.Store[CachedResponse]
	MaxAttemptsPerCandidate int
	CacheTTL                time.Duration
}

// NewPipeline wires a Pipeline from its collaborators. Catalog, Guard,
// Classifier, Predictor, Breakers, and Upstreams are required; Cache and
// PolicyOverride may be nil to disable caching / use default task
// thresholds respectively.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	pol := cfg.PolicyOverride
	if pol == nil {
		pol = policy.New(cfg.Catalog, cfg.Predictor, cfg.Breakers, cfg.TaskTable)
	}
	attempts := cfg.MaxAttemptsPerCandidate
	if attempts <= 0 {
		attempts = 1
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Pipeline{
		catalog:                 cfg.Catalog,
		guard:                   cfg.Guard,
		classifier:              cfg.Classifier,
		policy:                  pol,
		predictor:               cfg.Predictor,
		breakers:                cfg.Breakers,
		upstreams:               cfg.Upstreams,
		cache:                   cfg.Cache,
		stats:                   NewRouteStats(),
		maxAttemptsPerCandidate: attempts,
		cacheTTL:                ttl,
	}
}

// RecomputeHealth satisfies internal/feedback.HealthRecomputer: it asks
// Predictor for a fresh Health snapshot of every catalog model and writes
// it back as that model's Performance entry, closing the loop spec §4.9
// describes between observed outcomes and future routing decisions.
func (p *Pipeline) RecomputeHealth(ctx context.Context) error {
	for _, m := range p.catalog.List() {
		pred := p.predictor.Predict(ctx, m.ID, domain.TaskGeneral, domain.ComplexityModerate)

		availabilityScore := 0.0
		if m.Availability.Status == models.AvailabilityOnline {
			availabilityScore = 1.0
		}
		latencyScore := clamp01(1 - pred.LatencyMs/10000)
		costScore := clamp01(1 - m.Pricing.OutputPer1K/0.1)

		health := p.predictor.Health(m.ID, latencyScore, pred.Quality, availabilityScore, costScore)

		m.Performance.QualityScore = health.Overall
		m.Performance.AvgLatencyMs = pred.LatencyMs
		m.Performance.SuccessRate = pred.SuccessRate
		m.Performance.UpdatedAt = time.Now()
		p.catalog.Upsert(m)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Route runs the full six-step pipeline of spec §4 for one request.
func (p *Pipeline) Route(ctx context.Context, req domain.Request) (Result, error) {
	log := logging.FromContext(ctx)

	cacheKey := cacheKeyFor(req)

	// Step 1: cache lookup.
	if p.cache != nil {
		if cached, ok := p.cache.Get(cacheKey); ok {
			p.stats.recordSuccess("", true)
			return Result{Response: cached.Response, Classification: cached.Classification, CacheHit: true}, nil
		}
		if cached, _, ok := p.cache.GetSemantic(req.Content, 0); ok {
			p.stats.recordSuccess("", true)
			return Result{Response: cached.Response, Classification: cached.Classification, CacheHit: true}, nil
		}
	}

	// Step 2: pre-execution safety check. Fails closed.
	if p.guard != nil {
		verdict := p.guard.InspectRequest(req.CallerID, req.Content)
		if verdict.Blocked {
			p.stats.recordFailure(domain.OutcomeSafetyBlock)
			return Result{}, &PipelineError{Outcome: domain.OutcomeSafetyBlock, Err: fmt.Errorf("request blocked: %d anomalies detected", len(verdict.Anomalies))}
		}
		if verdict.SanitizedContent != "" {
			req.Content = verdict.SanitizedContent
		}
	}

	// Step 3: classify.
	var classification domain.Classification
	if p.classifier != nil {
		classification = p.classifier.Classify(ctx, req, req.Content)
	}

	// Step 4: candidate selection.
	candidates := p.policy.Select(ctx, classification, req.Hints.Budget)
	if len(candidates) == 0 {
		p.stats.recordFailure(domain.OutcomeRoutingFail)
		return Result{Classification: classification}, &PipelineError{Outcome: domain.OutcomeRoutingFail, Err: fmt.Errorf("no candidate model available for task type %q", classification.TaskType)}
	}

	// Step 5: execute candidates in order, stopping at the first success.
	var lastErr error
	for _, modelID := range candidates {
		resp, err := p.attempt(ctx, modelID, req, classification)
		if err == nil {
			// Step 6: cache and return.
			if p.cache != nil {
				p.cache.Set(cacheKey, CachedResponse{Response: resp, Classification: classification}, cache.SetOptions{
					TTL:            p.cacheTTL,
					SimilarityText: req.Content,
					Priority:       req.Hints.Priority,
				})
			}
			p.stats.recordSuccess(modelID, false)
			return Result{Response: resp, Classification: classification, ModelID: modelID}, nil
		}
		log.Warn("candidate failed, trying next", "model", modelID, "error", err.Error())
		lastErr = err
	}

	p.stats.recordFailure(domain.OutcomeUpstreamErr)
	return Result{Classification: classification}, &PipelineError{Outcome: domain.OutcomeUpstreamErr, Err: fmt.Errorf("all %d candidate(s) failed: %w", len(candidates), lastErr)}
}

// attempt runs one candidate through its circuit breaker, records a
// RequestMetric regardless of outcome, and runs the post-execution safety
// check on a successful response.
func (p *Pipeline) attempt(ctx context.Context, modelID string, req domain.Request, classification domain.Classification) (*providers.Response, error) {
	model, ok := p.catalog.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("model %q no longer in catalog", modelID)
	}
	up, ok := p.upstreams.For(model.Provider)
	if !ok {
		return nil, fmt.Errorf("no upstream registered for provider %q", model.Provider)
	}

	started := time.Now()
	breaker := p.breakers.Get(modelID)

	gen, err := circuitbreaker.Execute(breaker, ctx, func(ctx context.Context) (upstream.Generation, error) {
		return p.executeWithRetry(ctx, up, modelID, req)
	}, nil)

	metric := domain.RequestMetric{
		ModelID:    modelID,
		TaskType:   classification.TaskType,
		Complexity: classification.Complexity,
		StartedAt:  started,
		EndedAt:    time.Now(),
	}
	metric.LatencyMs = float64(metric.EndedAt.Sub(metric.StartedAt).Milliseconds())

	if err != nil {
		metric.Outcome = outcomeFor(err)
		if p.predictor != nil {
			p.predictor.Record(modelID, metric)
		}
		return nil, err
	}

	if p.guard != nil && len(gen.Response.Choices) > 0 {
		content := gen.Response.Choices[0].Message.Content
		var verdict guard.Verdict
		if req.Hints.ResponseFormat.Type == "json_schema" {
			verdict = p.guard.InspectResponseWithSchema(content, req.Hints.ResponseFormat.Schema)
		} else {
			verdict = p.guard.InspectResponse(content)
		}
		if verdict.Blocked {
			metric.Outcome = domain.OutcomeSafetyBlock
			if p.predictor != nil {
				p.predictor.Record(modelID, metric)
			}
			return nil, fmt.Errorf("response from %s blocked: %d anomalies detected", modelID, len(verdict.Anomalies))
		}
	}

	metric.Outcome = domain.OutcomeOK
	metric.InputTokens = gen.Response.Usage.PromptTokens
	metric.OutputTokens = gen.Response.Usage.CompletionTokens
	metric.Cost = model.Pricing.InputPer1K*float64(gen.Response.Usage.PromptTokens)/1000 +
		model.Pricing.OutputPer1K*float64(gen.Response.Usage.CompletionTokens)/1000
	if p.predictor != nil {
		p.predictor.Record(modelID, metric)
	}

	return gen.Response, nil
}

// executeWithRetry makes up to maxAttemptsPerCandidate attempts (the first
// included) at a single candidate, with no delay between them, and stops
// early on a failure whose class is not retryable.
func (p *Pipeline) executeWithRetry(ctx context.Context, up upstream.Upstream, modelID string, req domain.Request) (upstream.Generation, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxAttemptsPerCandidate; attempt++ {
		gen, err := up.Generate(ctx, modelID, providers.Request{
			Messages: []providers.Message{{Role: providers.RoleUser, Content: req.Content}},
			MaxTokens: intPtr(req.Hints.MaxTokens),
		})
		if err == nil {
			return gen, nil
		}
		lastErr = err
		var failure *upstream.Failure
		if !asFailure(err, &failure) || !failure.Class.Retryable() {
			break
		}
	}
	return upstream.Generation{}, lastErr
}

func intPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func asFailure(err error, target **upstream.Failure) bool {
	f, ok := err.(*upstream.Failure)
	if ok {
		*target = f
	}
	return ok
}

func outcomeFor(err error) domain.Outcome {
	if err == circuitbreaker.ErrCircuitOpen {
		return domain.OutcomeCircuitOpen
	}
	var failure *upstream.Failure
	if asFailure(err, &failure) {
		switch failure.Class {
		case upstream.ErrDeadlineExceeded:
			return domain.OutcomeTimeout
		case upstream.ErrInvalidArgument:
			return domain.OutcomeInvalidInput
		case upstream.ErrResourceExhausted:
			return domain.OutcomeRateLimited
		default:
			return domain.OutcomeUpstreamErr
		}
	}
	return domain.OutcomeInternal
}

// cacheKeyFor derives a stable cache key from request content and hints.
// Identical content with identical hints always maps to the same key;
// GetSemantic is the fallback for near-duplicate content.
func cacheKeyFor(req domain.Request) string {
	return fmt.Sprintf("%s|%s|%s", req.Content, req.Hints.UseCase, req.Hints.Priority)
}

// PipelineError wraps a routing failure with the Outcome it should be
// recorded under, so HTTP handlers can map it to the right status code
// without re-deriving the classification from the error string.
type PipelineError struct {
	Outcome domain.Outcome
	Err     error
}

func (e *PipelineError) Error() string { return e.Err.Error() }
func (e *PipelineError) Unwrap() error { return e.Err }

// Models returns the current Catalog contents, for GET /v1/route/models.
func (p *Pipeline) Models() []models.RoutingModel {
	return p.catalog.List()
}

// CircuitSnapshot returns the current circuit-breaker state of every model
// the Manager has seen a request for, for GET /v1/route/stats.
func (p *Pipeline) CircuitSnapshot() map[string]circuitbreaker.CircuitState {
	return p.breakers.Snapshot()
}

// ResetCircuit forces the named model's circuit breaker closed, for the
// operator CLI's manual-intervention path.
func (p *Pipeline) ResetCircuit(modelID string) {
	p.breakers.Reset(modelID)
}

// Ready reports whether the Pipeline can serve traffic: the Catalog holds
// at least one model and at least one upstream provider is registered,
// matching the readiness attestation spec §6 requires of GET /readyz.
func (p *Pipeline) Ready() bool {
	if len(p.catalog.List()) == 0 {
		return false
	}
	return p.upstreams != nil && p.upstreams.Len() > 0
}
