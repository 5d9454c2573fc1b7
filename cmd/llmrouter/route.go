package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quaylabs/llmrouter"
	"github.com/quaylabs/llmrouter/domain"
	"github.com/quaylabs/llmrouter/models"
)

// routeRequest is the POST /v1/route request body, per spec §6.
type routeRequest struct {
	Content        string          `json:"content"`
	UseCase        string          `json:"useCase,omitempty"`
	Complexity     string          `json:"complexity,omitempty"`
	MaxTokens      int             `json:"maxTokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Budget         float64         `json:"budget,omitempty"`
	Attachments    []string        `json:"attachments,omitempty"`
	ResponseFormat *responseFormat `json:"responseFormat,omitempty"`
}

// responseFormat optionally constrains the model's output to a JSON Schema,
// validated by Guard once the upstream responds.
type responseFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// tokenUsage is the {input,output,total} shape spec §6 names.
type tokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// routeMetadata is the nested metadata object spec §6 names.
type routeMetadata struct {
	RequestID         string `json:"requestId"`
	ProcessingTimeMs  int64  `json:"processingTimeMs"`
	UseCase           string `json:"useCase,omitempty"`
	Complexity        string `json:"complexity,omitempty"`
	CacheHit          *bool  `json:"cacheHit,omitempty"`
	SemanticHit       *bool  `json:"semanticHit,omitempty"`
	FallbackExhausted *bool  `json:"fallbackExhausted,omitempty"`
}

// routeResponse is the 200 response body, per spec §6.
type routeResponse struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Model     string        `json:"model"`
	Tokens    tokenUsage    `json:"tokens"`
	Cost      float64       `json:"cost"`
	LatencyMs int64         `json:"latencyMs"`
	Quality   float64       `json:"quality"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  routeMetadata `json:"metadata"`
}

// routeHandler serves POST /v1/route: classify, select, execute, and shape
// the response spec §6 names, mapping PipelineError.Outcome to the status
// codes the spec's error cases name.
func routeHandler(pipeline *llmrouter.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body routeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeRouteError(w, http.StatusBadRequest, "invalid-input", "malformed request body: "+err.Error())
			return
		}
		if body.Content == "" {
			writeRouteError(w, http.StatusBadRequest, "invalid-input", "content is required")
			return
		}

		hints := domain.Hints{
			UseCase:     body.UseCase,
			Complexity:  domain.Complexity(body.Complexity),
			Priority:    domain.Priority(body.Priority),
			Budget:      body.Budget,
			MaxTokens:   body.MaxTokens,
			Temperature: body.Temperature,
		}
		if body.ResponseFormat != nil {
			hints.ResponseFormat = domain.ResponseFormat{
				Type:   body.ResponseFormat.Type,
				Schema: []byte(body.ResponseFormat.Schema),
			}
		}

		req := domain.Request{
			ID:        r.Header.Get("X-Correlation-Id"),
			Content:   body.Content,
			Hints:     hints,
			ArrivedAt: time.Now(),
		}

		started := time.Now()
		result, err := pipeline.Route(r.Context(), req)
		elapsed := time.Since(started)

		if err != nil {
			status, outcome := routeErrorStatus(err)
			writeRouteError(w, status, outcome, err.Error())
			return
		}

		content := ""
		if len(result.Response.Choices) > 0 {
			content = result.Response.Choices[0].Message.Content
		}

		model, _ := modelByID(pipeline, result.ModelID)
		cost := model.Pricing.InputPer1K*float64(result.Response.Usage.PromptTokens)/1000 +
			model.Pricing.OutputPer1K*float64(result.Response.Usage.CompletionTokens)/1000

		cacheHit := result.CacheHit
		resp := routeResponse{
			ID:        result.Response.ID,
			Content:   content,
			Model:     result.ModelID,
			Tokens: tokenUsage{
				Input:  result.Response.Usage.PromptTokens,
				Output: result.Response.Usage.CompletionTokens,
				Total:  result.Response.Usage.PromptTokens + result.Response.Usage.CompletionTokens,
			},
			Cost:      cost,
			LatencyMs: elapsed.Milliseconds(),
			Quality:   result.Classification.Confidence,
			Timestamp: time.Now().UTC(),
			Metadata: routeMetadata{
				RequestID:        req.ID,
				ProcessingTimeMs: elapsed.Milliseconds(),
				UseCase:          string(req.Hints.UseCase),
				Complexity:       string(result.Classification.Complexity),
				CacheHit:         &cacheHit,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// modelByID looks up a model's catalog entry by ID, used for cost
// computation once the provider response reports actual token usage.
func modelByID(pipeline *llmrouter.Pipeline, id string) (models.RoutingModel, bool) {
	for _, m := range pipeline.Models() {
		if m.ID == id {
			return m, true
		}
	}
	return models.RoutingModel{}, false
}

// routeErrorStatus maps a Pipeline error's Outcome to the HTTP status code
// spec §6 names for each error case.
func routeErrorStatus(err error) (int, string) {
	pe, ok := err.(*llmrouter.PipelineError)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}
	switch pe.Outcome {
	case domain.OutcomeInvalidInput:
		return http.StatusBadRequest, string(pe.Outcome)
	case domain.OutcomeSafetyBlock:
		return http.StatusForbidden, string(pe.Outcome)
	case domain.OutcomeTimeout:
		return http.StatusGatewayTimeout, string(pe.Outcome)
	case domain.OutcomeRoutingFail, domain.OutcomeUpstreamErr, domain.OutcomeCircuitOpen, domain.OutcomeRateLimited:
		return http.StatusServiceUnavailable, string(pe.Outcome)
	default:
		return http.StatusInternalServerError, string(pe.Outcome)
	}
}

func writeRouteError(w http.ResponseWriter, status int, errCode, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  errCode,
		"reason": reason,
	})
}

// routeStatsHandler serves GET /v1/route/stats: the running counter
// snapshot plus the current circuit-breaker state of every model the
// Manager has observed.
func routeStatsHandler(pipeline *llmrouter.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"stats":    pipeline.Stats().Snapshot(),
			"circuits": pipeline.CircuitSnapshot(),
		})
	}
}

// routeModelsHandler serves GET /v1/route/models: the live Catalog
// contents backing routing decisions.
func routeModelsHandler(pipeline *llmrouter.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pipeline.Models())
	}
}

// routeCircuitResetHandler serves POST /v1/route/circuits/reset/{model}:
// the operator CLI's manual circuit-breaker reset action.
func routeCircuitResetHandler(pipeline *llmrouter.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "model")
		if model == "" {
			writeRouteError(w, http.StatusBadRequest, "invalid-input", "model is required")
			return
		}
		pipeline.ResetCircuit(model)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"model": model, "status": "reset"})
	}
}
