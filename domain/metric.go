package domain

import "time"

// Outcome is the single terminal state recorded for a request.
type Outcome string

// Outcome enum values, matching the error taxonomy in spec §7.
const (
	OutcomeOK           Outcome = "ok"
	OutcomeSafetyBlock  Outcome = "safety-block"
	OutcomeCircuitOpen  Outcome = "circuit-open"
	OutcomeUpstreamErr  Outcome = "upstream-error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeRoutingFail  Outcome = "routing-failure"
	OutcomeRateLimited  Outcome = "rate-limited"
	OutcomeInvalidInput Outcome = "invalid-input"
	OutcomeInternal     Outcome = "internal"
)

// RequestMetric is the single record of how one candidate attempt fared.
// A Pipeline run that tries three candidates before succeeding emits three
// RequestMetrics: two non-ok outcomes and one terminal ok.
type RequestMetric struct {
	ModelID       string
	TaskType      TaskType
	Complexity    Complexity
	StartedAt     time.Time
	EndedAt       time.Time
	LatencyMs     float64
	InputTokens   int
	OutputTokens  int
	Cost          float64
	QualitySignal float64
	Outcome       Outcome
	SemanticHit   bool
}

// Duration returns EndedAt - StartedAt.
func (m RequestMetric) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// Success reports whether the metric represents a usable response.
func (m RequestMetric) Success() bool {
	return m.Outcome == OutcomeOK
}
