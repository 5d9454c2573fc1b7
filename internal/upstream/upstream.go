// Package upstream adapts providers.Provider into the Upstream contract
// spec §5 describes — a single Generate(ctx, modelID, req) call — and
// classifies whatever error a provider returns into the taxonomy spec §7
// names, so policy and circuit-breaker code never has to understand any
// individual provider's error shape.
package upstream

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/quaylabs/llmrouter/providers"
)

// ErrorClass is the provider-error taxonomy of spec §7.
type ErrorClass string

// ErrorClass enum values.
const (
	ErrInvalidArgument   ErrorClass = "invalid-argument"
	ErrPermissionDenied  ErrorClass = "permission-denied"
	ErrResourceExhausted ErrorClass = "resource-exhausted"
	ErrUnavailable       ErrorClass = "unavailable"
	ErrDeadlineExceeded  ErrorClass = "deadline-exceeded"
	ErrInternal          ErrorClass = "internal"
)

// Retryable reports whether a request in this error class is worth retrying
// against a fallback model, per spec §7.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrResourceExhausted, ErrUnavailable, ErrDeadlineExceeded, ErrInternal:
		return true
	default:
		return false
	}
}

// Failure wraps a provider error with its classified ErrorClass.
type Failure struct {
	Class ErrorClass
	Err   error
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

// statusPattern extracts the HTTP status code every teacher provider embeds
// in its error string as "<provider> API error (<code>): <body>".
var statusPattern = regexp.MustCompile(`\((\d{3})\)`)

// Classify maps a provider error to an ErrorClass. It first checks for
// context cancellation/deadline, then looks for an embedded HTTP status
// code, and falls back to ErrInternal when neither is present.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return ErrDeadlineExceeded
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return classifyStatus(code)
		}
	}

	return ErrInternal
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return ErrInvalidArgument
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrPermissionDenied
	case code == http.StatusTooManyRequests:
		return ErrResourceExhausted
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrDeadlineExceeded
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return ErrUnavailable
	case code >= 500:
		return ErrInternal
	case code >= 400:
		return ErrInvalidArgument
	default:
		return ErrInternal
	}
}

// Generation is the normalized result of one upstream call: the raw
// provider response plus the latency it took, for Predictor.Record.
type Generation struct {
	Response *providers.Response
	Latency  time.Duration
}

// Upstream is the narrow contract the router's execution step depends on.
// Adapter implements it over a providers.Provider so routing code never
// needs the full Provider interface surface (streaming, embeddings,
// images — none of which routing decisions touch).
type Upstream interface {
	Generate(ctx context.Context, modelID string, req providers.Request) (Generation, error)
}

// Adapter wraps a providers.Provider as an Upstream, classifying any error
// Complete returns and wrapping it in a *Failure.
type Adapter struct {
	provider providers.Provider
}

// New wraps provider as an Upstream.
func New(provider providers.Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Name returns the wrapped provider's name.
func (a *Adapter) Name() string { return a.provider.Name() }

// Generate calls the wrapped provider's Complete, stamping the model ID
// onto the request and timing the call.
func (a *Adapter) Generate(ctx context.Context, modelID string, req providers.Request) (Generation, error) {
	req.Model = modelID
	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return Generation{Latency: elapsed}, &Failure{Class: Classify(err), Err: err}
	}
	return Generation{Response: resp, Latency: elapsed}, nil
}

// Registry adapts a providers.Registry lookup into the Upstream the
// router needs for a given RoutingModel's declared provider name.
type Registry struct {
	source providers.ProviderSource
}

// NewRegistry wraps source, typically a *providers.Registry.
func NewRegistry(source providers.ProviderSource) *Registry {
	return &Registry{source: source}
}

// For returns an Upstream for providerName, or false if none is registered.
func (r *Registry) For(providerName string) (Upstream, bool) {
	p, ok := r.source.Get(providerName)
	if !ok {
		return nil, false
	}
	return New(p), true
}

// Len returns the number of providers backing the Registry, used by
// readiness checks.
func (r *Registry) Len() int {
	return len(r.source.List())
}
