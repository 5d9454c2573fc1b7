package models

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AvailabilityStatus is a model's current reachability state.
type AvailabilityStatus string

// AvailabilityStatus enum values.
const (
	AvailabilityOnline      AvailabilityStatus = "online"
	AvailabilityOffline     AvailabilityStatus = "offline"
	AvailabilityDegraded    AvailabilityStatus = "degraded"
	AvailabilityMaintenance AvailabilityStatus = "maintenance"
)

// ModelAvailability is a model's liveness snapshot.
type ModelAvailability struct {
	Status    AvailabilityStatus
	Uptime    float64
	LastCheck time.Time
}

// ModelPerformance is a model's rolling performance snapshot, typically
// refreshed by the FeedbackLoop from Predictor health scores.
type ModelPerformance struct {
	AvgLatencyMs float64
	SuccessRate  float64
	QualityScore float64
	Throughput   float64
	UpdatedAt    time.Time
}

// RoutingPricing is a model's current cost record. Source precedence
// (high→low): provider billing API, provider public rate sheet, heuristic
// from model name, static default.
type RoutingPricing struct {
	InputPer1K  float64
	OutputPer1K float64
	Currency    string
	Source      string
	Confidence  float64
	RefreshedAt time.Time
	NextUpdate  time.Time
}

// RoutingModel is one entry in the dynamic routing Catalog: a model the
// Pipeline may currently select, as opposed to PricingTable's static cost
// sheet (which now serves as this catalog's lowest-precedence Pricing
// source).
type RoutingModel struct {
	ID           string
	DisplayName  string
	Provider     string
	Capabilities map[string]bool
	Pricing      RoutingPricing
	Performance  ModelPerformance
	Availability ModelAvailability
	Enabled      bool
	FallbackID   string
}

// HasCapability reports whether m's capability set contains tag.
func (m RoutingModel) HasCapability(tag string) bool {
	return m.Capabilities[tag]
}

// Selectable reports whether m may be chosen for execution right now, per
// the invariant in spec §3: enabled, online, and (checked by the caller,
// which holds circuit state) not circuit-open.
func (m RoutingModel) Selectable() bool {
	return m.Enabled && m.Availability.Status == AvailabilityOnline
}

// Discovery yields provisional RoutingModel entries from one source.
// Catalog.Refresh merges the results of every configured Discovery by ID.
type Discovery interface {
	Discover(ctx context.Context) ([]RoutingModel, error)
}

// Pricing resolves a cost record for one model ID.
type Pricing interface {
	Price(ctx context.Context, modelID string) (RoutingPricing, error)
}

// Catalog maintains the set of models that may currently be chosen.
type Catalog interface {
	List() []RoutingModel
	Get(id string) (RoutingModel, bool)
	Upsert(m RoutingModel)
	Refresh(ctx context.Context) error
}

// defaultStalenessWindow is how long a model may go unseen by any Discovery
// source before Refresh prunes it, per spec §3 Lifecycles. Configurable via
// SetStalenessWindow.
const defaultStalenessWindow = 10 * time.Minute

// InMemoryCatalog is the default Catalog: a mutex-guarded map with
// copy-on-read snapshots, matching the teacher's maps.Copy pattern in
// Gateway.Catalog().
type InMemoryCatalog struct {
	mu              sync.RWMutex
	models          map[string]RoutingModel
	lastSeen        map[string]time.Time
	discovery       []Discovery
	pricing         []Pricing
	stalenessWindow time.Duration
}

// NewInMemoryCatalog creates an empty catalog. discovery sources are tried
// in order and merged; pricing sources are tried in order, with the first
// successful non-default-confidence result winning per model.
func NewInMemoryCatalog(discovery []Discovery, pricing []Pricing) *InMemoryCatalog {
	return &InMemoryCatalog{
		models:          make(map[string]RoutingModel),
		lastSeen:        make(map[string]time.Time),
		discovery:       discovery,
		pricing:         pricing,
		stalenessWindow: defaultStalenessWindow,
	}
}

// SetStalenessWindow overrides the default window a model may go unseen by
// Discovery before Refresh prunes it.
func (c *InMemoryCatalog) SetStalenessWindow(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalenessWindow = d
}

// List returns a snapshot of all entries.
func (c *InMemoryCatalog) List() []RoutingModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RoutingModel, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	return out
}

// Get returns the entry for id, if present.
func (c *InMemoryCatalog) Get(id string) (RoutingModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Upsert idempotently inserts or updates m, marking it seen now.
func (c *InMemoryCatalog) Upsert(m RoutingModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.ID] = m
	c.lastSeen[m.ID] = time.Now()
}

// Refresh runs every Discovery source, merges by ID, then resolves pricing
// for each result. A failed refresh leaves prior state intact and returns
// the first error encountered, per spec §4.1's failure mode. Entries a
// refresh does not see are pruned once they have gone unseen for longer
// than the staleness window, per spec §3 Lifecycles; a refresh that hits an
// error on every source (len(merged) == 0 && firstErr != nil) touches
// nothing, so an outage never ages out the whole catalog.
func (c *InMemoryCatalog) Refresh(ctx context.Context) error {
	merged := make(map[string]RoutingModel)
	var firstErr error

	for _, d := range c.discovery {
		found, err := d.Discover(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("discovery: %w", err)
			}
			continue
		}
		for _, m := range found {
			if existing, ok := merged[m.ID]; ok {
				m = mergePreferringFreshPricing(existing, m)
			}
			merged[m.ID] = m
		}
	}

	if len(merged) == 0 && firstErr != nil {
		return firstErr
	}

	for id, m := range merged {
		price, err := c.resolvePrice(ctx, id)
		if err == nil {
			m.Pricing = price
			merged[id] = m
		}
	}

	now := time.Now()
	c.mu.Lock()
	for id, m := range merged {
		c.models[id] = m
		c.lastSeen[id] = now
	}
	for id, seen := range c.lastSeen {
		if _, stillPresent := merged[id]; stillPresent {
			continue
		}
		if now.Sub(seen) > c.stalenessWindow {
			delete(c.models, id)
			delete(c.lastSeen, id)
		}
	}
	c.mu.Unlock()

	return firstErr
}

// mergePreferringFreshPricing keeps the most recent non-default pricing
// source when two Discovery results collide on ID.
func mergePreferringFreshPricing(existing, incoming RoutingModel) RoutingModel {
	if existing.Pricing.Source != "" && existing.Pricing.Source != "static-default" &&
		existing.Pricing.RefreshedAt.After(incoming.Pricing.RefreshedAt) {
		incoming.Pricing = existing.Pricing
	}
	return incoming
}

// resolvePrice tries each Pricing source in order, keeping the first result
// whose confidence is positive (a zero-confidence result is treated as "no
// opinion", not an authoritative zero).
func (c *InMemoryCatalog) resolvePrice(ctx context.Context, modelID string) (RoutingPricing, error) {
	var lastErr error
	for _, p := range c.pricing {
		price, err := p.Price(ctx, modelID)
		if err != nil {
			lastErr = err
			continue
		}
		if price.Confidence > 0 {
			return price, nil
		}
	}
	return RoutingPricing{}, lastErr
}
