// Package discovery provides models.Discovery and models.Pricing sources:
// StaticDiscovery reads the operator-maintained routing table, and
// UpstreamDiscovery calls each registered upstream's optional live
// model-list endpoint.
package discovery

import (
	"context"
	"time"

	"github.com/quaylabs/llmrouter/internal/routeconfig"
	"github.com/quaylabs/llmrouter/models"
	"github.com/quaylabs/llmrouter/providers"
)

// StaticDiscovery yields the model set declared in a routeconfig.RoutingTable
// file, the lowest-precedence and always-available Discovery source.
type StaticDiscovery struct {
	table routeconfig.RoutingTable
}

// NewStaticDiscovery creates a StaticDiscovery over an already-loaded table.
func NewStaticDiscovery(table routeconfig.RoutingTable) *StaticDiscovery {
	return &StaticDiscovery{table: table}
}

// Discover converts the routing table's model entries into RoutingModels.
func (s *StaticDiscovery) Discover(_ context.Context) ([]models.RoutingModel, error) {
	out := make([]models.RoutingModel, 0, len(s.table.Models))
	for _, entry := range s.table.Models {
		caps := make(map[string]bool, len(entry.Capabilities))
		for _, tag := range entry.Capabilities {
			caps[tag] = true
		}
		out = append(out, models.RoutingModel{
			ID:           entry.ID,
			DisplayName:  entry.DisplayName,
			Provider:     entry.Provider,
			Capabilities: caps,
			Enabled:      entry.Enabled,
			FallbackID:   entry.FallbackID,
			Availability: models.ModelAvailability{
				Status:    models.AvailabilityOnline,
				LastCheck: time.Now(),
			},
			Pricing: models.RoutingPricing{
				InputPer1K:  entry.Pricing.InputPer1K,
				OutputPer1K: entry.Pricing.OutputPer1K,
				Currency:    entry.Pricing.Currency,
				Source:      "static-default",
				Confidence:  0.3,
				RefreshedAt: time.Now(),
			},
		})
	}
	return out, nil
}

// UpstreamDiscovery calls DiscoverModels on every registered upstream that
// implements providers.DiscoveryProvider, mirroring teacher's
// providers.DiscoveryProvider optional interface.
type UpstreamDiscovery struct {
	registry *providers.Registry
}

// NewUpstreamDiscovery creates an UpstreamDiscovery over registry.
func NewUpstreamDiscovery(registry *providers.Registry) *UpstreamDiscovery {
	return &UpstreamDiscovery{registry: registry}
}

// Discover queries every provider that supports live discovery; providers
// without it are silently skipped (not an error — static entries cover them).
func (u *UpstreamDiscovery) Discover(ctx context.Context) ([]models.RoutingModel, error) {
	var out []models.RoutingModel
	for _, name := range u.registry.List() {
		p, ok := u.registry.Get(name)
		if !ok {
			continue
		}
		dp, ok := p.(providers.DiscoveryProvider)
		if !ok {
			continue
		}
		found, err := dp.DiscoverModels(ctx)
		if err != nil {
			continue
		}
		for _, info := range found {
			out = append(out, models.RoutingModel{
				ID:          info.ID,
				DisplayName: info.ID,
				Provider:    name,
				Enabled:     true,
				Availability: models.ModelAvailability{
					Status:    models.AvailabilityOnline,
					LastCheck: time.Now(),
				},
			})
		}
	}
	return out, nil
}

// PricingTableSource adapts the teacher's static models.PricingTable into a
// models.Pricing collaborator: the lowest-precedence "static default" tier
// per spec §4.1's precedence order.
type PricingTableSource struct {
	table models.PricingTable
}

// NewPricingTableSource creates a PricingTableSource over table.
func NewPricingTableSource(table models.PricingTable) *PricingTableSource {
	return &PricingTableSource{table: table}
}

// Price looks up modelID in the static pricing sheet. A miss returns zero
// confidence so Catalog.Refresh treats it as "no opinion" rather than an
// authoritative free price.
func (s *PricingTableSource) Price(_ context.Context, modelID string) (models.RoutingPricing, error) {
	m, ok := s.table.Get(modelID)
	if !ok {
		return models.RoutingPricing{}, nil
	}
	var inPer1K, outPer1K float64
	if m.Pricing.InputPerMTokens != nil {
		inPer1K = *m.Pricing.InputPerMTokens / 1000
	}
	if m.Pricing.OutputPerMTokens != nil {
		outPer1K = *m.Pricing.OutputPerMTokens / 1000
	}
	return models.RoutingPricing{
		InputPer1K:  inPer1K,
		OutputPer1K: outPer1K,
		Currency:    "USD",
		Source:      "static-pricing-table",
		Confidence:  0.5,
		RefreshedAt: time.Now(),
	}, nil
}
