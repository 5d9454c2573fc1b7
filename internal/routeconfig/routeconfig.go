// Package routeconfig loads the routing-table file shared by Catalog's
// StaticDiscovery and Policy's task-type table, mirroring the teacher's
// LoadConfig in config_load.go (same JSON/YAML-by-extension dispatch).
package routeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelEntry is one statically-declared model in the routing table.
type ModelEntry struct {
	ID           string   `json:"id" yaml:"id"`
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	Provider     string   `json:"provider" yaml:"provider"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	FallbackID   string   `json:"fallback_id,omitempty" yaml:"fallback_id,omitempty"`
	Pricing      struct {
		InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
		OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
		Currency    string  `json:"currency" yaml:"currency"`
	} `json:"pricing" yaml:"pricing"`
}

// TaskThresholds is one task type's entry in Policy's task-type table, per
// spec §4.7.
type TaskThresholds struct {
	Primary      []string `json:"primary" yaml:"primary"`
	Fallback     []string `json:"fallback" yaml:"fallback"`
	MinQuality   float64  `json:"min_quality" yaml:"min_quality"`
	MaxLatencyMs float64  `json:"max_latency_ms" yaml:"max_latency_ms"`
	MaxCostPer1K float64  `json:"max_cost_per_1k" yaml:"max_cost_per_1k"`
}

// RoutingTable is the full parsed routing-table file: the model list
// Catalog's StaticDiscovery seeds itself from, and the per-task-type
// threshold table Policy loads candidate-selection rules from.
type RoutingTable struct {
	Models []ModelEntry              `json:"models" yaml:"models"`
	Tasks  map[string]TaskThresholds `json:"tasks" yaml:"tasks"`
}

// Load reads and parses a routing-table file. Supported formats: JSON
// (.json), YAML (.yaml, .yml).
func Load(path string) (RoutingTable, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return RoutingTable{}, fmt.Errorf("reading routing table: %w", err)
	}

	var table RoutingTable
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &table); err != nil {
			return RoutingTable{}, fmt.Errorf("parsing YAML routing table: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &table); err != nil {
			return RoutingTable{}, fmt.Errorf("parsing JSON routing table: %w", err)
		}
	default:
		return RoutingTable{}, fmt.Errorf("unsupported routing table extension %q: use .json, .yaml, or .yml", ext)
	}

	return table, nil
}

// DefaultTaskTable returns the illustrative thresholds from spec §4.7,
// used when a routing table omits the `tasks` section.
func DefaultTaskTable() map[string]TaskThresholds {
	return map[string]TaskThresholds{
		"complex-reasoning": {MinQuality: 0.80, MaxLatencyMs: 10000, MaxCostPer1K: 0.10},
		"rag-operations":    {MinQuality: 0.70, MaxLatencyMs: 15000, MaxCostPer1K: 0.08},
		"fast-response":     {MinQuality: 0.60, MaxLatencyMs: 5000, MaxCostPer1K: 0.05},
		"cost-sensitive":    {MinQuality: 0.50, MaxLatencyMs: 20000, MaxCostPer1K: 0.03},
		"general":           {MinQuality: 0.60, MaxLatencyMs: 15000, MaxCostPer1K: 0.05},
	}
}
