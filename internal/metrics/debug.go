package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot gathers the process's registered metric families in their raw
// protobuf-described form, for the admin debug endpoint: a lighter-weight
// alternative to scraping /metrics and parsing the text exposition format
// when an operator just wants the current values as JSON.
func Snapshot() ([]*dto.MetricFamily, error) {
	return prometheus.DefaultGatherer.Gather()
}
