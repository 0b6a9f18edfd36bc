package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	ApplyDuration.WithLabelValues("apply")
	ApplyTotal.WithLabelValues("apply", "ok")
	DecreeOutcomes.WithLabelValues("file", "updated")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"sentinel_agents_connected":               false,
		"sentinel_apply_duration_seconds":         false,
		"sentinel_apply_total":                    false,
		"sentinel_decree_outcomes_total":           false,
		"sentinel_facts_collection_errors_total":   false,
		"sentinel_files_sent_total":                false,
	}

	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	FactsCollectionErrors.Add(1)
	FilesSent.Add(3)
	ApplyTotal.WithLabelValues("dry_run", "error").Inc()
}

func TestGaugeSets(t *testing.T) {
	AgentsConnected.Set(4)
}
