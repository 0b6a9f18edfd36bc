package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_agents_connected",
		Help: "Number of agents with a live controller session.",
	})
	ApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_apply_duration_seconds",
		Help:    "Duration of a per-agent apply/dry_run dispatch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	ApplyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_apply_total",
		Help: "Total number of per-agent apply dispatches by outcome.",
	}, []string{"mode", "outcome"})
	DecreeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_decree_outcomes_total",
		Help: "Total number of top-level apply summary entries by outcome; the kind label holds the entry's top-level decree name.",
	}, []string{"kind", "outcome"})
	FactsCollectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_facts_collection_errors_total",
		Help: "Total number of facts-collector failures on the agent.",
	})
	FilesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_files_sent_total",
		Help: "Total number of binary file frames sent to agents during provisioning diffs.",
	})
)
