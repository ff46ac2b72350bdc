package store

import "github.com/prometheus/client_golang/prometheus"

// Label values of the cache lookup counter.
const (
	recordRun        = "run"
	recordReview     = "review"
	recordEvaluation = "evaluation"
	recordText       = "text"

	resultHit  = "hit"
	resultMiss = "miss"
)

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tirad_record_cache_lookups_total",
		Help: "Total number of run artifact cache lookups by record kind and result.",
	},
	[]string{"record", "result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)

	// Pre-initialize label combinations so they appear in /metrics before
	// the first lookup.
	for _, record := range []string{recordRun, recordReview, recordEvaluation, recordText} {
		for _, result := range []string{resultHit, resultMiss} {
			cacheLookups.WithLabelValues(record, result)
		}
	}
}
