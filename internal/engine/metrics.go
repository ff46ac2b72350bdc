package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tira-io/tirad/internal/journal"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tirad_submissions_total",
			Help: "Total number of job submissions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	killsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tirad_kills_total",
			Help: "Total number of kill requests by outcome.",
		},
		[]string{"outcome"},
	)
)

var outcomes = []string{journal.OutcomeStarted, journal.OutcomeRejected, journal.OutcomeFailed}

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(killsTotal)

	for _, kind := range []string{
		journal.KindSoftware, journal.KindEvaluator,
		journal.KindStartVM, journal.KindStopVM, journal.KindShutdownVM,
	} {
		for _, outcome := range outcomes {
			submissionsTotal.WithLabelValues(kind, outcome)
		}
	}
	for _, outcome := range outcomes {
		killsTotal.WithLabelValues(outcome)
	}
}

func observe(kind, outcome string) {
	if kind == journal.KindKill {
		killsTotal.WithLabelValues(outcome).Inc()
		return
	}
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}
