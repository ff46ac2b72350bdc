package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tira-io/tirad/internal/journal"
)

func TestObserveRoutesKills(t *testing.T) {
	kills := testutil.ToFloat64(killsTotal.WithLabelValues(journal.OutcomeRejected))
	subs := testutil.ToFloat64(submissionsTotal.WithLabelValues(journal.KindSoftware, journal.OutcomeStarted))

	observe(journal.KindKill, journal.OutcomeRejected)
	observe(journal.KindSoftware, journal.OutcomeStarted)

	if got := testutil.ToFloat64(killsTotal.WithLabelValues(journal.OutcomeRejected)); got != kills+1 {
		t.Errorf("kills = %v, want %v", got, kills+1)
	}
	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues(journal.KindSoftware, journal.OutcomeStarted)); got != subs+1 {
		t.Errorf("submissions = %v, want %v", got, subs+1)
	}
	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues(journal.KindKill, journal.OutcomeRejected)); got != 0 {
		t.Errorf("kill counted as submission: %v", got)
	}
}
