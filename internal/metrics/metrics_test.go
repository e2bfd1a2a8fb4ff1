package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(arbiterErrors.WithLabelValues("scheduler.vote", "transient"))
	RecordError("scheduler.vote", "transient")
	after := testutil.ToFloat64(arbiterErrors.WithLabelValues("scheduler.vote", "transient"))
	require.Equal(t, before+1, after)
}

func TestRecordErrorDefaultsUnknownLabels(t *testing.T) {
	before := testutil.ToFloat64(arbiterErrors.WithLabelValues("unknown", "unknown"))
	RecordError("", "")
	after := testutil.ToFloat64(arbiterErrors.WithLabelValues("unknown", "unknown"))
	require.Equal(t, before+1, after)
}

func TestRecordSettledIncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(polyswarmSettled.WithLabelValues("safe"))
	RecordSettled("safe")
	after := testutil.ToFloat64(polyswarmSettled.WithLabelValues("safe"))
	require.Equal(t, before+1, after)
}

func TestRecordJobSubmissionRecordsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(jobSubmissions.WithLabelValues("clamav", "done"))
	histBefore := testutil.CollectAndCount(jobDuration)
	RecordJobSubmission("clamav", "done", 50*time.Millisecond)
	after := testutil.ToFloat64(jobSubmissions.WithLabelValues("clamav", "done"))
	require.Equal(t, before+1, after)
	require.GreaterOrEqual(t, testutil.CollectAndCount(jobDuration), histBefore)
}

func TestRecordBackendHealthSetsGauge(t *testing.T) {
	RecordBackendHealth("clamav", true)
	require.Equal(t, 1.0, testutil.ToFloat64(backendHealth.WithLabelValues("clamav")))
	RecordBackendHealth("clamav", false)
	require.Equal(t, 0.0, testutil.ToFloat64(backendHealth.WithLabelValues("clamav")))
}

func TestRecordPhaseOutcomeAndAbort(t *testing.T) {
	before := testutil.ToFloat64(votePhaseOutcomes.WithLabelValues("vote", "transient"))
	RecordPhaseOutcome("vote", "transient")
	after := testutil.ToFloat64(votePhaseOutcomes.WithLabelValues("vote", "transient"))
	require.Equal(t, before+1, after)

	abortBefore := testutil.ToFloat64(bountiesAborted.WithLabelValues("settle"))
	RecordBountyAborted("settle")
	abortAfter := testutil.ToFloat64(bountiesAborted.WithLabelValues("settle"))
	require.Equal(t, abortBefore+1, abortAfter)
}
