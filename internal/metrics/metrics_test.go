package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTickIncrementsCounterAndObservesDuration(t *testing.T) {
	before := testutil.ToFloat64(ticksTotal)
	RecordTick(5 * time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(ticksTotal))
}

func TestRecordActionRejectedLabelsByReason(t *testing.T) {
	before := testutil.ToFloat64(actionsRejected.WithLabelValues("RuleDenied"))
	RecordActionRejected("RuleDenied")
	require.Equal(t, before+1, testutil.ToFloat64(actionsRejected.WithLabelValues("RuleDenied")))
}

func TestRecordActionRejectedDefaultsUnknownReason(t *testing.T) {
	before := testutil.ToFloat64(actionsRejected.WithLabelValues("unknown"))
	RecordActionRejected("")
	require.Equal(t, before+1, testutil.ToFloat64(actionsRejected.WithLabelValues("unknown")))
}

func TestRecordJournalRotationIncrementsAndSetsGauge(t *testing.T) {
	before := testutil.ToFloat64(journalRotations)
	RecordJournalRotation(42)
	require.Equal(t, before+1, testutil.ToFloat64(journalRotations))
	require.Equal(t, float64(42), testutil.ToFloat64(journalHotRecords))
}

func TestSetJournalHotRecordsUpdatesGaugeWithoutCountingRotation(t *testing.T) {
	before := testutil.ToFloat64(journalRotations)
	SetJournalHotRecords(7)
	require.Equal(t, before, testutil.ToFloat64(journalRotations))
	require.Equal(t, float64(7), testutil.ToFloat64(journalHotRecords))
}

func TestRecordSandboxCallObservesByModuleAndExport(t *testing.T) {
	RecordSandboxCall("mod-a", "on_pre_action", time.Millisecond)
	require.Equal(t, uint64(1), testutil.CollectAndCount(sandboxCallDuration, "worldkernel_sandbox_call_duration_seconds"))
}

func TestRecordSandboxFailureLabelsByCode(t *testing.T) {
	before := testutil.ToFloat64(sandboxCallFailures.WithLabelValues("mod-a", "Trap"))
	RecordSandboxFailure("mod-a", "Trap")
	require.Equal(t, before+1, testutil.ToFloat64(sandboxCallFailures.WithLabelValues("mod-a", "Trap")))
}

func TestSetEffectQueueLengthSetsGauge(t *testing.T) {
	SetEffectQueueLength(3)
	require.Equal(t, float64(3), testutil.ToFloat64(effectQueueLength))
}

func TestRecordPolicyDecisionLabelsByDecision(t *testing.T) {
	before := testutil.ToFloat64(policyDecisions.WithLabelValues("Allow"))
	RecordPolicyDecision("Allow")
	require.Equal(t, before+1, testutil.ToFloat64(policyDecisions.WithLabelValues("Allow")))
}

func TestRecordGovernanceProposalDefaultsUnknownStatus(t *testing.T) {
	before := testutil.ToFloat64(governanceProposals.WithLabelValues("unknown"))
	RecordGovernanceProposal("")
	require.Equal(t, before+1, testutil.ToFloat64(governanceProposals.WithLabelValues("unknown")))
}

func TestHandlerIsNotNil(t *testing.T) {
	require.NotNil(t, Handler())
}
