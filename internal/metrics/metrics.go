// Package metrics exposes the World Kernel's Prometheus collectors, the
// way infrastructure/metrics does for the teacher's services: a
// package-level Registry, one collector var block, and a handful of
// Record* helpers the kernel/journal/sandbox call sites invoke directly
// rather than threading a metrics client through every signature.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the World Kernel's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "kernel",
		Name:      "ticks_total",
		Help:      "Total number of Step/StepWithModules calls completed.",
	})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worldkernel",
		Subsystem: "kernel",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of one kernel tick.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	actionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "kernel",
		Name:      "actions_rejected_total",
		Help:      "Total actions rejected by a reducer or a PreAction hook, by reason.",
	}, []string{"reason"})

	journalRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "journal",
		Name:      "rotations_total",
		Help:      "Total number of hot-to-cold journal rotations.",
	})

	journalHotRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldkernel",
		Subsystem: "journal",
		Name:      "hot_records",
		Help:      "Current number of records held in the journal's hot tier.",
	})

	sandboxCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worldkernel",
		Subsystem: "sandbox",
		Name:      "call_duration_seconds",
		Help:      "Duration of one module sandbox call.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"module", "export"})

	sandboxCallFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "sandbox",
		Name:      "call_failures_total",
		Help:      "Total module sandbox call failures, by failure code.",
	}, []string{"module", "code"})

	effectQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldkernel",
		Subsystem: "effect",
		Name:      "queue_length",
		Help:      "Current number of unissued effect intents.",
	})

	policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Total policy evaluations, by decision (Allow|Deny).",
	}, []string{"decision"})

	governanceProposals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldkernel",
		Subsystem: "governance",
		Name:      "proposals_total",
		Help:      "Total governance proposals, by resulting status.",
	}, []string{"status"})
)

func init() {
	Registry.MustRegister(
		ticksTotal,
		tickDuration,
		actionsRejected,
		journalRotations,
		journalHotRecords,
		sandboxCallDuration,
		sandboxCallFailures,
		effectQueueLength,
		policyDecisions,
		governanceProposals,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTick records one completed kernel tick's duration.
func RecordTick(d time.Duration) {
	ticksTotal.Inc()
	tickDuration.Observe(d.Seconds())
}

// RecordActionRejected records a reducer/hook rejection, by reason.
func RecordActionRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	actionsRejected.WithLabelValues(reason).Inc()
}

// RecordJournalRotation records one hot-to-cold rotation and the
// resulting hot-tier size.
func RecordJournalRotation(hotRecords int) {
	journalRotations.Inc()
	journalHotRecords.Set(float64(hotRecords))
}

// SetJournalHotRecords updates the hot-tier gauge without counting a
// rotation (e.g. after an Append that didn't trigger one).
func SetJournalHotRecords(n int) {
	journalHotRecords.Set(float64(n))
}

// RecordSandboxCall records one module sandbox call's duration.
func RecordSandboxCall(module, export string, d time.Duration) {
	sandboxCallDuration.WithLabelValues(module, export).Observe(d.Seconds())
}

// RecordSandboxFailure records one module sandbox call failure by code
// (Trap|GasExceeded|MemoryExceeded|OutputTooLarge|CapsDenied|PolicyDenied).
func RecordSandboxFailure(module, code string) {
	sandboxCallFailures.WithLabelValues(module, code).Inc()
}

// SetEffectQueueLength updates the effect pipeline's queue-depth gauge.
func SetEffectQueueLength(n int) {
	effectQueueLength.Set(float64(n))
}

// RecordPolicyDecision records one policy evaluation outcome.
func RecordPolicyDecision(decision string) {
	if decision == "" {
		decision = "unknown"
	}
	policyDecisions.WithLabelValues(decision).Inc()
}

// RecordGovernanceProposal records a governance proposal reaching a
// terminal or transitional status (Shadowed|Approved|Rejected|Applied).
func RecordGovernanceProposal(status string) {
	if status == "" {
		status = "unknown"
	}
	governanceProposals.WithLabelValues(status).Inc()
}
