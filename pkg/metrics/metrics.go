package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bead lifecycle metrics
	BeadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beads_total",
			Help: "Total number of beads by state",
		},
		[]string{"state"},
	)

	BeadTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beads_transitions_total",
			Help: "Total number of bead state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	BeadsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_failed_total",
			Help: "Total number of beads that reached the failed state",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beads_scheduling_latency_seconds",
			Help:    "Time taken to re-evaluate the ready set in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CapabilityMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_capability_mismatches_total",
			Help: "Total number of bead assignments rejected for lacking a capable agent",
		},
	)

	// DAG metrics
	DAGCyclesRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_dag_cycles_rejected_total",
			Help: "Total number of dependency edges rejected for introducing a cycle",
		},
	)

	// Event store / replay metrics
	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_events_appended_total",
			Help: "Total number of events appended to the event store",
		},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beads_replay_duration_seconds",
			Help:    "Time taken to replay events into a projection in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayEventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_replay_events_processed_total",
			Help: "Total number of events folded into a projection during replay",
		},
	)

	// Checkpoint metrics
	CheckpointCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beads_checkpoint_create_duration_seconds",
			Help:    "Time taken to serialize and compress a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointRestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beads_checkpoint_restore_duration_seconds",
			Help:    "Time taken to decompress and deserialize a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_checkpoints_pruned_total",
			Help: "Total number of checkpoints removed by retention pruning",
		},
	)

	// Idempotency metrics
	IdempotencyHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_idempotency_hits_total",
			Help: "Total number of operations short-circuited by an idempotency key match",
		},
	)

	IdempotencyMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_idempotency_misses_total",
			Help: "Total number of operations that computed a new idempotency key",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beads_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_reconciliation_errors_total",
			Help: "Total number of consecutive reconciliation cycle errors observed",
		},
	)

	CorrectiveActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beads_corrective_actions_total",
			Help: "Total number of corrective actions issued by the reconciler by kind",
		},
		[]string{"kind"},
	)

	// Timer / delivery metrics
	TimersFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_timers_fired_total",
			Help: "Total number of scheduled timers that fired",
		},
	)

	TimersRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beads_timers_retried_total",
			Help: "Total number of timers rescheduled for retry",
		},
	)

	// Actor metrics
	ActorRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beads_actor_restarts_total",
			Help: "Total number of actor restarts by actor name",
		},
		[]string{"actor"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beads_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beads_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(BeadsTotal)
	prometheus.MustRegister(BeadTransitionsTotal)
	prometheus.MustRegister(BeadsFailedTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(CapabilityMismatchesTotal)
	prometheus.MustRegister(DAGCyclesRejectedTotal)
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(ReplayEventsProcessedTotal)
	prometheus.MustRegister(CheckpointCreateDuration)
	prometheus.MustRegister(CheckpointRestoreDuration)
	prometheus.MustRegister(CheckpointsPrunedTotal)
	prometheus.MustRegister(IdempotencyHitsTotal)
	prometheus.MustRegister(IdempotencyMissesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(CorrectiveActionsTotal)
	prometheus.MustRegister(TimersFiredTotal)
	prometheus.MustRegister(TimersRetriedTotal)
	prometheus.MustRegister(ActorRestartsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
