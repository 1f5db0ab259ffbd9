// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Cycle metrics
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	AgentsEvaluated prometheus.Gauge
	EvalOutcomes    *prometheus.CounterVec

	// Signal metrics
	SourceDegradations *prometheus.CounterVec
	SnapshotTokens     prometheus.Gauge
	SnapshotCacheHits  *prometheus.CounterVec

	// Trading metrics
	TradesTotal     *prometheus.CounterVec
	RiskRejections  *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	PositionsClosed *prometheus.CounterVec

	// Learning metrics
	OutcomesRecorded        prometheus.Counter
	BlacklistedFingerprints prometheus.Gauge

	// Persistence metrics
	BatchFlushes     *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	MutationsDropped *prometheus.CounterVec
	QueueDepth       prometheus.Gauge

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_engine"
	}

	return &Metrics{
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AgentsEvaluated: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "agents_evaluated",
			Help:      "Number of agents evaluated in the last cycle",
		}),
		EvalOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "evaluations_total",
			Help:      "Agent evaluations by outcome",
		}, []string{"outcome"}),

		SourceDegradations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "source_degradations_total",
			Help:      "Upstream source failures replaced by neutral values",
		}, []string{"source"}),
		SnapshotTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "snapshot_tokens",
			Help:      "Number of tokens in the last snapshot",
		}),
		SnapshotCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "snapshot_cache_total",
			Help:      "Snapshot lookups by result",
		}, []string{"result"}),

		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Trades by type and status",
		}, []string{"type", "status"}),
		RiskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "risk_rejections_total",
			Help:      "Decisions rejected by the risk governor by reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Number of open positions across agents",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "positions_closed_total",
			Help:      "Closed positions by exit reason",
		}, []string{"reason"}),

		OutcomesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "outcomes_recorded_total",
			Help:      "Trade outcomes fed into the learning store",
		}),
		BlacklistedFingerprints: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "blacklisted_fingerprints",
			Help:      "Number of currently blacklisted signal fingerprints",
		}),

		BatchFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flushes_total",
			Help:      "Batch flushes by sink and status",
		}, []string{"sink", "status"}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "batch_size",
			Help:      "Mutations per flushed batch",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		MutationsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "mutations_dropped_total",
			Help:      "Mutations dropped after exhausting retries",
		}, []string{"sink"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "queue_depth",
			Help:      "Mutations waiting for the next flush",
		}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last completed cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCycle records a completed cycle.
func RecordCycle(status string, durationSeconds float64, agents int, finishedUnix int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
	DefaultMetrics.AgentsEvaluated.Set(float64(agents))
	if status == "ok" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordEvaluation records the outcome of one agent evaluation.
func RecordEvaluation(outcome string) {
	DefaultMetrics.EvalOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSourceDegraded records an upstream source failure.
func RecordSourceDegraded(source string) {
	DefaultMetrics.SourceDegradations.WithLabelValues(source).Inc()
}

// RecordSnapshot records a built snapshot.
func RecordSnapshot(tokens int) {
	DefaultMetrics.SnapshotTokens.Set(float64(tokens))
}

// RecordSnapshotLookup records a snapshot cache lookup ("memory", "shared" or "miss").
func RecordSnapshotLookup(result string) {
	DefaultMetrics.SnapshotCacheHits.WithLabelValues(result).Inc()
}

// RecordTrade records an executed or failed trade.
func RecordTrade(tradeType, status string) {
	DefaultMetrics.TradesTotal.WithLabelValues(tradeType, status).Inc()
}

// RecordRiskRejection records a rejected decision.
func RecordRiskRejection(reason string) {
	DefaultMetrics.RiskRejections.WithLabelValues(reason).Inc()
}

// RecordPositionClosed records a closed position.
func RecordPositionClosed(reason string) {
	DefaultMetrics.PositionsClosed.WithLabelValues(reason).Inc()
}

// SetOpenPositions updates the open positions gauge.
func SetOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// RecordOutcome records a learning outcome and the current blacklist size.
func RecordOutcome(blacklisted int) {
	DefaultMetrics.OutcomesRecorded.Inc()
	DefaultMetrics.BlacklistedFingerprints.Set(float64(blacklisted))
}

// RecordFlush records a batch flush to a sink.
func RecordFlush(sink string, size int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.BatchFlushes.WithLabelValues(sink, status).Inc()
	DefaultMetrics.BatchSize.Observe(float64(size))
}

// RecordDropped records mutations dropped after retries.
func RecordDropped(sink string, n int) {
	DefaultMetrics.MutationsDropped.WithLabelValues(sink).Add(float64(n))
}

// SetQueueDepth updates the persistence queue gauge.
func SetQueueDepth(n int) {
	DefaultMetrics.QueueDepth.Set(float64(n))
}
