package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Consensus state metrics
	Term = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_term",
			Help: "Current Raft term observed by this member",
		},
	)

	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_is_leader",
			Help: "Whether this member believes itself to be the leader (1) or not (0)",
		},
	)

	CommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	LastApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_last_applied",
			Help: "Highest log index applied to the state machine",
		},
	)

	GlobalIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_global_index",
			Help: "Highest log index known to be applied across every stateful member",
		},
	)

	MembersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_members_total",
			Help: "Number of configured members by type",
		},
		[]string{"type"},
	)

	// Election metrics
	ElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_elections_total",
			Help: "Total number of elections started by outcome",
		},
		[]string{"outcome"},
	)

	// Replication metrics
	AppendEntriesDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_append_entries_duration_seconds",
			Help:    "Time taken to replicate an AppendEntries RPC to a peer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_apply_duration_seconds",
			Help:    "Time taken to apply a committed entry to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Snapshot metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_compaction_duration_seconds",
			Help:    "Time taken to build and install a log-compacting snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_snapshot_size_bytes",
			Help: "Size in bytes of the most recently written snapshot",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_sessions_active",
			Help: "Number of sessions currently registered",
		},
	)

	SessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_sessions_expired_total",
			Help: "Total number of sessions expired for missed keep-alives",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_commands_total",
			Help: "Total number of commands applied, by outcome",
		},
		[]string{"outcome"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_queries_total",
			Help: "Total number of queries served, by consistency level",
		},
		[]string{"consistency"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_rpc_requests_total",
			Help: "Total number of RPCs served by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(Term)
	prometheus.MustRegister(IsLeader)
	prometheus.MustRegister(CommitIndex)
	prometheus.MustRegister(LastApplied)
	prometheus.MustRegister(GlobalIndex)
	prometheus.MustRegister(MembersTotal)
	prometheus.MustRegister(ElectionsTotal)
	prometheus.MustRegister(AppendEntriesDuration)
	prometheus.MustRegister(ApplyDuration)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(SnapshotSizeBytes)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsExpiredTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
