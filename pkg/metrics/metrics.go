package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage-unit and session metrics
	StorageUnitsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drms_storage_units_total",
			Help: "Total number of storage units known to this manager, by mode",
		},
		[]string{"mode"},
	)

	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_sessions_total",
			Help: "Total number of open client sessions",
		},
	)

	TapeGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_tape_groups_total",
			Help: "Total number of tape-group allocation targets with recorded state",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_raft_is_leader",
			Help: "Whether this manager replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_raft_peers_total",
			Help: "Total number of Raft peers in the manager quorum",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drms_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drms_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics, for the session RPC and admin endpoints
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drms_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drms_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Catalog and archive metrics
	CatalogQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drms_catalog_query_duration_seconds",
			Help:    "Time taken by a catalog query, by kind (header/segments/links/keywords/insert/delete/resolve)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RecordsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drms_records_opened_total",
			Help: "Total number of records opened, by series and mode (retrieve/new/clone)",
		},
		[]string{"series", "mode"},
	)

	RecordsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drms_records_committed_total",
			Help: "Total number of new records committed",
		},
	)

	StorageUnitAllocDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drms_storage_unit_alloc_duration_seconds",
			Help:    "Time taken to allocate a new storage unit from a tape group",
			Buckets: prometheus.DefBuckets,
		},
	)

	ArchiveQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drms_archive_queue_depth",
			Help: "Number of storage units waiting in the archive worker's out-box",
		},
	)

	LinkResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drms_link_resolutions_total",
			Help: "Total number of link lookups, by result (static/dynamic/not_set/cycle)",
		},
		[]string{"result"},
	)

	// Session-reaper metrics
	SessionReapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drms_session_reap_duration_seconds",
			Help:    "Time taken by one reconciler tick to scan and expire sessions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drms_sessions_reaped_total",
			Help: "Total number of sessions expired by the reconciler for exceeding max session age",
		},
	)
)

func init() {
	prometheus.MustRegister(StorageUnitsTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(TapeGroupsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(CatalogQueryDuration)
	prometheus.MustRegister(RecordsOpened)
	prometheus.MustRegister(RecordsCommitted)
	prometheus.MustRegister(StorageUnitAllocDuration)
	prometheus.MustRegister(ArchiveQueueDepth)
	prometheus.MustRegister(LinkResolutionsTotal)
	prometheus.MustRegister(SessionReapDuration)
	prometheus.MustRegister(SessionsReapedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
