package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpde_comb_pages_fetched_total",
		Help: "The total number of feed pages fetched and persisted",
	}, []string{"feed"})

	ItemsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpde_comb_items_reconciled_total",
		Help: "The total number of page items folded into snapshots",
	}, []string{"feed"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpde_comb_fetch_errors_total",
		Help: "The total number of failed sweeps by error kind",
	}, []string{"feed", "kind"})

	SweepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpde_comb_sweeps_completed_total",
		Help: "The total number of sweeps that reached the end of the feed",
	}, []string{"feed"})

	SnapshotItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpde_comb_snapshot_items",
		Help: "The number of items currently held in each feed snapshot",
	}, []string{"feed"})

	FeedsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpde_comb_feeds_in_flight",
		Help: "The number of feeds currently being synchronised",
	})

	SchedulerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpde_comb_scheduler_paused",
		Help: "1 when the scheduler is paused, 0 otherwise",
	})

	PageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpde_comb_page_duration_seconds",
		Help:    "Time taken to fetch, reconcile and persist one page",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // Start at 10ms, double each bucket
	})

	TaskQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpde_comb_task_queue_wait_seconds",
		Help:    "Time tasks spend queued before a worker picks them up",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
