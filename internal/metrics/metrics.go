package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SyncCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feather_sync_cycles_total",
		Help: "Total completed sync cycles (pull + push).",
	})
	SyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feather_sync_failures_total",
		Help: "Total sync cycles aborted by an error.",
	})

	PullRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feather_sync_pull_rows_total",
		Help: "Total rows applied from the remote store, per table.",
	}, []string{"table"})
	PushRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feather_sync_push_rows_total",
		Help: "Total rows pushed to the remote store, per table.",
	}, []string{"table"})
	SkippedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feather_sync_skipped_rows_total",
		Help: "Total malformed or unready rows skipped during sync, per table.",
	}, []string{"table"})

	UploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feather_attachment_upload_failures_total",
		Help: "Total attachment uploads that failed and were deferred.",
	})

	FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feather_feed_events_total",
		Help: "Total realtime feed events received, per type.",
	}, []string{"type"})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feather_online_users",
		Help: "Current size of the in-memory online-presence set.",
	})
)

func Register() {
	prometheus.MustRegister(
		SyncCycles, SyncFailures,
		PullRows, PushRows, SkippedRows,
		UploadFailures,
		FeedEvents, OnlineUsers,
	)
}
