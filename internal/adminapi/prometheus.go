package adminapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamkv/statestore/internal/store"
)

// maintainerCollector bridges a *store.Metrics' atomic counters into the
// Prometheus registry without requiring the maintainer to know anything
// about Prometheus — it is scraped on demand rather than pushed.
type maintainerCollector struct {
	metrics *store.Metrics

	snapshotsWritten    *prometheus.Desc
	filesPruned         *prometheus.Desc
	cacheEntriesDropped *prometheus.Desc
	ticksFailed         *prometheus.Desc
}

// NewMaintainerCollector wraps m as a prometheus.Collector suitable for
// registration with a prometheus.Registry.
func NewMaintainerCollector(m *store.Metrics) prometheus.Collector {
	ns := "statestore_maintainer"
	return &maintainerCollector{
		metrics:             m,
		snapshotsWritten:    prometheus.NewDesc(ns+"_snapshots_written_total", "Snapshot files written across all stores.", nil, nil),
		filesPruned:         prometheus.NewDesc(ns+"_files_pruned_total", "Delta/snapshot files removed by retention pruning.", nil, nil),
		cacheEntriesDropped: prometheus.NewDesc(ns+"_cache_entries_dropped_total", "In-memory map versions evicted by retention pruning.", nil, nil),
		ticksFailed:         prometheus.NewDesc(ns+"_ticks_failed_total", "Per-store maintenance passes run by the shared ticker that returned an error.", nil, nil),
	}
}

func (c *maintainerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.snapshotsWritten
	ch <- c.filesPruned
	ch <- c.cacheEntriesDropped
	ch <- c.ticksFailed
}

func (c *maintainerCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.snapshotsWritten, prometheus.CounterValue, float64(c.metrics.SnapshotsWritten.Load()))
	ch <- prometheus.MustNewConstMetric(c.filesPruned, prometheus.CounterValue, float64(c.metrics.FilesPruned.Load()))
	ch <- prometheus.MustNewConstMetric(c.cacheEntriesDropped, prometheus.CounterValue, float64(c.metrics.CacheEntriesDropped.Load()))
	ch <- prometheus.MustNewConstMetric(c.ticksFailed, prometheus.CounterValue, float64(c.metrics.TicksFailed.Load()))
}
