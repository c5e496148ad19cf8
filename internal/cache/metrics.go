package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks cache lookups by granularity and outcome.
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_lookups_total",
			Help: "Total number of page cache lookups",
		},
		[]string{"kind", "result"}, // kind: page|fragment, result: hit|miss|stale
	)

	// NotModified tracks 304 responses by the validator that matched.
	NotModified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_not_modified_total",
			Help: "Total number of 304 Not Modified responses",
		},
		[]string{"validator", "source"}, // validator: etag|since, source: stored|generated
	)

	// StoreErrors tracks failed store operations.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_store_errors_total",
			Help: "Total number of page cache store errors",
		},
		[]string{"operation"}, // read|write|remove
	)

	// Sweeps counts evictor runs that passed the probability gate.
	Sweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_sweeps_total",
			Help: "Total number of cache cleanup sweeps",
		},
	)

	// Evicted counts files removed by the evictor.
	Evicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_evicted_files_total",
			Help: "Total number of stale cache files removed",
		},
	)
)
