// Package metrics declares this module's Prometheus instruments, in the
// same package-level-var style the teacher uses for its RPC metrics. The
// cache package records CacheRequests, CacheEvictions and CacheBytesSaved,
// and cdn's range cache records CacheRequests. ResolveRetries,
// IndexLookupHistogram and ResolveLatencyHistogram are registered, but no
// package in this module records them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheRequests counts Get calls per tier (memory/disk/manifest) and
// outcome (hit/miss).
var CacheRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ngdp_cache_requests_total",
		Help: "Cache requests by tier and outcome",
	},
	[]string{"tier", "outcome"},
)

// CacheEvictions counts entries removed from a tier, by reason
// (capacity/ttl/invalidated).
var CacheEvictions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ngdp_cache_evictions_total",
		Help: "Cache entries evicted by tier and reason",
	},
	[]string{"tier", "reason"},
)

// CacheBytesSaved totals the plaintext bytes served from cache instead of
// being re-fetched from CDN or re-read from local CASC.
var CacheBytesSaved = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ngdp_cache_bytes_saved_total",
		Help: "Bytes served from cache instead of origin, by tier",
	},
	[]string{"tier"},
)

// ResolveRetries counts retry attempts the resolver's backoff policy spent
// per operation.
var ResolveRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ngdp_resolve_retries_total",
		Help: "Retry attempts spent resolving content, by operation",
	},
	[]string{"op"},
)

// IndexLookupHistogram times local CASC/CDN archive index lookups.
var IndexLookupHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ngdp_index_lookup_latency_seconds",
		Help:    "Index lookup latency",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
	[]string{"index_type", "is_remote"},
)

// ResolveLatencyHistogram times a full Resolver.Resolve call.
var ResolveLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ngdp_resolve_latency_seconds",
		Help:    "End-to-end content resolution latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 10, 8),
	},
	[]string{"source"},
)
