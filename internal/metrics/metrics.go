package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_http_requests_total",
		Help: "HTTP requests served by route pattern and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terravest_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	FallbackQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_fallback_queries_total",
		Help: "Aggregation routes that fell back from the joined query to per-row lookups",
	}, []string{"route"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_cache_lookups_total",
		Help: "Cache lookups by cache name and result",
	}, []string{"cache", "result"})

	WatchlistWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_watchlist_writes_total",
		Help: "Watchlist mutations by action and outcome",
	}, []string{"action", "outcome"})

	SearchBackendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_search_backend_total",
		Help: "Company searches served per backend",
	}, []string{"backend"})

	ReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terravest_reconciliations_total",
		Help: "Delayed watchlist reconciliations run by the client layer, by outcome",
	}, []string{"outcome"})
)

// MustRegister registers all collectors on the given registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FallbackQueriesTotal,
		CacheLookupsTotal,
		WatchlistWritesTotal,
		SearchBackendTotal,
		ReconciliationsTotal,
	)
}

func ObserveRequest(method, route string, status int, started time.Time) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func IncFallback(route string) {
	FallbackQueriesTotal.WithLabelValues(route).Inc()
}

func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

func ObserveWatchlistWrite(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	WatchlistWritesTotal.WithLabelValues(action, outcome).Inc()
}

func ObserveSearch(backend string) {
	SearchBackendTotal.WithLabelValues(backend).Inc()
}

func ObserveReconcile(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ReconciliationsTotal.WithLabelValues(outcome).Inc()
}
