package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	MustRegister(registry)
}

func TestIncFallback(t *testing.T) {
	before := testutil.ToFloat64(FallbackQueriesTotal.WithLabelValues("communities"))
	IncFallback("communities")
	after := testutil.ToFloat64(FallbackQueriesTotal.WithLabelValues("communities"))
	if after-before != 1 {
		t.Fatalf("expected fallback counter to increase by 1, got %v", after-before)
	}
}

func TestObserveWatchlistWriteOutcome(t *testing.T) {
	before := testutil.ToFloat64(WatchlistWritesTotal.WithLabelValues("add", "error"))
	ObserveWatchlistWrite("add", errors.New("boom"))
	after := testutil.ToFloat64(WatchlistWritesTotal.WithLabelValues("add", "error"))
	if after-before != 1 {
		t.Fatalf("expected error outcome counter to increase by 1, got %v", after-before)
	}
}

func TestObserveCacheLabels(t *testing.T) {
	before := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("profile", "hit"))
	ObserveCache("profile", true)
	if got := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("profile", "hit")); got-before != 1 {
		t.Fatalf("expected hit counter to increase, got %v", got-before)
	}
}
