package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Twin cache metrics, labelled cache=<ProviderConfig.Group>.
var (
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_cache_hits_total",
			Help: "Cached twins found for revalidation.",
		},
		[]string{"cache"},
	)

	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_cache_misses_total",
			Help: "Twin reads with no cached copy to revalidate.",
		},
		[]string{"cache"},
	)

	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_cache_evictions_total",
			Help: "Cached twins dropped for capacity or expiry.",
		},
		[]string{"cache"},
	)

	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_cache_invalidations_total",
			Help: "Cached twins removed after the hub reported them deleted or modified.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(HitsTotal, MissesTotal, EvictionsTotal, InvalidationsTotal)
}

var (
	entriesMu     sync.Mutex
	entriesGauges = make(map[string]prometheus.GaugeFunc)
	// entriesReg is swapped for an isolated registry in tests.
	entriesReg prometheus.Registerer = prometheus.DefaultRegisterer
)

// registerEntriesGauge exposes twinquery_cache_entries for group, calling lenFunc on every
// scrape so server-side expiry in Redis is reflected. A gauge already registered for the
// group is replaced.
func registerEntriesGauge(group string, lenFunc func() int) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "twinquery_cache_entries",
		Help:        "Twins currently held in the cache.",
		ConstLabels: prometheus.Labels{"cache": group},
	}, func() float64 { return float64(lenFunc()) })

	entriesMu.Lock()
	defer entriesMu.Unlock()

	if old, ok := entriesGauges[group]; ok {
		entriesReg.Unregister(old)
	}
	entriesGauges[group] = gauge
	_ = entriesReg.Register(gauge)
}

func unregisterEntriesGauge(group string) {
	entriesMu.Lock()
	defer entriesMu.Unlock()

	if gauge, ok := entriesGauges[group]; ok {
		entriesReg.Unregister(gauge)
		delete(entriesGauges, group)
	}
}
