package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statsFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desertbus_stats_fetch_total",
		Help: "Stats fetch attempts by result",
	}, []string{"result"})
	statsCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desertbus_stats_cache_total",
		Help: "Ticks answered from the cached snapshot, by deciding rule",
	}, []string{"rule"})
	omegaChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desertbus_omega_check_total",
		Help: "Omega Shift flag checks by result",
	}, []string{"result"})
)
