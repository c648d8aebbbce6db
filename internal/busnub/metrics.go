package busnub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "desertbus_live_messages_total",
		Help: "Live total messages received on the push channel",
	})
	liveTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "desertbus_live_total_raised",
		Help: "Most recent live total raised, in dollars",
	})
	liveOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "desertbus_live_online",
		Help: "1 while the live total has been seeded and the feed is connected",
	})
)

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
