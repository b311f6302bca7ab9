package carrier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration tracks carrier call latency by operation and outcome
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linepilot_carrier_request_duration_seconds",
		Help:    "Carrier API call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation", "outcome"})

	// catalogCacheTotal counts catalog lookups served from cache versus fetched
	catalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linepilot_carrier_catalog_cache_total",
		Help: "Catalog lookups by cache result",
	}, []string{"result"})
)

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
