package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolCalls counts tool calls by tool and outcome
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linepilot_tool_calls_total",
		Help: "Tool calls by tool and outcome",
	}, []string{"tool", "outcome"})

	// toolDuration tracks tool handling latency
	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linepilot_tool_duration_seconds",
		Help:    "Tool handling duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"tool"})
)
