// ABOUTME: Prometheus metrics for the edge router
// ABOUTME: Counts dispatched requests, active streams, and upstream failures

package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpgate_router_requests_total",
		Help: "Requests handled by the edge router, by route kind.",
	}, []string{"kind"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_router_active_streams",
		Help: "SSE streams currently open through the router.",
	})

	upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcpgate_router_upstream_errors_total",
		Help: "Upstream connect or mid-stream failures.",
	})
)
