// Package metrics exposes Prometheus instrumentation for graph builds.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// phaseDuration tracks the latency of each pipeline phase
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cctflow_phase_duration_seconds",
		Help:    "Pipeline phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	}, []string{"phase"})

	// buildsTotal counts graph builds by result
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cctflow_builds_total",
		Help: "Total graph builds by result",
	}, []string{"result"})

	// cacheLookups counts result cache lookups by outcome
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cctflow_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"})

	// graphSize reports the size of the latest published graph
	graphSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cctflow_graph_size",
		Help: "Number of nodes, edges and relabelled occurrences in the latest graph",
	}, []string{"element"})
)

// ObservePhase records how long a pipeline phase took
func ObservePhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// BuildFinished counts a build with result "ok", "cached", "error" or "cancelled"
func BuildFinished(result string) {
	buildsTotal.WithLabelValues(result).Inc()
}

// CacheLookup counts a cache hit or miss
func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// GraphPublished records the size of a published graph
func GraphPublished(nodes, edges, relabels int) {
	graphSize.WithLabelValues("nodes").Set(float64(nodes))
	graphSize.WithLabelValues("edges").Set(float64(edges))
	graphSize.WithLabelValues("relabels").Set(float64(relabels))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
