// Package telemetry holds the Prometheus metrics exported by the daemon.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verdicts counts tool results. Labels: tool, status.
	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "tools",
		Name:      "verdicts_total",
		Help:      "Tool results by tool and status",
	}, []string{"tool", "status"})

	// toolLatency measures analyzer wall time. Labels: tool.
	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "changeguard",
		Subsystem: "tools",
		Name:      "latency_seconds",
		Help:      "Tool invocation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 5},
	}, []string{"tool"})

	// registryLookups counts package-registry lookups.
	// Labels: ecosystem, outcome (found, missing, error, rate_limited).
	registryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "registry",
		Name:      "lookups_total",
		Help:      "Registry lookups by ecosystem and outcome",
	}, []string{"ecosystem", "outcome"})

	// cacheResults counts package cache probes. Labels: kind (exists, surface), result (hit, miss, stale).
	cacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "cache",
		Name:      "results_total",
		Help:      "Package cache probes by kind and result",
	}, []string{"kind", "result"})

	// learningDrops counts events the learning bridge failed to persist.
	learningDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "learning",
		Name:      "dropped_events_total",
		Help:      "Learning events dropped because the store rejected them",
	}, []string{"kind"})
)

// ObserveVerdict records one tool result.
func ObserveVerdict(tool, status string, elapsed time.Duration) {
	verdicts.WithLabelValues(tool, status).Inc()
	toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RegistryLookup records one registry lookup outcome.
func RegistryLookup(ecosystem, outcome string) {
	registryLookups.WithLabelValues(ecosystem, outcome).Inc()
}

// CacheResult records one package cache probe.
func CacheResult(kind, result string) {
	cacheResults.WithLabelValues(kind, result).Inc()
}

// LearningDrop records one swallowed learning-bridge failure.
func LearningDrop(kind string) {
	learningDrops.WithLabelValues(kind).Inc()
}
