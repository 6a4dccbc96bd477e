// Package metrics exposes Prometheus collectors for the state engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlapTransitions counts flapping state transitions.
	// Labels: direction (start, stop)
	FlapTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "flapping",
		Name:      "transitions_total",
		Help:      "Flapping state transitions",
	}, []string{"direction"})

	// CacheRebuilds counts lazy cache rebuilds.
	// Labels: cache (services, groups, downtimes)
	CacheRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "cache",
		Name:      "rebuilds_total",
		Help:      "Lazy cache rebuilds after invalidation",
	}, []string{"cache"})

	// RegistrySize tracks the number of registered entities.
	// Labels: kind (host, service)
	RegistrySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vigil",
		Subsystem: "registry",
		Name:      "entities",
		Help:      "Registered entities by kind",
	}, []string{"kind"})

	// AckExpiries counts acknowledgements cleared by read-triggered expiry.
	AckExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "acknowledgement",
		Name:      "expiries_total",
		Help:      "Acknowledgements cleared because their expiry passed",
	})

	// RetentionWrites counts retention file writes.
	// Labels: status (ok, error)
	RetentionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "retention",
		Name:      "writes_total",
		Help:      "Retention file write attempts",
	}, []string{"status"})
)
