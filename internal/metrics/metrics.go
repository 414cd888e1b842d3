// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reqtrace",
		Subsystem: "hub",
		Name:      "connections",
		Help:      "Live client connections registered with the hub.",
	})

	HubSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reqtrace",
		Subsystem: "hub",
		Name:      "subscriptions",
		Help:      "Connection/project subscription pairs.",
	})

	HubEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqtrace",
		Subsystem: "hub",
		Name:      "events_published_total",
		Help:      "Change events published, by entity kind.",
	}, []string{"entity_kind"})

	HubDeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqtrace",
		Subsystem: "hub",
		Name:      "delivery_failures_total",
		Help:      "Connections dropped after a failed delivery, by reason.",
	}, []string{"reason"})

	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqtrace",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Entity store write attempts by operation, entity kind and outcome.",
	}, []string{"op", "entity_kind", "result"})

	GraphQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reqtrace",
		Subsystem: "graph",
		Name:      "query_duration_seconds",
		Help:      "Latency of hierarchy and impact queries.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
	}, []string{"query"})

	ValidationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reqtrace",
		Subsystem: "validation",
		Name:      "score",
		Help:      "Distribution of validation scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
)
