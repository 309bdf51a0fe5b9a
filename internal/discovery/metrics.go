package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_backends_total",
			Help: "Total number of backend discovery attempts by outcome",
		},
		[]string{"scheme", "status"},
	)

	routesComposedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_routes_composed_total",
			Help: "Total number of routes composed into the routing table",
		},
	)
)
