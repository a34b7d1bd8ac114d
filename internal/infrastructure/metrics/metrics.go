// Package metrics registers the Prometheus series the engine updates while
// placing and reconciling orders. They are served at /metrics by cmd/engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders accepted by the brokerage, by side",
		},
		[]string{"side"},
	)

	ordersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_failed_total",
			Help: "Order placements that returned an error, by kind",
		},
		[]string{"kind"}, // transient|permanent
	)

	legAmends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_leg_amends_total",
			Help: "Protective leg amendments, by result",
		},
		[]string{"result"}, // ok|error
	)

	catalogRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_catalog_refreshes_total",
			Help: "Instrument catalog fetches",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, ordersFailed, legAmends, catalogRefreshes)
}

func IncOrderPlaced(side string) { ordersPlaced.WithLabelValues(side).Inc() }
func IncOrderFailed(kind string) { ordersFailed.WithLabelValues(kind).Inc() }
func IncLegAmend(result string)  { legAmends.WithLabelValues(result).Inc() }
func IncCatalogRefresh()         { catalogRefreshes.Inc() }
