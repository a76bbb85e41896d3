package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts accepted client orders by kind (limit/market) and side.
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fracx_orders_placed_total",
		Help: "Client orders accepted by the matching engine",
	},
	[]string{"kind", "side"},
)

// OrdersRejected counts orders refused by validation.
var OrdersRejected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fracx_orders_rejected_total",
		Help: "Client orders rejected by validation",
	},
)

var TradesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fracx_trades_executed_total",
		Help: "Trades written to the trade ledger",
	},
	[]string{"source"},
)

// Simulator metrics
var (
	Ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fracx_sim_ticks_total",
			Help: "Completed simulator ticks",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fracx_sim_tick_duration_seconds",
			Help:    "Wall time of one simulator tick",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	AssetFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracx_sim_asset_failures_total",
			Help: "Per-asset tick phases skipped after a failure",
		},
		[]string{"phase"},
	)

	SimulatedFills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fracx_sim_fills_total",
			Help: "Resting limit orders filled by the simulator",
		},
	)
)

// Delivery metrics
var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracx_events_published_total",
			Help: "Envelopes delivered to subscribers, by event name",
		},
		[]string{"event"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fracx_events_dropped_total",
			Help: "Envelopes dropped because a subscriber was too slow",
		},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fracx_subscribers",
			Help: "Connected websocket and gRPC stream subscribers",
		},
	)

	OutboxForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fracx_outbox_forwarded_total",
			Help: "Outbox records forwarded to Kafka, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersRejected, TradesExecuted)
	prometheus.MustRegister(Ticks, TickDuration, AssetFailures, SimulatedFills)
	prometheus.MustRegister(EventsPublished, EventsDropped, Subscribers, OutboxForwarded)
}
