package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts accepted client submissions by order type.
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oms_orders_submitted_total",
		Help: "Total number of orders created by the order manager",
	},
	[]string{"type"},
)

// OrderTransitions counts applied state transitions by target status.
var OrderTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oms_order_transitions_total",
		Help: "Total number of order state transitions by target status",
	},
	[]string{"status"},
)

var DiscardedEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oms_discarded_events_total",
		Help: "Order events discarded because they were not valid for the order state",
	},
	[]string{"trigger"},
)

var RiskRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oms_risk_rejections_total",
		Help: "Total number of orders rejected by pre-trade risk by reason",
	},
	[]string{"kind"},
)

var RouteDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oms_route_decisions_total",
		Help: "Routing outcomes by venue and result",
	},
	[]string{"venue", "result"},
)

var InvariantViolations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "oms_invariant_violations_total",
		Help: "Orders frozen because an execution report broke an invariant",
	},
)

// Market data
var (
	QuoteUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_quote_updates_total",
			Help: "Venue quotes received by the aggregator",
		},
		[]string{"venue"},
	)

	ConsolidatedUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oms_consolidated_updates_total",
			Help: "Recomputations that changed a consolidated best bid or offer",
		},
	)

	StaleQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_stale_quotes_total",
			Help: "Quotes marked not-live by the staleness sweep",
		},
		[]string{"venue"},
	)
)

// Venue connectivity
var (
	VenueConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oms_venue_connected",
			Help: "1 when the venue adapter is connected, 0 otherwise",
		},
		[]string{"venue"},
	)

	VenueReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_venue_connect_attempts_total",
			Help: "Venue connect attempts by result",
		},
		[]string{"venue", "result"},
	)

	VenueQuotesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_venue_quotes_dropped_total",
			Help: "Venue quotes discarded because the adapter's quote buffer was full",
		},
		[]string{"venue"},
	)
)

// Streaming
var (
	SubscribersClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_stream_subscribers_closed_total",
			Help: "Stream subscribers disconnected for falling behind",
		},
		[]string{"stream"},
	)

	SinkBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oms_sink_order_event_backlog",
			Help: "Order events waiting to be written to a sink",
		},
		[]string{"sink"},
	)

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_sink_write_errors_total",
			Help: "Failed sink writes",
		},
		[]string{"sink"},
	)

	SinkDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_sink_dropped_total",
			Help: "Items never written to a sink: quotes on a full queue, order events left at shutdown",
		},
		[]string{"sink", "kind"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrderTransitions, DiscardedEvents, RiskRejections, RouteDecisions, InvariantViolations)
	prometheus.MustRegister(QuoteUpdates, ConsolidatedUpdates, StaleQuotes)
	prometheus.MustRegister(VenueConnected, VenueReconnects, VenueQuotesDropped)
	prometheus.MustRegister(SubscribersClosed, SinkBacklog, SinkErrors, SinkDropped)
}
