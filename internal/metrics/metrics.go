// Package metrics exposes the trading core's Prometheus instrumentation.
//
// The Collector is an engine event sink: it switches on event type and
// updates its counters and histograms as the stream flows past. Book depth
// gauges are set from snapshots by the daemon on a ticker, since resting
// counts are state rather than a flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridtrade/pkg/types"
)

// Collector holds all gridtrade metrics on a dedicated registry.
type Collector struct {
	registry *prometheus.Registry

	ordersSubmitted  *prometheus.CounterVec
	ordersCancelled  prometheus.Counter
	matchesTotal     *prometheus.CounterVec
	contractFailures *prometheus.CounterVec

	executionSeconds    prometheus.Histogram
	verificationSeconds prometheus.Histogram

	bookOrders  *prometheus.GaugeVec
	gasSpentETH prometheus.Counter
}

// New builds the collector and registers every metric.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtrade_orders_submitted_total",
			Help: "Orders admitted to the registry.",
		}, []string{"side", "category"}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridtrade_orders_cancelled_total",
			Help: "Orders cancelled.",
		}),
		matchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtrade_matches_total",
			Help: "Matches staged.",
		}, []string{"category"}),
		contractFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtrade_contract_failures_total",
			Help: "Contracts settled as failed.",
		}, []string{"reason"}),

		executionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridtrade_contract_execution_seconds",
			Help:    "Contract execution wall time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		verificationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridtrade_verification_seconds",
			Help:    "Computed (non-cached) verification latency.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),

		bookOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridtrade_book_orders",
			Help: "Resting orders per category and side.",
		}, []string{"category", "side"}),
		gasSpentETH: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridtrade_gas_spent_eth_total",
			Help: "Simulated gas spent by executed contracts, in ETH.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		c.ordersSubmitted,
		c.ordersCancelled,
		c.matchesTotal,
		c.contractFailures,
		c.executionSeconds,
		c.verificationSeconds,
		c.bookOrders,
		c.gasSpentETH,
	)
	return c
}

// Publish implements the engine's event sink.
func (c *Collector) Publish(evt types.Event) error {
	switch evt.Type {
	case types.EventOrderAdmitted:
		c.ordersSubmitted.WithLabelValues(string(evt.Side), string(evt.Category)).Inc()
	case types.EventOrderCancelled:
		c.ordersCancelled.Inc()
	case types.EventOrderMatched:
		c.matchesTotal.WithLabelValues(string(evt.Category)).Inc()
	case types.EventContractExecuted:
		c.executionSeconds.Observe(evt.Latency.Seconds())
		if gas, _ := evt.GasUsed.Float64(); gas > 0 {
			c.gasSpentETH.Add(gas)
		}
	case types.EventContractVerified:
		c.verificationSeconds.Observe(evt.Latency.Seconds())
	case types.EventContractFailed:
		c.contractFailures.WithLabelValues(failureLabel(evt.Reason)).Inc()
	}
	return nil
}

// SetBookDepth records the resting order count for one (category, side).
func (c *Collector) SetBookDepth(cat types.Category, side types.Side, n int) {
	c.bookOrders.WithLabelValues(string(cat), string(side)).Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// failureLabel folds free-form failure reasons into a bounded label set, so
// one misbehaving backend cannot explode metric cardinality.
func failureLabel(reason string) string {
	switch reason {
	case "execution timed out":
		return "timeout"
	case "settlement backend unavailable":
		return "backend_unavailable"
	case "order cancelled before deployment":
		return "cancelled"
	default:
		return "error"
	}
}
