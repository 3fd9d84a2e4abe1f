// Package metrics exposes Prometheus collectors for the bot:
//
//	gridbot_deal_transitions_total{from,to}  deal status changes
//	gridbot_deals_opened_total               deals opened, one per resolved bar
//	gridbot_trade_capital                    realized capital after the last step
//	gridbot_available_capital                capital free for new deals
//	gridbot_open_deals{state}                awaited and stuck deals
//	gridbot_orders_placed_total{mode,side}   orders sent to the exchange
//	gridbot_order_failures_total{side}       placements given up after retries
//	gridbot_liquidations_total               drift valve liquidations
//	gridbot_stale_drops_total                collision simulator stale buys
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
)

// Metrics bot collectors bound to one registry.
type Metrics struct {
	registry *prometheus.Registry
	mode     string

	transitions   *prometheus.CounterVec
	dealsOpened   prometheus.Counter
	tradeCapital  prometheus.Gauge
	available     prometheus.Gauge
	openDeals     *prometheus.GaugeVec
	ordersPlaced  *prometheus.CounterVec
	orderFailures *prometheus.CounterVec
	liquidations  prometheus.Counter
	staleDrops    prometheus.Counter
}

// New registers the collectors on a fresh registry. mode labels placed orders (live|paper).
func New(mode string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mode:     mode,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbot_deal_transitions_total",
				Help: "Deal status changes",
			},
			[]string{"from", "to"},
		),
		dealsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbot_deals_opened_total",
			Help: "Deals opened",
		}),
		tradeCapital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_trade_capital",
			Help: "Realized capital after the last resolved bar",
		}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_available_capital",
			Help: "Capital free to back new deals",
		}),
		openDeals: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridbot_open_deals",
				Help: "Non-terminal deals by state (awaited|stuck)",
			},
			[]string{"state"},
		),
		ordersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbot_orders_placed_total",
				Help: "Orders placed",
			},
			[]string{"mode", "side"},
		),
		orderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbot_order_failures_total",
				Help: "Order placements abandoned after retries",
			},
			[]string{"side"},
		),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbot_liquidations_total",
			Help: "Positions liquidated by the drift valve",
		}),
		staleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbot_stale_drops_total",
			Help: "Buy orders dropped as stale by the collision simulator",
		}),
	}

	m.registry.MustRegister(
		m.transitions, m.dealsOpened, m.tradeCapital, m.available, m.openDeals,
		m.ordersPlaced, m.orderFailures, m.liquidations, m.staleDrops,
	)

	return m
}

// Registry underlying registry, for tests and custom exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records a resolved step. Plug it in with resolver.WithObserver.
func (m *Metrics) Observe(o resolver.Outcome) {
	for _, t := range o.Transitions {
		m.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	}
	m.dealsOpened.Inc()
	m.tradeCapital.Set(toFloat(o.Ledger.TradeCapital))
	m.available.Set(toFloat(o.Ledger.AvailableCapital))
	m.openDeals.WithLabelValues("awaited").Set(float64(o.Ledger.AwaitedDeals))
	m.openDeals.WithLabelValues("stuck").Set(float64(o.Ledger.StuckDeals))
}

func (m *Metrics) OrderPlaced(side domain.Side) {
	m.ordersPlaced.WithLabelValues(m.mode, string(side)).Inc()
}

func (m *Metrics) OrderFailed(side domain.Side) {
	m.orderFailures.WithLabelValues(string(side)).Inc()
}

func (m *Metrics) Liquidated() { m.liquidations.Inc() }

// StaleDrops adds n stale buy drops.
func (m *Metrics) StaleDrops(n int) { m.staleDrops.Add(float64(n)) }

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
