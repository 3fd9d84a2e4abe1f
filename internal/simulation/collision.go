package simulation

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
)

var two = decimal.NewFromInt(2)

// RestingOrder one side of a rung in the order book model.
type RestingOrder struct {
	Timestamp int64
	Side      domain.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
}

// CollisionStats capacity and risk figures of an order book replay.
type CollisionStats struct {
	Bars        int
	BuyFills    int
	SellFills   int
	StaleDrops  int
	PeakResting int
	PeakBuys    int
	PeakSells   int
	// Resting orders left at the end of the replay.
	RestingBuys  int
	RestingSells int
}

// Collision models every rung as two independent resting limit orders without stops.
type Collision struct {
	sizer   resolver.Sizer
	balance decimal.Decimal
	buys    map[int64]RestingOrder
	sells   map[int64]RestingOrder
	stats   CollisionStats
	logger  *zap.Logger
}

// NewCollision creates the model sizing every pair from a fixed balance.
func NewCollision(sizer resolver.Sizer, balance decimal.Decimal, logger *zap.Logger) *Collision {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collision{
		sizer:   sizer,
		balance: balance,
		buys:    make(map[int64]RestingOrder),
		sells:   make(map[int64]RestingOrder),
		logger:  logger,
	}
}

// Step fills or drops resting orders crossed by the bar and places a new pair
// around the bar open, sized from the counts resting before the bar.
func (c *Collision) Step(bar domain.Bar) {
	restingBuy, restingSell := len(c.buys), len(c.sells)

	for ts, o := range c.sells {
		if bar.High.GreaterThan(o.Price) {
			delete(c.sells, ts)
			c.stats.SellFills++
		}
	}
	for ts, o := range c.buys {
		switch {
		case bar.High.GreaterThan(o.Price.Mul(two)):
			delete(c.buys, ts)
			c.stats.StaleDrops++
			c.logger.Debug("stale buy dropped", zap.Int64("order", ts), zap.String("price", o.Price.String()))
		case bar.Low.LessThan(o.Price):
			delete(c.buys, ts)
			c.stats.BuyFills++
		}
	}

	q := c.sizer.Size(c.balance, bar.Open, restingBuy, restingSell)
	c.buys[bar.Timestamp] = RestingOrder{Timestamp: bar.Timestamp, Side: domain.SideBuy, Price: q.BuyPrice, Quantity: q.Quantity}
	c.sells[bar.Timestamp] = RestingOrder{Timestamp: bar.Timestamp, Side: domain.SideSell, Price: q.SellPrice, Quantity: q.Quantity}

	c.stats.Bars++
	c.stats.PeakBuys = max(c.stats.PeakBuys, len(c.buys))
	c.stats.PeakSells = max(c.stats.PeakSells, len(c.sells))
	c.stats.PeakResting = max(c.stats.PeakResting, len(c.buys)+len(c.sells))
}

// Stats returns the figures collected so far.
func (c *Collision) Stats() CollisionStats {
	s := c.stats
	s.RestingBuys = len(c.buys)
	s.RestingSells = len(c.sells)
	return s
}

// Run replays every stored bar after from (ms) through the model.
func (c *Collision) Run(ctx context.Context, bars BarLoader, from int64) (CollisionStats, error) {
	_, err := forEachBar(ctx, bars, from, defaultPageSize, func(b domain.Bar) error {
		c.Step(b)
		return nil
	})
	return c.Stats(), err
}
