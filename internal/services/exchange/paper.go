package exchange

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/storage/paperstate"
)

// Paper is an in-process exchange: limit orders rest until a bar crosses them.
type Paper struct {
	mu        sync.RWMutex
	quote     decimal.Decimal
	position  decimal.Decimal
	lastPrice decimal.Decimal
	orders    map[string]domain.Order
	store     *paperstate.Store
	logger    *zap.Logger
}

// NewPaper creates a paper exchange funded with balance. Saved state, if any, wins over balance.
func NewPaper(balance decimal.Decimal, store *paperstate.Store, logger *zap.Logger) (*Paper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Paper{
		quote:  balance,
		orders: make(map[string]domain.Order),
		store:  store,
		logger: logger,
	}

	state, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "restore paper state")
	}
	if state != nil {
		p.quote = state.Quote
		p.position = state.Position
		p.lastPrice = state.LastPrice
		for _, o := range state.Orders {
			p.orders[o.ID] = domain.Order{ID: o.ID, LinkID: o.LinkID, Side: o.Side, Price: o.Price, Quantity: o.Quantity}
		}
	}

	logger.Info("paper exchange init",
		zap.String("quote", p.quote.String()),
		zap.String("position", p.position.String()),
		zap.Int("orders", len(p.orders)))

	return p, nil
}

func (p *Paper) Place(_ context.Context, side domain.Side, price, qty decimal.Decimal, linkID string) (string, error) {
	if side != domain.SideBuy && side != domain.SideSell {
		return "", errors.Errorf("unknown order side %q", side)
	}
	if !price.IsPositive() || !qty.IsPositive() {
		return "", errors.Errorf("invalid order price %s qty %s", price, qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	p.orders[id] = domain.Order{ID: id, LinkID: linkID, Side: side, Price: price, Quantity: qty}
	p.persist()

	return id, nil
}

func (p *Paper) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orders[orderID]; !ok {
		return errors.Errorf("order %s not found", orderID)
	}
	delete(p.orders, orderID)
	p.persist()

	return nil
}

// Liquidate sells qty at the last seen price.
func (p *Paper) Liquidate(_ context.Context, qty decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastPrice.IsZero() {
		return errors.New("no market price to liquidate at")
	}
	p.quote = p.quote.Add(p.lastPrice.Mul(qty))
	p.position = p.position.Sub(qty)
	p.persist()

	return nil
}

func (p *Paper) ListOpenOrders(_ context.Context) ([]domain.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	orders := make([]domain.Order, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

	return orders, nil
}

func (p *Paper) GetBalance(_ context.Context) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.quote, nil
}

// Position returns the net base position.
func (p *Paper) Position() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.position
}

// Match fills every order the bar crosses and remembers the close as the market price.
func (p *Paper) Match(bar domain.Bar) []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	var filled []domain.Order
	for id, o := range p.orders {
		notional := o.Price.Mul(o.Quantity)
		switch {
		case o.Side == domain.SideBuy && bar.Low.LessThan(o.Price):
			p.quote = p.quote.Sub(notional)
			p.position = p.position.Add(o.Quantity)
		case o.Side == domain.SideSell && bar.High.GreaterThan(o.Price):
			p.quote = p.quote.Add(notional)
			p.position = p.position.Sub(o.Quantity)
		default:
			continue
		}
		delete(p.orders, id)
		filled = append(filled, o)
	}
	p.lastPrice = bar.Close
	p.persist()

	for _, o := range filled {
		p.logger.Debug("paper order filled", zap.String("id", o.ID), zap.String("side", string(o.Side)), zap.String("price", o.Price.String()))
	}

	return filled
}

func (p *Paper) persist() {
	if p.store == nil {
		return
	}

	state := paperstate.State{
		Quote:     p.quote,
		Position:  p.position,
		LastPrice: p.lastPrice,
		Orders:    make([]paperstate.StoredOrder, 0, len(p.orders)),
	}
	for _, o := range p.orders {
		state.Orders = append(state.Orders, paperstate.StoredOrder{
			ID: o.ID, LinkID: o.LinkID, Side: o.Side, Price: o.Price, Quantity: o.Quantity,
		})
	}
	if err := p.store.Save(state); err != nil {
		p.logger.Warn("failed to persist paper state", zap.Error(err))
	}
}
