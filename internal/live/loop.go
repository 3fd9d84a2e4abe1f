// Package live runs the grid against an exchange, one iteration per closed bar.
package live

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
	"github.com/vadiminshakov/gridbot/internal/services/exchange"
	"github.com/vadiminshakov/gridbot/pkg/retrier"
)

const (
	defaultPollInterval = 5 * time.Second
	barPageSize         = 1000
)

// Exchange order and balance operations the loop needs.
type Exchange interface {
	Place(ctx context.Context, side domain.Side, price, qty decimal.Decimal, linkID string) (string, error)
	Cancel(ctx context.Context, orderID string) error
	Liquidate(ctx context.Context, qty decimal.Decimal) error
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// Syncer brings the bar cache up to date and returns the newest bar timestamp.
type Syncer interface {
	Sync(ctx context.Context) (int64, error)
}

// BarReader reads cached bars with timestamp > since, ascending.
type BarReader interface {
	CandlesSince(ctx context.Context, since int64, limit int) ([]domain.Bar, error)
}

// Sizer prices the next pair of orders.
type Sizer interface {
	Size(balance, basePrice decimal.Decimal, restingBuy, restingSell int) domain.Quote
}

// Stepper shadow resolver replaying closed bars into the ledger.
type Stepper interface {
	Step(ctx context.Context, bar domain.Bar) (resolver.Outcome, bool, error)
}

// Ledgers deal and ledger persistence used next to the shadow resolver.
type Ledgers interface {
	LatestLedger(ctx context.Context) (domain.Ledger, error)
	UpsertLedger(ctx context.Context, ledger domain.Ledger) error
	UpsertDeal(ctx context.Context, deal domain.Deal) error
}

// Matcher fills resting orders against a closed bar. Only the paper exchange has one.
type Matcher interface {
	Match(bar domain.Bar) []domain.Order
}

// Metrics order counters.
type Metrics interface {
	OrderPlaced(side domain.Side)
	OrderFailed(side domain.Side)
	Liquidated()
}

// Loop drives one iteration per closed bar.
type Loop struct {
	exchange Exchange
	syncer   Syncer
	bars     BarReader
	sizer    Sizer
	stepper  Stepper
	ledgers  Ledgers
	matcher  Matcher
	journal  *exchange.Journal
	retrier  *retrier.Retrier
	metrics  Metrics
	poll     time.Duration
	logger   *zap.Logger

	// lastSeen newest bar timestamp observed, that bar is still forming.
	lastSeen int64
	// cursor newest bar already handed to the shadow resolver.
	cursor int64
	// formingOpen open price of the bar at lastSeen.
	formingOpen decimal.Decimal
	// pending pair of the last closed bar not fully placed yet.
	pending *pendingPair
}

// pendingPair orders owed for a closed bar. The quote is fixed on the first
// attempt so a retry only places the legs still missing.
type pendingPair struct {
	bar    domain.Bar
	deal   *domain.Deal
	quote  *domain.Quote
	buyID  string
	sellID string
}

// Option configures the Loop.
type Option func(*Loop)

// WithShadow replays every closed bar through the resolver and records order ids on its deals.
func WithShadow(stepper Stepper, ledgers Ledgers) Option {
	return func(l *Loop) {
		l.stepper = stepper
		l.ledgers = ledgers
	}
}

func WithMatcher(m Matcher) Option {
	return func(l *Loop) { l.matcher = m }
}

// WithJournal journals every placement and reconciles leftovers at start.
func WithJournal(j *exchange.Journal) Option {
	return func(l *Loop) { l.journal = j }
}

func WithRetrier(r *retrier.Retrier) Option {
	return func(l *Loop) { l.retrier = r }
}

func WithMetrics(m Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a Loop. The default retrier retries placements until ctx is done.
func NewLoop(ex Exchange, syncer Syncer, bars BarReader, sizer Sizer, opts ...Option) (*Loop, error) {
	if ex == nil || syncer == nil || bars == nil || sizer == nil {
		return nil, errors.New("exchange, syncer, bar reader and sizer are required")
	}

	l := &Loop{
		exchange: ex,
		syncer:   syncer,
		bars:     bars,
		sizer:    sizer,
		poll:     defaultPollInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.stepper != nil && l.ledgers == nil {
		return nil, errors.New("shadow resolver requires ledger storage")
	}
	if l.retrier == nil {
		l.retrier = retrier.New(
			retrier.WithMaxRetries(retrier.Unlimited),
			retrier.WithBackoff(retrier.ConstantBackoff(l.poll)),
			retrier.WithJitter(0),
			retrier.WithOnRetry(func(retry int, err error) {
				l.logger.Warn("exchange call failed, retrying", zap.Int("retry", retry), zap.Error(err))
			}),
		)
	}

	return l, nil
}

// Init reconciles journalled intents, syncs bars and seeds the ledger on first start.
func (l *Loop) Init(ctx context.Context) error {
	if l.journal != nil {
		open, err := retrier.DoWithData(l.retrier, ctx, l.exchange.ListOpenOrders)
		if err != nil {
			return errors.Wrap(err, "list open orders for reconciliation")
		}
		placed, failed, err := l.journal.Reconcile(open)
		if err != nil {
			return errors.Wrap(err, "reconcile order intents")
		}
		if placed+failed > 0 {
			l.logger.Info("order intents reconciled", zap.Int("placed", placed), zap.Int("failed", failed))
		}
	}

	newest, err := l.syncer.Sync(ctx)
	if err != nil {
		return errors.Wrap(err, "initial candle sync")
	}
	if newest == 0 {
		return errors.Wrap(domain.ErrInvariantViolation, "no bars after initial sync")
	}
	l.lastSeen = newest
	l.cursor = newest - 1

	if l.stepper == nil {
		return nil
	}

	ledger, err := l.ledgers.LatestLedger(ctx)
	switch {
	case err == nil:
		l.cursor = ledger.Timestamp
	case errors.Is(err, domain.ErrNoLedger):
		balance, err := retrier.DoWithData(l.retrier, ctx, l.exchange.GetBalance)
		if err != nil {
			return errors.Wrap(err, "get balance for ledger seed")
		}
		// seeded just before the forming bar so its close is resolved
		seed := domain.NewLedger(newest-1, balance)
		if err := l.ledgers.UpsertLedger(ctx, seed); err != nil {
			return errors.Wrap(err, "seed ledger")
		}
		l.logger.Info("ledger initiated", zap.Int64("ts", seed.Timestamp), zap.String("capital", balance.String()))
	default:
		return errors.Wrap(err, "load ledger")
	}

	return nil
}

// Run initializes and then polls until ctx is done. Invariant violations stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Init(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	l.logger.Info("starting live loop", zap.Int64("last_bar", l.lastSeen), zap.Duration("poll_interval", l.poll))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("context done, stopping live loop")
			return ctx.Err()
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				if errors.Is(err, domain.ErrInvariantViolation) || ctx.Err() != nil {
					return err
				}
				l.logger.Error("live iteration failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one poll: nothing happens until a bar newer than the last seen one appears.
// A pair that could not be placed is retried on the following polls until a newer bar closes.
func (l *Loop) Tick(ctx context.Context) error {
	newest, err := l.syncer.Sync(ctx)
	if err != nil {
		return errors.Wrap(err, "sync candles")
	}
	if newest > l.lastSeen {
		if err := l.advance(ctx, newest); err != nil {
			return err
		}
	}
	if l.pending == nil {
		return nil
	}

	if err := l.placePending(ctx); err != nil {
		return err
	}

	return l.releaseDrift(ctx, l.formingOpen)
}

// advance resolves the bars closed since the cursor and queues the pair for the last of them.
func (l *Loop) advance(ctx context.Context, newest int64) error {
	bars, err := l.barsAfter(ctx, l.cursor, newest)
	if err != nil {
		return err
	}
	if len(bars) < 2 || bars[len(bars)-1].Timestamp != newest {
		return errors.Errorf("bar cache has no closed bar before %d", newest)
	}
	closed, forming := bars[:len(bars)-1], bars[len(bars)-1]

	var opened *domain.Deal
	for _, bar := range closed {
		if l.matcher != nil {
			for _, o := range l.matcher.Match(bar) {
				l.logger.Info("order filled", zap.String("id", o.ID), zap.String("side", string(o.Side)), zap.String("price", o.Price.String()))
			}
		}
		if l.stepper == nil {
			continue
		}
		out, applied, err := l.stepper.Step(ctx, bar)
		if err != nil {
			return errors.Wrapf(err, "resolve bar %d", bar.Timestamp)
		}
		opened = nil
		if applied {
			deal := out.Opened
			opened = &deal
		}
	}

	last := closed[len(closed)-1]
	if l.pending != nil {
		l.logger.Warn("grid pair skipped, a newer bar closed before it was placed",
			zap.Int64("bar", l.pending.bar.Timestamp),
			zap.Bool("buy_placed", l.pending.buyID != ""),
			zap.Bool("sell_placed", l.pending.sellID != ""))
	}
	l.pending = &pendingPair{bar: last}
	if opened != nil && opened.Timestamp == last.Timestamp {
		l.pending.deal = opened
	}

	l.cursor = last.Timestamp
	l.lastSeen = newest
	l.formingOpen = forming.Open

	return nil
}

// placePending places the missing legs of the pending pair and records their ids on its deal.
func (l *Loop) placePending(ctx context.Context) error {
	p := l.pending
	if p.quote == nil {
		q, err := l.quote(ctx, p.bar)
		if err != nil {
			return err
		}
		p.quote = &q
	}

	if p.buyID == "" {
		id, err := l.place(ctx, domain.SideBuy, p.quote.BuyPrice, p.quote.Quantity, p.bar.Timestamp)
		if err != nil {
			return err
		}
		p.buyID = id
	}
	if p.sellID == "" {
		id, err := l.place(ctx, domain.SideSell, p.quote.SellPrice, p.quote.Quantity, p.bar.Timestamp)
		if err != nil {
			return err
		}
		p.sellID = id
	}

	if p.deal != nil {
		p.deal.BuyOrderID, p.deal.SellOrderID = p.buyID, p.sellID
		if err := l.ledgers.UpsertDeal(ctx, *p.deal); err != nil {
			return errors.Wrapf(err, "record order ids on deal %d", p.deal.Timestamp)
		}
	}

	l.pending = nil
	return nil
}

// barsAfter pages the cache from after up to and including newest.
func (l *Loop) barsAfter(ctx context.Context, after, newest int64) ([]domain.Bar, error) {
	var out []domain.Bar
	for {
		page, err := l.bars.CandlesSince(ctx, after, barPageSize)
		if err != nil {
			return nil, errors.Wrap(err, "read cached bars")
		}
		for _, b := range page {
			if b.Timestamp > newest {
				return out, nil
			}
			out = append(out, b)
		}
		if len(page) < barPageSize {
			return out, nil
		}
		after = page[len(page)-1].Timestamp
	}
}

// quote sizes a buy and a sell around the bar close from the live balance and live open orders.
func (l *Loop) quote(ctx context.Context, bar domain.Bar) (domain.Quote, error) {
	balance, err := retrier.DoWithData(l.retrier, ctx, l.exchange.GetBalance)
	if err != nil {
		return domain.Quote{}, errors.Wrap(err, "get balance")
	}
	open, err := retrier.DoWithData(l.retrier, ctx, l.exchange.ListOpenOrders)
	if err != nil {
		return domain.Quote{}, errors.Wrap(err, "list open orders")
	}

	var buys, sells int
	for _, o := range open {
		switch o.Side {
		case domain.SideBuy:
			buys++
		case domain.SideSell:
			sells++
		}
	}

	q := l.sizer.Size(balance, bar.Close, buys, sells)
	l.logger.Info("placing grid pair",
		zap.Int64("bar", bar.Timestamp),
		zap.String("buy", q.BuyPrice.String()),
		zap.String("sell", q.SellPrice.String()),
		zap.String("qty", q.Quantity.String()),
		zap.Int("resting_buy", buys),
		zap.Int("resting_sell", sells))

	return q, nil
}

func (l *Loop) place(ctx context.Context, side domain.Side, price, qty decimal.Decimal, bar int64) (string, error) {
	var intent *exchange.Intent
	if l.journal != nil {
		var err error
		if intent, err = l.journal.Prepare(side, price, qty, bar); err != nil {
			return "", errors.Wrap(err, "journal order intent")
		}
	}

	linkID := ""
	if intent != nil {
		linkID = intent.LinkID
	}

	id, err := retrier.DoWithData(l.retrier, ctx, func(ctx context.Context) (string, error) {
		return l.exchange.Place(ctx, side, price, qty, linkID)
	})
	if err != nil {
		if l.metrics != nil {
			l.metrics.OrderFailed(side)
		}
		// a cancelled ctx leaves the intent pending for reconciliation
		if intent != nil && ctx.Err() == nil {
			if jerr := l.journal.MarkFailed(intent, err); jerr != nil {
				l.logger.Error("failed to journal order failure", zap.Error(jerr))
			}
		}
		return "", errors.Wrapf(err, "place %s order", side)
	}

	if intent != nil {
		if err := l.journal.MarkPlaced(intent, id); err != nil {
			l.logger.Error("failed to journal placed order", zap.String("order_id", id), zap.Error(err))
		}
	}
	if l.metrics != nil {
		l.metrics.OrderPlaced(side)
	}
	l.logger.Debug("order placed", zap.String("side", string(side)), zap.String("order_id", id))

	return id, nil
}

// releaseDrift liquidates and cancels buys resting at or below half the open price.
func (l *Loop) releaseDrift(ctx context.Context, open decimal.Decimal) error {
	orders, err := retrier.DoWithData(l.retrier, ctx, l.exchange.ListOpenOrders)
	if err != nil {
		return errors.Wrap(err, "list open orders")
	}

	limit := open.Div(decimal.NewFromInt(2))
	for _, o := range orders {
		if o.Side != domain.SideBuy || o.Price.GreaterThan(limit) {
			continue
		}

		l.logger.Warn("buy order drifted below half the open, liquidating",
			zap.String("order_id", o.ID),
			zap.String("price", o.Price.String()),
			zap.String("open", open.String()))

		if err := l.retrier.Do(ctx, func(ctx context.Context) error {
			return l.exchange.Liquidate(ctx, o.Quantity)
		}); err != nil {
			return errors.Wrapf(err, "liquidate for order %s", o.ID)
		}
		if err := l.retrier.Do(ctx, func(ctx context.Context) error {
			return l.exchange.Cancel(ctx, o.ID)
		}); err != nil {
			return errors.Wrapf(err, "cancel order %s", o.ID)
		}
		if l.metrics != nil {
			l.metrics.Liquidated()
		}
	}

	return nil
}
