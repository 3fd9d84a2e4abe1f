// Package resolver applies one price bar to the open grid deals and the ledger.
package resolver

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// Repository ledger and deal storage the resolver reads and writes.
// SaveStep must persist deals and the ledger atomically.
type Repository interface {
	LatestLedger(ctx context.Context) (domain.Ledger, error)
	OpenDeals(ctx context.Context) ([]domain.Deal, error)
	SaveStep(ctx context.Context, deals []domain.Deal, ledger domain.Ledger) error
}

// Sizer sizes the rung opened at the end of every step.
type Sizer interface {
	Size(balance, basePrice decimal.Decimal, restingBuy, restingSell int) domain.Quote
}

// Observer is notified after a step is persisted.
type Observer func(Outcome)

// Resolver owns deal and ledger mutation, one bar at a time.
type Resolver struct {
	repo      Repository
	sizer     Sizer
	settler   Settler
	tieBreak  TieBreak
	logger    *zap.Logger
	observers []Observer
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithTieBreak sets the same-bar double touch policy.
func WithTieBreak(t TieBreak) Option {
	return func(r *Resolver) {
		r.tieBreak = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a callback run after every persisted step.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// New creates a Resolver.
func New(repo Repository, sizer Sizer, settler Settler, opts ...Option) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if sizer == nil {
		return nil, errors.New("sizer is required")
	}
	if settler == nil {
		return nil, errors.New("settler is required")
	}

	r := &Resolver{
		repo:     repo,
		sizer:    sizer,
		settler:  settler,
		tieBreak: TieBreakOptimistic,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Step loads the state, resolves the bar and persists the result. A bar at or
// before the latest checkpoint is skipped and reported with applied == false.
func (r *Resolver) Step(ctx context.Context, bar domain.Bar) (Outcome, bool, error) {
	if err := bar.Validate(); err != nil {
		return Outcome{}, false, err
	}

	ledger, err := r.repo.LatestLedger(ctx)
	if err != nil {
		return Outcome{}, false, errors.Wrap(err, "load latest ledger")
	}
	if bar.Timestamp <= ledger.Timestamp {
		r.logger.Debug("bar already resolved, skipping",
			zap.Int64("bar", bar.Timestamp),
			zap.Int64("ledger", ledger.Timestamp))
		return Outcome{}, false, nil
	}

	open, err := r.repo.OpenDeals(ctx)
	if err != nil {
		return Outcome{}, false, errors.Wrap(err, "load open deals")
	}

	out, err := r.Resolve(SimulationContext{Bar: bar, Ledger: ledger, Open: open})
	if err != nil {
		return Outcome{}, false, err
	}

	if err := r.repo.SaveStep(ctx, out.Writes(), out.Ledger); err != nil {
		return Outcome{}, false, errors.Wrapf(err, "persist step %d", bar.Timestamp)
	}

	for _, t := range out.Transitions {
		r.logger.Debug("deal transition",
			zap.Int64("deal", t.DealTimestamp),
			zap.String("from", t.From.String()),
			zap.String("to", t.To.String()))
	}
	for _, observe := range r.observers {
		observe(out)
	}

	return out, true, nil
}

// Resolve computes the step without touching storage.
func (r *Resolver) Resolve(sc SimulationContext) (Outcome, error) {
	bar := sc.Bar
	if err := sc.Ledger.CheckCounters(len(sc.Open)); err != nil {
		return Outcome{}, errors.Wrapf(err, "ledger before bar %d", bar.Timestamp)
	}

	deals := make([]domain.Deal, len(sc.Open))
	copy(deals, sc.Open)
	sort.SliceStable(deals, func(i, j int) bool { return deals[i].Timestamp < deals[j].Timestamp })

	ledger := sc.Ledger
	ledger.Timestamp = bar.Timestamp

	out := Outcome{Bar: bar}
	remaining := make([]domain.Deal, 0, len(deals)+1)

	for _, deal := range deals {
		next, err := r.next(deal, bar)
		if err != nil {
			return Outcome{}, err
		}
		if next == deal.Status {
			remaining = append(remaining, deal)
			continue
		}

		switch {
		case deal.Status == domain.DealStatusInitial:
			ledger.AwaitedDeals--
		case deal.Status.IsStuck():
			ledger.StuckDeals--
		}

		var delta domain.LedgerDelta
		switch {
		case next == domain.DealStatusProfit:
			delta = r.settler.Profit(deal)
			deal.UnfilledAmount = decimal.Zero
		case next.IsTerminal():
			delta = r.settler.Fail(deal, next)
			deal.UnfilledAmount = decimal.Zero
		default:
			ledger.StuckDeals++
		}
		ledger = ledger.Apply(delta)

		out.Transitions = append(out.Transitions, Transition{
			DealTimestamp: deal.Timestamp,
			From:          deal.Status,
			To:            next,
			Delta:         delta,
		})

		deal.Status = next
		out.Changed = append(out.Changed, deal)
		if !next.IsTerminal() {
			remaining = append(remaining, deal)
		}
	}

	restingBuy, restingSell := Resting(remaining)
	quote := r.sizer.Size(ledger.AvailableCapital, bar.Close, restingBuy, restingSell)
	opened, err := domain.NewDeal(bar.Timestamp, bar.Close, quote)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "open deal at bar %d", bar.Timestamp)
	}
	ledger = ledger.Apply(r.settler.Reserve(opened))
	ledger.AwaitedDeals++
	remaining = append(remaining, opened)

	if err := ledger.CheckCounters(len(remaining)); err != nil {
		return Outcome{}, errors.Wrapf(err, "ledger after bar %d", bar.Timestamp)
	}

	out.Ledger = ledger
	out.Opened = opened
	out.Open = remaining

	return out, nil
}

// next applies the first matching rule for the deal's state.
func (r *Resolver) next(deal domain.Deal, bar domain.Bar) (domain.DealStatus, error) {
	switch deal.Status {
	case domain.DealStatusInitial:
		switch {
		case bar.High.GreaterThan(deal.SellStopPrice):
			return domain.DealStatusFailSell, nil
		case bar.Low.LessThan(deal.BuyStopPrice):
			return domain.DealStatusFailBuy, nil
		case bar.High.GreaterThan(deal.SellPrice) && bar.Low.LessThan(deal.BuyPrice):
			return r.tieBreak.resolve(deal, bar), nil
		case bar.High.GreaterThan(deal.SellPrice):
			return domain.DealStatusFilledSell, nil
		case bar.Low.LessThan(deal.BuyPrice):
			return domain.DealStatusFilledBuy, nil
		}
	case domain.DealStatusFilledBuy:
		switch {
		case bar.Low.LessThan(deal.BuyStopPrice):
			return domain.DealStatusFailBuy, nil
		case bar.High.GreaterThan(deal.SellPrice):
			return domain.DealStatusProfit, nil
		}
	case domain.DealStatusFilledSell:
		switch {
		case bar.High.GreaterThan(deal.SellStopPrice):
			return domain.DealStatusFailSell, nil
		case bar.Low.LessThan(deal.BuyPrice):
			return domain.DealStatusProfit, nil
		}
	default:
		return "", errors.Wrapf(domain.ErrInvariantViolation, "deal %d with status %s in open set", deal.Timestamp, deal.Status)
	}

	return deal.Status, nil
}
