package simulation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
)

// DefaultInitialCapital quote capital a replay starts with.
var DefaultInitialCapital = decimal.NewFromInt(100)

// Store deal and ledger storage the replay resets and seeds.
type Store interface {
	Reset(ctx context.Context) error
	UpsertLedger(ctx context.Context, ledger domain.Ledger) error
}

// Stepper runs one resolver step.
type Stepper interface {
	Step(ctx context.Context, bar domain.Bar) (resolver.Outcome, bool, error)
}

// Driver replays the full bar history through the resolver.
type Driver struct {
	store          Store
	bars           BarLoader
	stepper        Stepper
	from           int64
	initialCapital decimal.Decimal
	pageSize       int
	logger         *zap.Logger
}

// NewDriver creates a Driver replaying bars strictly after from (ms).
// A non-positive initial capital falls back to DefaultInitialCapital.
func NewDriver(store Store, bars BarLoader, stepper Stepper, from int64, initialCapital decimal.Decimal, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !initialCapital.IsPositive() {
		initialCapital = DefaultInitialCapital
	}

	return &Driver{
		store:          store,
		bars:           bars,
		stepper:        stepper,
		from:           from,
		initialCapital: initialCapital,
		pageSize:       defaultPageSize,
		logger:         logger,
	}
}

// Run wipes deals and checkpoints, seeds the ledger right before the first bar
// and resolves every stored bar after the start in order.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	first, err := d.bars.CandlesSince(ctx, d.from, 1)
	if err != nil {
		return Stats{}, errors.Wrap(err, "load first bar")
	}
	if len(first) == 0 {
		return Stats{}, errors.Wrap(domain.ErrInvariantViolation, "no bars to simulate")
	}

	if err := d.store.Reset(ctx); err != nil {
		return Stats{}, errors.Wrap(err, "reset simulation state")
	}

	seed := domain.NewLedger(first[0].Timestamp-1, d.initialCapital)
	if err := d.store.UpsertLedger(ctx, seed); err != nil {
		return Stats{}, errors.Wrap(err, "seed ledger")
	}

	d.logger.Info("simulation started",
		zap.Time("from", first[0].Time()),
		zap.String("capital", d.initialCapital.String()))

	stats := NewStats(seed)
	started := time.Now()

	_, err = forEachBar(ctx, d.bars, d.from, d.pageSize, func(b domain.Bar) error {
		out, applied, err := d.stepper.Step(ctx, b)
		if err != nil {
			return errors.Wrapf(err, "bar %d", b.Timestamp)
		}
		if applied {
			stats.Observe(out)
		}
		if stats.Bars%10_000 == 0 && stats.Bars > 0 {
			d.logger.Info("simulation progress", zap.Time("at", b.Time()), zap.Int("bars", stats.Bars))
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	d.logger.Info("simulation done",
		zap.Int("bars", stats.Bars),
		zap.String("trade_capital", stats.End.TradeCapital.String()),
		zap.Duration("took", time.Since(started)))

	return stats, nil
}
