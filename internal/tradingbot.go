package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/gridbot/config"
	"github.com/vadiminshakov/gridbot/internal/live"
	"github.com/vadiminshakov/gridbot/internal/metrics"
	"github.com/vadiminshakov/gridbot/internal/resolver"
	"github.com/vadiminshakov/gridbot/internal/services/candles"
	"github.com/vadiminshakov/gridbot/internal/services/exchange"
	"github.com/vadiminshakov/gridbot/internal/simulation"
	"github.com/vadiminshakov/gridbot/internal/sizing"
	"github.com/vadiminshakov/gridbot/internal/storage/checkpoints"
	"github.com/vadiminshakov/gridbot/internal/storage/sqlstore"
	"github.com/vadiminshakov/gridbot/internal/web"
	"github.com/vadiminshakov/gridbot/pkg/retrier"
)

// syncRetryDelay pause between failed bar fetches.
const syncRetryDelay = 5 * time.Second

// TradingBot one configured pair in one mode.
type TradingBot struct {
	Config   config.Config
	provider ServiceProvider
	policy   *sizing.Policy
	settler  *resolver.Accounting
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewTradingBot validates the grid parameters and picks the platform services.
func NewTradingBot(conf config.Config, client any, logger *zap.Logger) (*TradingBot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pair", conf.Pair.String()), zap.String("mode", conf.Mode))

	if client == nil {
		var err error
		if client, err = newClient(conf); err != nil {
			return nil, err
		}
	}
	provider, err := NewServiceProvider(client, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service provider")
	}

	policy, err := sizing.NewPolicy(conf.PaddingPercent, conf.StopPercent, conf.CapitalPercent, conf.RiskDeduction, conf.OrderDecimals)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sizing parameters")
	}
	settler, err := resolver.NewAccounting(conf.PaddingPercent, conf.StopPercent, conf.CapitalPercent, conf.FeePercent)
	if err != nil {
		return nil, errors.Wrap(err, "invalid accounting parameters")
	}

	return &TradingBot{
		Config:   conf,
		provider: provider,
		policy:   policy,
		settler:  settler,
		metrics:  metrics.New(conf.Platform),
		logger:   logger,
	}, nil
}

// Run executes the configured mode, with the status server alongside when an address is set.
func (b *TradingBot) Run(ctx context.Context) error {
	store, err := sqlstore.Open(b.Config.DBPath)
	if err != nil {
		return errors.Wrap(err, "open sqlite store")
	}
	defer store.Close()

	ledgerWAL, err := checkpoints.NewWALStore(b.walDir("ledger"))
	if err != nil {
		return err
	}
	defer ledgerWAL.Close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if b.Config.StatusAddr != "" {
		srv := web.NewServer(b.Config.StatusAddr, ledgerWAL, b.metrics.Handler(), b.logger)
		g.Go(func() error { return srv.Start(runCtx) })
	}

	g.Go(func() error {
		defer stop()
		switch b.Config.Mode {
		case config.ModeSimulate:
			return b.simulate(runCtx, store)
		case config.ModeCollision:
			return b.collide(runCtx, store)
		case config.ModeLive:
			return b.trade(runCtx, store, ledgerWAL)
		default:
			return fmt.Errorf("unsupported mode: %s", b.Config.Mode)
		}
	})

	return g.Wait()
}

func (b *TradingBot) walDir(kind string) string {
	return filepath.Join(b.Config.WALDir, kind, strings.ToLower(b.Config.Pair.String()))
}

func (b *TradingBot) syncer(store *sqlstore.Store) (*candles.Syncer, error) {
	source, err := b.provider.BarSource(b.Config)
	if err != nil {
		return nil, errors.Wrap(err, "create bar source")
	}
	r := retrier.New(
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithBackoff(retrier.ConstantBackoff(syncRetryDelay)),
		retrier.WithJitter(0),
		retrier.WithOnRetry(func(retry int, err error) {
			b.logger.Warn("bar fetch failed, retrying", zap.Int("retry", retry), zap.Error(err))
		}),
	)
	return candles.NewSyncer(source, store, r, b.Config.SimulateFrom, b.logger), nil
}

// resolver builds the step engine. ledgerWAL may be nil, replays skip the synced checkpoint stream.
func (b *TradingBot) resolver(store *sqlstore.Store, ledgerWAL *checkpoints.WALStore) (*resolver.Resolver, error) {
	opts := []resolver.Option{
		resolver.WithTieBreak(b.Config.TieBreak),
		resolver.WithLogger(b.logger),
		resolver.WithObserver(b.metrics.Observe),
	}
	if ledgerWAL != nil {
		opts = append(opts, resolver.WithObserver(ledgerWAL.Observer(b.Config.Pair, b.logger)))
	}
	return resolver.New(store, b.policy, b.settler, opts...)
}

// replayFrom keeps the bar opening exactly at simulate_from in the replay.
func (b *TradingBot) replayFrom() int64 {
	if b.Config.SimulateFrom.IsZero() {
		return 0
	}
	return b.Config.SimulateFrom.UnixMilli() - 1
}

func (b *TradingBot) simulate(ctx context.Context, store *sqlstore.Store) error {
	syncer, err := b.syncer(store)
	if err != nil {
		return err
	}
	if _, err := syncer.Sync(ctx); err != nil {
		return errors.Wrap(err, "sync bar history")
	}

	r, err := b.resolver(store, nil)
	if err != nil {
		return err
	}
	stats, err := simulation.NewDriver(store, store, r, b.replayFrom(), b.Config.InitialCapital, b.logger).Run(ctx)
	if err != nil {
		return errors.Wrap(err, "simulation failed")
	}

	fmt.Println(stats.Render())
	return nil
}

func (b *TradingBot) collide(ctx context.Context, store *sqlstore.Store) error {
	syncer, err := b.syncer(store)
	if err != nil {
		return err
	}
	if _, err := syncer.Sync(ctx); err != nil {
		return errors.Wrap(err, "sync bar history")
	}

	stats, err := simulation.NewCollision(b.policy, b.Config.InitialCapital, b.logger).Run(ctx, store, b.replayFrom())
	if err != nil {
		return errors.Wrap(err, "collision replay failed")
	}
	b.metrics.StaleDrops(stats.StaleDrops)

	fmt.Println(stats.Render())
	return nil
}

func (b *TradingBot) trade(ctx context.Context, store *sqlstore.Store, ledgerWAL *checkpoints.WALStore) error {
	ex, matcher, err := b.provider.Exchange(b.Config)
	if err != nil {
		return errors.Wrap(err, "create exchange")
	}
	syncer, err := b.syncer(store)
	if err != nil {
		return err
	}
	journal, err := exchange.OpenJournal(b.walDir("orders"))
	if err != nil {
		return err
	}
	defer journal.Close()

	opts := []live.Option{
		live.WithJournal(journal),
		live.WithMetrics(b.metrics),
		live.WithPollInterval(b.Config.PollInterval),
		live.WithLogger(b.logger),
	}
	if matcher != nil {
		opts = append(opts, live.WithMatcher(matcher))
	}
	if b.Config.Shadow {
		r, err := b.resolver(store, ledgerWAL)
		if err != nil {
			return err
		}
		opts = append(opts, live.WithShadow(r, store))
	}

	loop, err := live.NewLoop(ex, syncer, store, b.policy, opts...)
	if err != nil {
		return err
	}
	return loop.Run(ctx)
}
