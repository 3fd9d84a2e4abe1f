// Command gridbot runs a grid of buy and sell limit orders around the price.
// It trades on Bybit or a paper exchange, and can replay the bar history
// through the grid before going live.
//
// Usage:
//
//	gridbot --config config.yaml
//	gridbot --setup
//	gridbot --mode simulate --pair BTC_USDT (uses CLI arguments)
//
// Required environment variables (a .env file is honoured):
//
//	For Bybit live trading: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/gridbot/config"
	"github.com/vadiminshakov/gridbot/internal"
	"github.com/vadiminshakov/gridbot/internal/setup"
)

func main() {
	configs, runSetup, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}
	if runSetup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		if configs, err = config.Load(setup.GeneratedConfig); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger(configs[0].LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, conf := range configs {
		bot, err := internal.NewTradingBot(conf, nil, logger)
		if err != nil {
			logger.Fatal("failed to create bot", zap.String("pair", conf.Pair.String()), zap.Error(err))
		}

		g.Go(func() error {
			return bot.Run(ctx)
		})
		logger.Info("started", zap.String("pair", conf.Pair.String()), zap.String("mode", conf.Mode))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
