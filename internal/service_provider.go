package internal

import (
	"fmt"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/config"
	"github.com/vadiminshakov/gridbot/internal/clients"
	"github.com/vadiminshakov/gridbot/internal/live"
	"github.com/vadiminshakov/gridbot/internal/services/candles"
	"github.com/vadiminshakov/gridbot/internal/services/exchange"
	"github.com/vadiminshakov/gridbot/internal/storage/paperstate"
)

// ServiceProvider creates platform-specific services.
type ServiceProvider interface {
	// Exchange returns the order venue and, for simulated venues, its matcher.
	Exchange(conf config.Config) (live.Exchange, live.Matcher, error)
	BarSource(conf config.Config) (candles.Source, error)
}

// NewServiceProvider dispatches on the client type.
func NewServiceProvider(client any, logger *zap.Logger) (ServiceProvider, error) {
	switch c := client.(type) {
	case *bybit.Client:
		return &bybitProvider{client: c}, nil
	case *clients.PaperClient:
		return &paperProvider{client: c, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

// newClient builds the client for the configured platform.
func newClient(conf config.Config) (any, error) {
	switch conf.Platform {
	case config.PlatformBybit:
		return clients.NewBybitClient(conf.APIKey, conf.APISecret), nil
	case config.PlatformPaper:
		return clients.NewPaperClient(conf.WALDir + "/paper"), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", conf.Platform)
	}
}

type bybitProvider struct {
	client *bybit.Client
}

func (p *bybitProvider) Exchange(conf config.Config) (live.Exchange, live.Matcher, error) {
	return exchange.NewBybit(p.client, conf.Pair, conf.PriceDecimals, conf.OrderDecimals), nil, nil
}

func (p *bybitProvider) BarSource(conf config.Config) (candles.Source, error) {
	return candles.NewBybitSource(p.client, conf.Pair, conf.Interval)
}

type paperProvider struct {
	client *clients.PaperClient
	logger *zap.Logger
}

func (p *paperProvider) Exchange(conf config.Config) (live.Exchange, live.Matcher, error) {
	store, err := paperstate.NewStore(p.client.StateDir(), conf.Pair)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open paper state")
	}
	paper, err := exchange.NewPaper(conf.InitialCapital, store, p.logger)
	if err != nil {
		return nil, nil, err
	}
	return paper, paper, nil
}

func (p *paperProvider) BarSource(conf config.Config) (candles.Source, error) {
	return candles.NewBinanceSource(p.client.Binance(), conf.Pair, conf.Interval)
}
