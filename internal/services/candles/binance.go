package candles

import (
	"context"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// BinanceSource reads public spot klines, used for history when Bybit data is not wanted.
type BinanceSource struct {
	client   *binance.Client
	pair     domain.Pair
	interval string
}

// NewBinanceSource creates a Binance bar source.
func NewBinanceSource(client *binance.Client, pair domain.Pair, interval string) (*BinanceSource, error) {
	if _, err := IntervalDuration(interval); err != nil {
		return nil, err
	}
	return &BinanceSource{client: client, pair: pair, interval: interval}, nil
}

// Fetch returns up to MaxBatch bars starting at since, ascending.
func (s *BinanceSource) Fetch(ctx context.Context, since int64) ([]domain.Bar, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(s.pair.Symbol()).
		Interval(s.interval).
		StartTime(since).
		Limit(MaxBatch).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", s.pair.String())
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		b, err := parseBar(k.OpenTime, k.Open, k.High, k.Low, k.Close)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}

	return bars, nil
}
