package candles

import (
	"context"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// MaxBatch bars requested per call.
const MaxBatch = 1000

// BybitSource reads linear perpetual klines.
type BybitSource struct {
	client   *bybit.Client
	pair     domain.Pair
	interval bybit.Interval
}

// NewBybitSource creates a Bybit bar source.
func NewBybitSource(client *bybit.Client, pair domain.Pair, interval string) (*BybitSource, error) {
	bybitInterval, err := convertIntervalToBybit(interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", interval)
	}

	return &BybitSource{client: client, pair: pair, interval: bybit.Interval(bybitInterval)}, nil
}

// Fetch returns up to MaxBatch bars starting at since, ascending.
func (s *BybitSource) Fetch(_ context.Context, since int64) ([]domain.Bar, error) {
	start := since
	limit := MaxBatch

	result, err := s.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   bybit.SymbolV5(s.pair.Symbol()),
		Interval: s.interval,
		Start:    &start,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", s.pair.String())
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", s.pair.String())
	}

	list := result.Result.List
	bars := make([]domain.Bar, 0, len(list))
	// Bybit returns the newest bar first
	for i := len(list) - 1; i >= 0; i-- {
		k := list[i]
		ts, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		b, err := parseBar(ts, k.Open, k.High, k.Low, k.Close)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}

	return bars, nil
}
