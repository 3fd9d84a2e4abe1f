package candles

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/pkg/retrier"
)

const defaultPagePause = 300 * time.Millisecond

// Source fetches bars starting at since (inclusive), ascending. An empty result means caught up.
type Source interface {
	Fetch(ctx context.Context, since int64) ([]domain.Bar, error)
}

// Store local bar cache.
type Store interface {
	LastCandleTimestamp(ctx context.Context) (int64, error)
	UpsertCandles(ctx context.Context, bars []domain.Bar) error
}

// Syncer copies bars from a Source into the local Store.
type Syncer struct {
	source  Source
	store   Store
	retrier *retrier.Retrier
	from    time.Time
	pause   time.Duration
	logger  *zap.Logger
}

// NewSyncer creates a Syncer. An empty store is filled starting at from.
func NewSyncer(source Source, store Store, r *retrier.Retrier, from time.Time, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = retrier.New()
	}

	return &Syncer{
		source:  source,
		store:   store,
		retrier: r,
		from:    from,
		pause:   defaultPagePause,
		logger:  logger,
	}
}

// Sync pages forward from the newest stored bar until the source has nothing newer.
// The newest stored bar is fetched again so a bar that was still forming gets its final values.
func (s *Syncer) Sync(ctx context.Context) (int64, error) {
	last, err := s.store.LastCandleTimestamp(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "read last candle timestamp")
	}

	full := last == 0
	if full {
		last = s.from.UnixMilli()
		s.logger.Info("full candle sync required", zap.Time("from", s.from))
	}

	for {
		since := last - 1
		bars, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) ([]domain.Bar, error) {
			return s.source.Fetch(ctx, since)
		})
		if err != nil {
			return last, errors.Wrap(err, "fetch candles")
		}
		if len(bars) == 0 {
			break
		}
		if err := domain.ValidateSeries(bars); err != nil {
			return last, errors.Wrap(err, "invalid candles from source")
		}

		if err := s.store.UpsertCandles(ctx, bars); err != nil {
			return last, errors.Wrap(err, "store candles")
		}

		newest := bars[len(bars)-1].Timestamp
		if newest == last {
			break
		}
		last = newest

		if full {
			s.logger.Info("candles synced", zap.Time("until", time.UnixMilli(last).UTC()))
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(s.pause):
		}
	}

	s.logger.Debug("candle sync done", zap.Int64("last", last))
	return last, nil
}
