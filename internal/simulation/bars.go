// Package simulation replays stored bars through the resolver and the collision model.
package simulation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

const defaultPageSize = 10_000

// BarLoader pages through stored bars in ascending order.
type BarLoader interface {
	CandlesSince(ctx context.Context, since int64, limit int) ([]domain.Bar, error)
}

// forEachBar feeds every bar after since to fn, page by page.
func forEachBar(ctx context.Context, loader BarLoader, since int64, pageSize int, fn func(domain.Bar) error) (int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	total := 0
	for {
		bars, err := loader.CandlesSince(ctx, since, pageSize)
		if err != nil {
			return total, errors.Wrap(err, "load bars")
		}
		if len(bars) == 0 {
			return total, nil
		}
		if err := domain.ValidateSeries(bars); err != nil {
			return total, err
		}

		for _, b := range bars {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := fn(b); err != nil {
				return total, err
			}
			total++
		}
		since = bars[len(bars)-1].Timestamp

		if len(bars) < pageSize {
			return total, nil
		}
	}
}

// SliceLoader serves bars from memory.
type SliceLoader []domain.Bar

func (s SliceLoader) CandlesSince(_ context.Context, since int64, limit int) ([]domain.Bar, error) {
	out := make([]domain.Bar, 0, limit)
	for _, b := range s {
		if b.Timestamp <= since {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, b)
	}
	return out, nil
}
