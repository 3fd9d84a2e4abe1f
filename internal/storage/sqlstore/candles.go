package sqlstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// LastCandleTimestamp returns the newest stored bar time, 0 when empty.
func (s *Store) LastCandleTimestamp(ctx context.Context) (int64, error) {
	var ts int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM candles`)
	if err := row.Scan(&ts); err != nil {
		return 0, errors.Wrap(err, "query last candle timestamp")
	}
	return ts, nil
}

// UpsertCandles stores bars, replacing bars with the same timestamp.
func (s *Store) UpsertCandles(ctx context.Context, bars []domain.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin candles tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO candles (timestamp, open, high, low, close)
VALUES (?,?,?,?,?)
ON CONFLICT(timestamp) DO UPDATE SET
  open=excluded.open,
  high=excluded.high,
  low=excluded.low,
  close=excluded.close
`)
	if err != nil {
		return errors.Wrap(err, "prepare candle upsert")
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Timestamp, b.Open.String(), b.High.String(), b.Low.String(), b.Close.String()); err != nil {
			return errors.Wrapf(err, "upsert candle %d", b.Timestamp)
		}
	}

	return errors.Wrap(tx.Commit(), "commit candles tx")
}

// CandlesSince returns up to limit bars with timestamp > since, ascending.
// Bars failing validation abort the load.
func (s *Store) CandlesSince(ctx context.Context, since int64, limit int) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, open, high, low, close
FROM candles
WHERE timestamp > ?
ORDER BY timestamp ASC
LIMIT ?
`, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query candles")
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var (
			b    domain.Bar
			nums [4]string
		)
		if err := rows.Scan(&b.Timestamp, &nums[0], &nums[1], &nums[2], &nums[3]); err != nil {
			return nil, errors.Wrap(err, "scan candle")
		}
		for i, target := range []*decimal.Decimal{&b.Open, &b.High, &b.Low, &b.Close} {
			if *target, err = decimal.NewFromString(nums[i]); err != nil {
				return nil, errors.Wrapf(err, "decode candle %d", b.Timestamp)
			}
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		out = append(out, b)
	}

	return out, rows.Err()
}
