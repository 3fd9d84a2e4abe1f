// Package candles fetches price bars from exchanges and keeps the local bar cache in sync.
package candles

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// convertIntervalToBybit converts standard interval format to Bybit format.
// Standard format: "1m", "5m", "15m", "1h", "4h", "1d", etc.
// Bybit format: "1", "5", "15", "60", "240", "D", etc.
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return strconv.Itoa(n), nil
	case 'h':
		return strconv.Itoa(n * 60), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// IntervalDuration converts "1m", "4h", "1d", "1w" into a duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval number: %s", interval)
	}

	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", interval)
	}
}

// parseTimestamp converts a millisecond timestamp string.
func parseTimestamp(ts string) (int64, error) {
	if ts == "" {
		return 0, errors.New("empty timestamp")
	}

	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return msec, nil
}

// parseBar builds a validated bar from exchange string fields.
func parseBar(ts int64, open, high, low, close string) (domain.Bar, error) {
	b := domain.Bar{Timestamp: ts}
	fields := []struct {
		name   string
		raw    string
		target *decimal.Decimal
	}{
		{"open", open, &b.Open},
		{"high", high, &b.High},
		{"low", low, &b.Low},
		{"close", close, &b.Close},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Bar{}, errors.Wrapf(err, "failed to parse %s price of bar %d", f.name, ts)
		}
		*f.target = v
	}

	if err := b.Validate(); err != nil {
		return domain.Bar{}, err
	}

	return b, nil
}
