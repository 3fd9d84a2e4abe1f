package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Bar OHLC price bar for a single interval.
type Bar struct {
	// Timestamp bar open time in unix milliseconds.
	Timestamp int64
	// Open is the opening price.
	Open decimal.Decimal
	// High is the highest traded price.
	High decimal.Decimal
	// Low is the lowest traded price.
	Low decimal.Decimal
	// Close is the closing price.
	Close decimal.Decimal
}

// Time returns the bar open time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Validate checks that low <= open, close <= high and that prices are positive.
func (b Bar) Validate() error {
	if b.Timestamp <= 0 {
		return errors.Errorf("bar timestamp must be positive, got %d", b.Timestamp)
	}
	if !b.Low.IsPositive() {
		return errors.Errorf("bar %d: low must be positive, got %s", b.Timestamp, b.Low)
	}
	if b.Low.GreaterThan(b.High) {
		return errors.Errorf("bar %d: low %s is above high %s", b.Timestamp, b.Low, b.High)
	}
	for name, price := range map[string]decimal.Decimal{"open": b.Open, "close": b.Close} {
		if price.LessThan(b.Low) || price.GreaterThan(b.High) {
			return errors.Errorf("bar %d: %s %s is outside [%s, %s]", b.Timestamp, name, price, b.Low, b.High)
		}
	}

	return nil
}

// ValidateSeries checks every bar and the strictly increasing timestamp order.
func ValidateSeries(bars []Bar) error {
	var prev int64
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "bar at index %d", i)
		}
		if i > 0 && b.Timestamp <= prev {
			return errors.Errorf("bar at index %d: timestamp %d is not after %d", i, b.Timestamp, prev)
		}
		prev = b.Timestamp
	}

	return nil
}
