package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrInvariantViolation marks state that must stop the process instead of being recovered.
var ErrInvariantViolation = errors.New("invariant violation")

// Ledger capital checkpoint written once per resolved bar.
type Ledger struct {
	// Timestamp bar the checkpoint belongs to, unix milliseconds.
	Timestamp int64
	// TradeCapital realized capital.
	TradeCapital decimal.Decimal
	// AvailableCapital capital free to back new deals.
	AvailableCapital decimal.Decimal
	// AwaitedDeals deals in Initial.
	AwaitedDeals int
	// StuckDeals deals with one leg filled.
	StuckDeals int
}

// NewLedger seeds a ledger with the starting capital.
func NewLedger(timestamp int64, capital decimal.Decimal) Ledger {
	return Ledger{
		Timestamp:        timestamp,
		TradeCapital:     capital,
		AvailableCapital: capital,
	}
}

// LedgerDelta capital change produced by settling a deal.
type LedgerDelta struct {
	TradeCapital     decimal.Decimal
	AvailableCapital decimal.Decimal
}

// Add sums two deltas.
func (d LedgerDelta) Add(other LedgerDelta) LedgerDelta {
	return LedgerDelta{
		TradeCapital:     d.TradeCapital.Add(other.TradeCapital),
		AvailableCapital: d.AvailableCapital.Add(other.AvailableCapital),
	}
}

// Apply returns the ledger with the delta added.
func (l Ledger) Apply(delta LedgerDelta) Ledger {
	l.TradeCapital = l.TradeCapital.Add(delta.TradeCapital)
	l.AvailableCapital = l.AvailableCapital.Add(delta.AvailableCapital)
	return l
}

// OpenDeals number of non-terminal deals the counters account for.
func (l Ledger) OpenDeals() int {
	return l.AwaitedDeals + l.StuckDeals
}

// CheckCounters verifies the counters against the number of open deals.
func (l Ledger) CheckCounters(openDeals int) error {
	if l.AwaitedDeals < 0 || l.StuckDeals < 0 {
		return errors.Wrapf(ErrInvariantViolation, "ledger %d: negative counters awaited=%d stuck=%d",
			l.Timestamp, l.AwaitedDeals, l.StuckDeals)
	}
	if l.OpenDeals() != openDeals {
		return errors.Wrapf(ErrInvariantViolation, "ledger %d: awaited=%d + stuck=%d does not match %d open deals",
			l.Timestamp, l.AwaitedDeals, l.StuckDeals, openDeals)
	}

	return nil
}

// String returns a human-readable string representation.
func (l Ledger) String() string {
	return fmt.Sprintf("ledger %d trade: %s available: %s awaited: %d stuck: %d",
		l.Timestamp, l.TradeCapital, l.AvailableCapital, l.AwaitedDeals, l.StuckDeals)
}

// ErrNoLedger is returned by stores holding no ledger checkpoint yet.
var ErrNoLedger = errors.New("no ledger checkpoint")
