package simulation

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
)

// Stats aggregates a replay.
type Stats struct {
	Bars        int
	DealsOpened int
	// Transitions counts deals reaching each status.
	Transitions map[domain.DealStatus]int
	MaxAwaited  int
	MaxStuck    int
	FirstBar    int64
	LastBar     int64
	Start       domain.Ledger
	End         domain.Ledger
}

// NewStats starts statistics from the seed checkpoint.
func NewStats(seed domain.Ledger) Stats {
	return Stats{
		Transitions: make(map[domain.DealStatus]int),
		Start:       seed,
		End:         seed,
	}
}

// Observe folds one resolved step into the statistics.
func (s *Stats) Observe(out resolver.Outcome) {
	if s.Bars == 0 {
		s.FirstBar = out.Bar.Timestamp
	}
	s.Bars++
	s.LastBar = out.Bar.Timestamp
	s.DealsOpened++

	for _, t := range out.Transitions {
		s.Transitions[t.To]++
	}
	if out.Ledger.AwaitedDeals > s.MaxAwaited {
		s.MaxAwaited = out.Ledger.AwaitedDeals
	}
	if out.Ledger.StuckDeals > s.MaxStuck {
		s.MaxStuck = out.Ledger.StuckDeals
	}
	s.End = out.Ledger
}

// Closed number of deals that reached a terminal status.
func (s Stats) Closed() int {
	return s.Transitions[domain.DealStatusProfit] +
		s.Transitions[domain.DealStatusFailBuy] +
		s.Transitions[domain.DealStatusFailSell]
}

// ReturnPercent trade capital change relative to the start.
func (s Stats) ReturnPercent() decimal.Decimal {
	if s.Start.TradeCapital.IsZero() {
		return decimal.Zero
	}
	return s.End.TradeCapital.Sub(s.Start.TradeCapital).
		Div(s.Start.TradeCapital).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
