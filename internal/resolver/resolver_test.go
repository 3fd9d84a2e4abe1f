package resolver

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/sizing"
	"github.com/vadiminshakov/gridbot/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bar(ts int64, open, high, low, close string) domain.Bar {
	return domain.Bar{Timestamp: ts, Open: dec(open), High: dec(high), Low: dec(low), Close: dec(close)}
}

// rung at base 100 with 5% padding and 10% stop.
func rung(t *testing.T, ts int64, status domain.DealStatus) domain.Deal {
	t.Helper()
	d, err := domain.NewDeal(ts, dec("100"), domain.Quote{
		Quantity:  dec("1"),
		BuyPrice:  dec("95"),
		SellPrice: dec("105"),
		BuyStop:   dec("90"),
		SellStop:  dec("110"),
	})
	require.NoError(t, err)
	d.Status = status
	return d
}

func newTestResolver(t *testing.T, repo Repository, opts ...Option) *Resolver {
	t.Helper()
	policy, err := sizing.NewPolicy(dec("5"), dec("10"), dec("10"), dec("0.5"), 2)
	require.NoError(t, err)
	accounting, err := NewAccounting(dec("5"), dec("10"), dec("10"), DefaultFeePercent)
	require.NoError(t, err)
	r, err := New(repo, policy, accounting, opts...)
	require.NoError(t, err)
	return r
}

func seed(t *testing.T, store *memory.Store, deals ...domain.Deal) {
	t.Helper()
	ledger := domain.NewLedger(0, dec("1000"))
	for _, d := range deals {
		if d.Status == domain.DealStatusInitial {
			ledger.AwaitedDeals++
		} else {
			ledger.StuckDeals++
		}
	}
	require.NoError(t, store.SaveStep(context.Background(), deals, ledger))
}

func checkCounters(t *testing.T, store *memory.Store) domain.Ledger {
	t.Helper()
	ledger, err := store.LatestLedger(context.Background())
	require.NoError(t, err)
	open, err := store.OpenDeals(context.Background())
	require.NoError(t, err)
	require.NoError(t, ledger.CheckCounters(len(open)))
	return ledger
}

func TestResolver_ThreeBarScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, rung(t, 0, domain.DealStatusInitial))
	r := newTestResolver(t, store)

	// both legs crossed in one bar; a bar reaching exactly 105/95 only touches them
	out, applied, err := r.Step(ctx, bar(1, "100", "105.5", "94.5", "100"))
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, domain.DealStatusProfit, out.Transitions[0].To)
	assert.Equal(t, 1, out.Ledger.AwaitedDeals)
	assert.Equal(t, 0, out.Ledger.StuckDeals)
	assert.Equal(t, int64(1), out.Opened.Timestamp)
	assert.True(t, out.Opened.BasePrice.Equal(dec("100")))
	// 1000 + 100.9928 + 110 available, 1.2109928 * 100 * 1.1 reserved
	assert.True(t, out.Ledger.TradeCapital.Equal(dec("1100.9928")), out.Ledger.TradeCapital.String())
	assert.True(t, out.Opened.Quantity.Equal(dec("1.2109928")), out.Opened.Quantity.String())
	assert.True(t, out.Ledger.AvailableCapital.Equal(dec("1077.783592")), out.Ledger.AvailableCapital.String())
	checkCounters(t, store)

	// low touches the buy stop exactly, buy leg fills
	out, _, err = r.Step(ctx, bar(2, "100", "102", "90", "100"))
	require.NoError(t, err)
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, domain.DealStatusFilledBuy, out.Transitions[0].To)
	assert.Equal(t, 1, out.Ledger.AwaitedDeals)
	assert.Equal(t, 1, out.Ledger.StuckDeals)
	checkCounters(t, store)

	out, _, err = r.Step(ctx, bar(3, "100", "108", "96", "100"))
	require.NoError(t, err)
	require.Len(t, out.Transitions, 2)
	assert.Equal(t, Transition{
		DealTimestamp: 1,
		From:          domain.DealStatusFilledBuy,
		To:            domain.DealStatusProfit,
		Delta:         out.Transitions[0].Delta,
	}, out.Transitions[0])
	assert.Equal(t, domain.DealStatusFilledSell, out.Transitions[1].To)
	assert.Equal(t, 1, out.Ledger.AwaitedDeals)
	assert.Equal(t, 1, out.Ledger.StuckDeals)
	ledger := checkCounters(t, store)
	assert.Equal(t, int64(3), ledger.Timestamp)

	first, ok := store.Deal(0)
	require.True(t, ok)
	assert.Equal(t, domain.DealStatusProfit, first.Status)
	assert.True(t, first.UnfilledAmount.IsZero())
	assert.Len(t, store.Deals(), 4)
}

func TestResolver_StepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, rung(t, 0, domain.DealStatusInitial))
	r := newTestResolver(t, store)

	b := bar(1, "100", "106", "99", "100")
	_, applied, err := r.Step(ctx, b)
	require.NoError(t, err)
	require.True(t, applied)

	ledgerBefore := checkCounters(t, store)
	dealsBefore := store.Deals()

	_, applied, err = r.Step(ctx, b)
	require.NoError(t, err)
	assert.False(t, applied)

	_, applied, err = r.Step(ctx, bar(0, "100", "100", "100", "100"))
	assert.Error(t, err, "zero timestamp is rejected")
	assert.False(t, applied)

	assert.Equal(t, ledgerBefore, checkCounters(t, store))
	assert.Equal(t, dealsBefore, store.Deals())
}

func TestResolver_Rules(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.DealStatus
		bar      domain.Bar
		tieBreak TieBreak
		expected domain.DealStatus
	}{
		{name: "initial untouched", status: domain.DealStatusInitial, bar: bar(1, "100", "104", "96", "100"), expected: domain.DealStatusInitial},
		{name: "first scenario bar high 105 low 95 stays initial", status: domain.DealStatusInitial, bar: bar(1, "100", "105", "95", "100"), expected: domain.DealStatusInitial},
		{name: "first scenario bar high 105 low 95 stays initial conservative", status: domain.DealStatusInitial, bar: bar(1, "100", "105", "95", "100"), tieBreak: TieBreakConservative, expected: domain.DealStatusInitial},
		{name: "initial sell stop wins over everything", status: domain.DealStatusInitial, bar: bar(1, "100", "111", "89", "100"), expected: domain.DealStatusFailSell},
		{name: "initial buy stop", status: domain.DealStatusInitial, bar: bar(1, "100", "106", "89", "100"), expected: domain.DealStatusFailBuy},
		{name: "initial double touch optimistic", status: domain.DealStatusInitial, bar: bar(1, "100", "106", "94", "100"), expected: domain.DealStatusProfit},
		{name: "initial double touch conservative near buy", status: domain.DealStatusInitial, bar: bar(1, "96", "106", "94", "100"), tieBreak: TieBreakConservative, expected: domain.DealStatusFilledBuy},
		{name: "initial double touch conservative near sell", status: domain.DealStatusInitial, bar: bar(1, "104", "106", "94", "100"), tieBreak: TieBreakConservative, expected: domain.DealStatusFilledSell},
		{name: "initial sell leg", status: domain.DealStatusInitial, bar: bar(1, "100", "106", "96", "100"), expected: domain.DealStatusFilledSell},
		{name: "initial buy leg", status: domain.DealStatusInitial, bar: bar(1, "100", "104", "94", "100"), expected: domain.DealStatusFilledBuy},
		{name: "filled buy stop wins", status: domain.DealStatusFilledBuy, bar: bar(1, "100", "106", "89", "100"), expected: domain.DealStatusFailBuy},
		{name: "filled buy profit", status: domain.DealStatusFilledBuy, bar: bar(1, "100", "106", "96", "100"), expected: domain.DealStatusProfit},
		{name: "filled buy ignores sell stop", status: domain.DealStatusFilledBuy, bar: bar(1, "100", "111", "96", "100"), expected: domain.DealStatusProfit},
		{name: "filled buy waits", status: domain.DealStatusFilledBuy, bar: bar(1, "100", "104", "91", "100"), expected: domain.DealStatusFilledBuy},
		{name: "filled sell stop wins", status: domain.DealStatusFilledSell, bar: bar(1, "100", "111", "94", "100"), expected: domain.DealStatusFailSell},
		{name: "filled sell profit", status: domain.DealStatusFilledSell, bar: bar(1, "100", "104", "94", "100"), expected: domain.DealStatusProfit},
		{name: "filled sell waits", status: domain.DealStatusFilledSell, bar: bar(1, "100", "109", "96", "100"), expected: domain.DealStatusFilledSell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.tieBreak != "" {
				opts = append(opts, WithTieBreak(tt.tieBreak))
			}
			r := newTestResolver(t, memory.NewStore(), opts...)

			ledger := domain.NewLedger(0, dec("1000"))
			if tt.status == domain.DealStatusInitial {
				ledger.AwaitedDeals = 1
			} else {
				ledger.StuckDeals = 1
			}

			out, err := r.Resolve(SimulationContext{
				Bar:    tt.bar,
				Ledger: ledger,
				Open:   []domain.Deal{rung(t, 0, tt.status)},
			})
			require.NoError(t, err)

			status := tt.status
			if len(out.Changed) == 1 {
				status = out.Changed[0].Status
			}
			assert.Equal(t, tt.expected, status)
			assert.NoError(t, out.Ledger.CheckCounters(len(out.Open)))
		})
	}
}

func TestResolver_TerminalDealInOpenSet(t *testing.T) {
	r := newTestResolver(t, memory.NewStore())
	ledger := domain.NewLedger(0, dec("1000"))
	ledger.AwaitedDeals = 1

	_, err := r.Resolve(SimulationContext{
		Bar:    bar(1, "100", "101", "99", "100"),
		Ledger: ledger,
		Open:   []domain.Deal{rung(t, 0, domain.DealStatusProfit)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestResolver_CounterMismatch(t *testing.T) {
	r := newTestResolver(t, memory.NewStore())

	_, err := r.Resolve(SimulationContext{
		Bar:    bar(1, "100", "101", "99", "100"),
		Ledger: domain.NewLedger(0, dec("1000")),
		Open:   []domain.Deal{rung(t, 0, domain.DealStatusInitial)},
	})
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestResolver_DealsResolvedInTimestampOrder(t *testing.T) {
	r := newTestResolver(t, memory.NewStore())
	ledger := domain.NewLedger(0, dec("1000"))
	ledger.AwaitedDeals = 2

	out, err := r.Resolve(SimulationContext{
		Bar:    bar(10, "100", "106", "96", "100"),
		Ledger: ledger,
		Open:   []domain.Deal{rung(t, 5, domain.DealStatusInitial), rung(t, 2, domain.DealStatusInitial)},
	})
	require.NoError(t, err)
	require.Len(t, out.Transitions, 2)
	assert.Equal(t, int64(2), out.Transitions[0].DealTimestamp)
	assert.Equal(t, int64(5), out.Transitions[1].DealTimestamp)
	assert.Equal(t, 0, out.Ledger.AwaitedDeals+out.Ledger.StuckDeals-len(out.Open))
}

func TestResolver_SizesFromRestingCounts(t *testing.T) {
	r := newTestResolver(t, memory.NewStore())
	ledger := domain.NewLedger(0, dec("1000"))
	ledger.StuckDeals = 4

	open := []domain.Deal{
		rung(t, 1, domain.DealStatusFilledBuy),
		rung(t, 2, domain.DealStatusFilledBuy),
		rung(t, 3, domain.DealStatusFilledBuy),
		rung(t, 4, domain.DealStatusFilledBuy),
	}
	out, err := r.Resolve(SimulationContext{Bar: bar(10, "100", "101", "99", "100"), Ledger: ledger, Open: open})
	require.NoError(t, err)

	// four resting sells, exponent trunc(4*0.5)=2: 1.0 * 0.9^2
	assert.True(t, out.Opened.Quantity.Equal(dec("0.81")), out.Opened.Quantity.String())
}

func TestResolver_Observer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store)

	var seen []int64
	r := newTestResolver(t, store, WithObserver(func(o Outcome) {
		seen = append(seen, o.Bar.Timestamp)
	}))

	for ts := int64(1); ts <= 3; ts++ {
		_, _, err := r.Step(ctx, bar(ts, "100", "101", "99", "100"))
		require.NoError(t, err)
	}
	_, _, err := r.Step(ctx, bar(2, "100", "101", "99", "100"))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestResolver_NoLedger(t *testing.T) {
	r := newTestResolver(t, memory.NewStore())
	_, _, err := r.Step(context.Background(), bar(1, "100", "101", "99", "100"))
	assert.True(t, errors.Is(err, domain.ErrNoLedger))
}
