package simulation

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
	"github.com/vadiminshakov/gridbot/internal/sizing"
	"github.com/vadiminshakov/gridbot/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bar(ts int64, open, high, low, close string) domain.Bar {
	return domain.Bar{Timestamp: ts, Open: dec(open), High: dec(high), Low: dec(low), Close: dec(close)}
}

func testPolicy(t *testing.T) *sizing.Policy {
	t.Helper()
	p, err := sizing.NewPolicy(dec("10"), dec("20"), dec("10"), dec("0.5"), 3)
	require.NoError(t, err)
	return p
}

func newDriver(t *testing.T, store *memory.Store, bars SliceLoader) *Driver {
	t.Helper()
	return newDriverFrom(t, store, bars, 0)
}

func newDriverFrom(t *testing.T, store *memory.Store, bars SliceLoader, from int64) *Driver {
	t.Helper()
	policy := testPolicy(t)
	accounting, err := resolver.NewAccounting(dec("10"), dec("20"), dec("10"), resolver.DefaultFeePercent)
	require.NoError(t, err)
	r, err := resolver.New(store, policy, accounting)
	require.NoError(t, err)
	return NewDriver(store, bars, r, from, decimal.Zero, nil)
}

func TestDriver_Run(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	// leftovers of a previous run are wiped
	require.NoError(t, store.UpsertLedger(ctx, domain.NewLedger(99_999, dec("1"))))

	bars := SliceLoader{
		bar(1000, "100", "101", "99", "100"),
		bar(2000, "100", "111", "99", "105"),
		bar(3000, "105", "106", "89", "95"),
		bar(4000, "95", "96", "94", "95"),
	}
	stats, err := newDriver(t, store, bars).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Bars)
	assert.Equal(t, 4, stats.DealsOpened)
	assert.Equal(t, int64(1000), stats.FirstBar)
	assert.Equal(t, int64(4000), stats.LastBar)
	assert.Equal(t, int64(999), stats.Start.Timestamp)
	assert.True(t, stats.Start.TradeCapital.Equal(DefaultInitialCapital))

	ledgers := store.Ledgers()
	require.Len(t, ledgers, 5)
	assert.Equal(t, int64(999), ledgers[0].Timestamp)
	assert.Equal(t, stats.End, ledgers[4])

	open, err := store.OpenDeals(ctx)
	require.NoError(t, err)
	assert.NoError(t, stats.End.CheckCounters(len(open)))
	assert.Equal(t, len(store.Deals()), stats.DealsOpened)
	assert.Contains(t, stats.Render(), "GRID SIMULATION")
}

func TestDriver_RunStartsAtStartDate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	bars := SliceLoader{
		bar(1000, "100", "101", "99", "100"),
		bar(2000, "100", "101", "99", "100"),
		bar(3000, "100", "101", "99", "100"),
		bar(4000, "100", "101", "99", "100"),
	}
	// start date at 3000 keeps the bar opening exactly then
	stats, err := newDriverFrom(t, store, bars, 2999).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Bars)
	assert.Equal(t, int64(3000), stats.FirstBar)
	assert.Equal(t, int64(4000), stats.LastBar)
	assert.Equal(t, int64(2999), stats.Start.Timestamp)
	for _, d := range store.Deals() {
		assert.GreaterOrEqual(t, d.Timestamp, int64(3000))
	}
}

func TestDriver_StartDateAfterHistory(t *testing.T) {
	bars := SliceLoader{bar(1000, "100", "101", "99", "100")}
	_, err := newDriverFrom(t, memory.NewStore(), bars, 5000).Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestDriver_EmptyHistory(t *testing.T) {
	_, err := newDriver(t, memory.NewStore(), nil).Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestDriver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bars := SliceLoader{bar(1000, "100", "101", "99", "100")}
	_, err := newDriver(t, memory.NewStore(), bars).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForEachBar_Pages(t *testing.T) {
	var bars SliceLoader
	for ts := int64(1); ts <= 7; ts++ {
		bars = append(bars, bar(ts, "1", "1", "1", "1"))
	}

	var seen []int64
	n, err := forEachBar(context.Background(), bars, 2, 2, func(b domain.Bar) error {
		seen = append(seen, b.Timestamp)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{3, 4, 5, 6, 7}, seen)
}

func TestForEachBar_RejectsInvalidBar(t *testing.T) {
	bars := SliceLoader{bar(1, "1", "1", "1", "1"), bar(2, "5", "4", "3", "4")}
	_, err := forEachBar(context.Background(), bars, 0, 10, func(domain.Bar) error { return nil })
	assert.Error(t, err)
}

func TestCollision_StaleDrop(t *testing.T) {
	c := NewCollision(testPolicy(t), dec("1000"), nil)

	// pair around 50: buy at 45, sell at 55
	c.Step(bar(1, "50", "50", "50", "50"))
	require.Equal(t, 1, c.Stats().RestingBuys)

	// high above twice the buy price drops it even though low crossed it too
	c.Step(bar(2, "100", "110", "40", "100"))

	stats := c.Stats()
	assert.Equal(t, 1, stats.StaleDrops)
	assert.Equal(t, 0, stats.BuyFills)
	assert.Equal(t, 1, stats.SellFills)
	assert.Equal(t, 1, stats.RestingBuys)
	assert.Equal(t, 1, stats.RestingSells)
}

func TestCollision_FillsAndPeaks(t *testing.T) {
	c := NewCollision(testPolicy(t), dec("1000"), nil)

	c.Step(bar(1, "100", "100", "100", "100")) // buy 90, sell 110
	c.Step(bar(2, "100", "100", "100", "100")) // nothing crosses
	c.Step(bar(3, "100", "100", "100", "100"))

	stats := c.Stats()
	assert.Equal(t, 3, stats.PeakBuys)
	assert.Equal(t, 3, stats.PeakSells)
	assert.Equal(t, 6, stats.PeakResting)

	// touching the price exactly does not fill
	c.Step(bar(4, "100", "110", "90", "100"))
	stats = c.Stats()
	assert.Equal(t, 0, stats.SellFills)
	assert.Equal(t, 0, stats.BuyFills)

	c.Step(bar(5, "100", "111", "89", "100"))
	stats = c.Stats()
	assert.Equal(t, 4, stats.SellFills)
	assert.Equal(t, 4, stats.BuyFills)
	assert.Equal(t, 1, stats.RestingBuys)
	assert.Equal(t, 4, stats.PeakBuys)
	assert.Equal(t, 8, stats.PeakResting)
	assert.Contains(t, stats.Render(), "Stale drops")
}

func TestCollision_RunStartsAtStartDate(t *testing.T) {
	bars := SliceLoader{
		bar(1, "100", "100", "100", "100"),
		bar(2, "100", "100", "100", "100"),
		bar(3, "100", "100", "100", "100"),
	}
	c := NewCollision(testPolicy(t), dec("1000"), nil)
	stats, err := c.Run(context.Background(), bars, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Bars)
	assert.Equal(t, 2, stats.RestingBuys)
	_, early := c.buys[1]
	assert.False(t, early)
}

func TestCollision_SizesFromCountsBeforeFills(t *testing.T) {
	c := NewCollision(testPolicy(t), dec("1000"), nil)
	for ts := int64(1); ts <= 4; ts++ {
		c.Step(bar(ts, "100", "100", "100", "100"))
	}

	// four resting per side before this bar, all of them fill
	c.Step(bar(5, "100", "111", "89", "100"))

	// 1000*10%/100 = 1, exponent trunc(4*0.5) = 2 -> 0.81
	order := c.buys[5]
	assert.True(t, order.Quantity.Equal(dec("0.81")), order.Quantity.String())
}
