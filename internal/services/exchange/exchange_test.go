package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/storage/paperstate"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bar(ts int64, o, h, l, c string) domain.Bar {
	return domain.Bar{Timestamp: ts, Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c)}
}

func TestPaperPlaceAndMatch(t *testing.T) {
	ctx := context.Background()
	p, err := NewPaper(dec("1000"), nil, nil)
	require.NoError(t, err)

	buyID, err := p.Place(ctx, domain.SideBuy, dec("99"), dec("2"), "b")
	require.NoError(t, err)
	sellID, err := p.Place(ctx, domain.SideSell, dec("101"), dec("1"), "s")
	require.NoError(t, err)

	orders, err := p.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// touching the price is not a fill
	filled := p.Match(bar(1, "100", "101", "99", "100"))
	assert.Empty(t, filled)

	filled = p.Match(bar(2, "100", "100.5", "98", "99"))
	require.Len(t, filled, 1)
	assert.Equal(t, buyID, filled[0].ID)

	balance, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, dec("802").Equal(balance), balance.String())
	assert.True(t, dec("2").Equal(p.Position()))

	filled = p.Match(bar(3, "100", "102", "100", "101"))
	require.Len(t, filled, 1)
	assert.Equal(t, sellID, filled[0].ID)

	balance, _ = p.GetBalance(ctx)
	assert.True(t, dec("903").Equal(balance), balance.String())
	assert.True(t, dec("1").Equal(p.Position()))
}

func TestPaperPlaceRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	p, err := NewPaper(dec("10"), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		side  domain.Side
		price string
		qty   string
	}{
		{"unknown side", domain.Side("Hold"), "1", "1"},
		{"zero price", domain.SideBuy, "0", "1"},
		{"negative qty", domain.SideSell, "1", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Place(ctx, tt.side, dec(tt.price), dec(tt.qty), "")
			assert.Error(t, err)
		})
	}
}

func TestPaperCancelAndLiquidate(t *testing.T) {
	ctx := context.Background()
	p, err := NewPaper(dec("100"), nil, nil)
	require.NoError(t, err)

	require.Error(t, p.Liquidate(ctx, dec("1")), "no price seen yet")

	id, err := p.Place(ctx, domain.SideBuy, dec("10"), dec("1"), "")
	require.NoError(t, err)
	require.NoError(t, p.Cancel(ctx, id))
	assert.Error(t, p.Cancel(ctx, id))

	p.Match(bar(1, "20", "21", "19", "20"))
	require.NoError(t, p.Liquidate(ctx, dec("2")))

	balance, _ := p.GetBalance(ctx)
	assert.True(t, dec("140").Equal(balance), balance.String())
	assert.True(t, dec("-2").Equal(p.Position()))
}

func TestPaperRestoresState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pair := domain.Pair{From: "BTC", To: "USDT"}

	store, err := paperstate.NewStore(dir, pair)
	require.NoError(t, err)
	p, err := NewPaper(dec("500"), store, nil)
	require.NoError(t, err)

	id, err := p.Place(ctx, domain.SideSell, dec("30"), dec("3"), "link")
	require.NoError(t, err)
	p.Match(bar(1, "25", "26", "24", "25"))

	store, err = paperstate.NewStore(dir, pair)
	require.NoError(t, err)
	restored, err := NewPaper(dec("1"), store, nil)
	require.NoError(t, err)

	balance, _ := restored.GetBalance(ctx)
	assert.True(t, dec("500").Equal(balance))
	orders, err := restored.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].ID)
	assert.Equal(t, "link", orders[0].LinkID)
	require.NoError(t, restored.Liquidate(ctx, dec("1")))
}

func TestJournalLifecycle(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	placed, err := j.Prepare(domain.SideBuy, dec("99"), dec("1"), 10)
	require.NoError(t, err)
	failed, err := j.Prepare(domain.SideSell, dec("101"), dec("1"), 10)
	require.NoError(t, err)
	pending, err := j.Prepare(domain.SideBuy, dec("98"), dec("1"), 11)
	require.NoError(t, err)

	require.Len(t, j.Pending(), 3)
	require.NoError(t, j.MarkPlaced(placed, "order-1"))
	require.NoError(t, j.MarkFailed(failed, assert.AnError))

	left := j.Pending()
	require.Len(t, left, 1)
	assert.Equal(t, pending.LinkID, left[0].LinkID)
	require.NoError(t, j.Close())

	reopened, err := OpenJournal(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Intent(placed.LinkID)
	require.True(t, ok)
	assert.Equal(t, IntentPlaced, got.Status)
	assert.Equal(t, "order-1", got.OrderID)

	got, ok = reopened.Intent(failed.LinkID)
	require.True(t, ok)
	assert.Equal(t, IntentFailed, got.Status)
	assert.Equal(t, assert.AnError.Error(), got.Error)

	require.Len(t, reopened.Pending(), 1)
}

func TestJournalReconcile(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	onExchange, err := j.Prepare(domain.SideBuy, dec("99"), dec("1"), 1)
	require.NoError(t, err)
	lost, err := j.Prepare(domain.SideSell, dec("101"), dec("1"), 1)
	require.NoError(t, err)

	placed, failed, err := j.Reconcile([]domain.Order{
		{ID: "x-1", LinkID: onExchange.LinkID, Side: domain.SideBuy},
		{ID: "x-2", Side: domain.SideSell},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, failed)
	assert.Empty(t, j.Pending())

	got, _ := j.Intent(onExchange.LinkID)
	assert.Equal(t, "x-1", got.OrderID)
	got, _ = j.Intent(lost.LinkID)
	assert.Equal(t, IntentFailed, got.Status)
}
