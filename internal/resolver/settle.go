package resolver

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// DefaultFeePercent taker fee applied to each leg.
var DefaultFeePercent = decimal.RequireFromString("0.036")

var hundred = decimal.NewFromInt(100)

// Settler turns deal events into ledger deltas.
type Settler interface {
	// Reserve capital locked when the deal opens.
	Reserve(deal domain.Deal) domain.LedgerDelta
	// Profit both legs filled.
	Profit(deal domain.Deal) domain.LedgerDelta
	// Fail a stop was crossed, status is FailBuy or FailSell.
	Fail(deal domain.Deal, status domain.DealStatus) domain.LedgerDelta
}

// Accounting default Settler.
//
// Opening a deal locks amount*(1+stop) of available capital. Profit releases the
// lock and credits amount*(1+profitMul*capital) where profitMul = 2*(padding-fee)/100.
// A failed deal releases the lock minus the loss of exiting at the stop:
// amount*(stop-padding+2*fee)/100.
type Accounting struct {
	capitalMul decimal.Decimal
	stopMul    decimal.Decimal
	profitMul  decimal.Decimal
	lossMul    decimal.Decimal
}

// NewAccounting builds the default settler from percentages.
func NewAccounting(paddingPercent, stopPercent, capitalPercent, feePercent decimal.Decimal) (*Accounting, error) {
	if feePercent.IsNegative() {
		return nil, errors.Errorf("fee percent must not be negative, got %s", feePercent)
	}
	if stopPercent.LessThan(paddingPercent) {
		return nil, errors.Errorf("stop percent %s must not be below padding percent %s", stopPercent, paddingPercent)
	}

	two := decimal.NewFromInt(2)
	return &Accounting{
		capitalMul: capitalPercent.Div(hundred),
		stopMul:    stopPercent.Div(hundred),
		profitMul:  paddingPercent.Sub(feePercent).Div(hundred).Mul(two),
		lossMul:    stopPercent.Sub(paddingPercent).Add(feePercent.Mul(two)).Div(hundred),
	}, nil
}

func (a *Accounting) freed(deal domain.Deal) decimal.Decimal {
	return deal.Amount.Mul(decimal.NewFromInt(1).Add(a.stopMul))
}

func (a *Accounting) Reserve(deal domain.Deal) domain.LedgerDelta {
	return domain.LedgerDelta{AvailableCapital: a.freed(deal).Neg()}
}

func (a *Accounting) Profit(deal domain.Deal) domain.LedgerDelta {
	profit := deal.Amount.Mul(decimal.NewFromInt(1).Add(a.profitMul.Mul(a.capitalMul)))
	return domain.LedgerDelta{
		TradeCapital:     profit,
		AvailableCapital: profit.Add(a.freed(deal)),
	}
}

func (a *Accounting) Fail(deal domain.Deal, _ domain.DealStatus) domain.LedgerDelta {
	loss := deal.Amount.Mul(a.lossMul)
	return domain.LedgerDelta{
		TradeCapital:     loss.Neg(),
		AvailableCapital: a.freed(deal).Sub(loss),
	}
}
