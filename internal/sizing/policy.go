// Package sizing computes grid rung prices and quantities.
package sizing

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Policy sizes new grid rungs. The zero value is not usable, build it with NewPolicy.
type Policy struct {
	paddingPercent decimal.Decimal
	stopPercent    decimal.Decimal
	capitalPercent decimal.Decimal
	riskDeduction  decimal.Decimal
	minOrderSize   decimal.Decimal
}

// NewPolicy validates the percentages and returns a Policy.
func NewPolicy(paddingPercent, stopPercent, capitalPercent, riskDeduction decimal.Decimal, orderDecimals int32) (*Policy, error) {
	if !paddingPercent.IsPositive() {
		return nil, errors.Errorf("padding percent must be positive, got %s", paddingPercent)
	}
	if stopPercent.LessThan(paddingPercent) {
		return nil, errors.Errorf("stop percent %s must not be below padding percent %s", stopPercent, paddingPercent)
	}
	if stopPercent.GreaterThanOrEqual(hundred) {
		return nil, errors.Errorf("stop percent must be below 100, got %s", stopPercent)
	}
	if !capitalPercent.IsPositive() || capitalPercent.GreaterThanOrEqual(hundred) {
		return nil, errors.Errorf("capital percent must be in (0, 100), got %s", capitalPercent)
	}
	if riskDeduction.IsNegative() {
		return nil, errors.Errorf("risk deduction must not be negative, got %s", riskDeduction)
	}
	if orderDecimals < 0 {
		return nil, errors.Errorf("order decimals must not be negative, got %d", orderDecimals)
	}

	return &Policy{
		paddingPercent: paddingPercent,
		stopPercent:    stopPercent,
		capitalPercent: capitalPercent,
		riskDeduction:  riskDeduction,
		minOrderSize:   MinOrderSize(orderDecimals),
	}, nil
}

// MinOrderSize smallest tradable increment for the given precision.
func MinOrderSize(orderDecimals int32) decimal.Decimal {
	return decimal.New(1, -orderDecimals)
}

// Size computes the rung around basePrice. Size shrinks geometrically with the
// number of resting orders on the busier side and never drops below the minimum order size.
// The caller guarantees basePrice > 0.
func (p *Policy) Size(balance, basePrice decimal.Decimal, restingBuy, restingSell int) domain.Quote {
	padding := basePrice.Mul(p.paddingPercent).Div(hundred)
	stop := basePrice.Mul(p.stopPercent).Div(hundred)

	baseAmount := balance.Mul(p.capitalPercent).Div(hundred).Div(basePrice)

	waited := restingBuy
	if restingSell > waited {
		waited = restingSell
	}
	exponent := DecayExponent(waited, p.riskDeduction)

	decay := decimal.NewFromInt(1).Sub(p.capitalPercent.Div(hundred))
	quantity := baseAmount
	for i := int64(0); i < exponent; i++ {
		quantity = quantity.Mul(decay)
	}

	if quantity.LessThan(p.minOrderSize) {
		quantity = p.minOrderSize
	}

	return domain.Quote{
		Quantity:  quantity,
		BuyPrice:  basePrice.Sub(padding),
		SellPrice: basePrice.Add(padding),
		BuyStop:   basePrice.Sub(stop),
		SellStop:  basePrice.Add(stop),
	}
}

// DecayExponent truncates waited * riskDeduction toward zero.
func DecayExponent(waited int, riskDeduction decimal.Decimal) int64 {
	if waited <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(waited)).Mul(riskDeduction).Truncate(0).IntPart()
}
