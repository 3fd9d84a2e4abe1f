package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DealStatus lifecycle state of a grid rung.
type DealStatus string

const (
	// DealStatusInitial neither leg is filled.
	DealStatusInitial DealStatus = "Initial"
	// DealStatusFilledBuy the buy leg is filled, waiting for the sell leg or the buy stop.
	DealStatusFilledBuy DealStatus = "FilledBuy"
	// DealStatusFilledSell the sell leg is filled, waiting for the buy leg or the sell stop.
	DealStatusFilledSell DealStatus = "FilledSell"
	// DealStatusProfit both legs are filled.
	DealStatusProfit DealStatus = "Profit"
	// DealStatusFailBuy the buy stop was crossed.
	DealStatusFailBuy DealStatus = "FailBuy"
	// DealStatusFailSell the sell stop was crossed.
	DealStatusFailSell DealStatus = "FailSell"
)

// AllDealStatuses lists statuses in lifecycle order.
var AllDealStatuses = []DealStatus{
	DealStatusInitial,
	DealStatusFilledBuy,
	DealStatusFilledSell,
	DealStatusProfit,
	DealStatusFailBuy,
	DealStatusFailSell,
}

// OpenDealStatuses lists the non-terminal statuses.
var OpenDealStatuses = []DealStatus{
	DealStatusInitial,
	DealStatusFilledBuy,
	DealStatusFilledSell,
}

// ParseDealStatus converts a stored status name back to DealStatus.
func ParseDealStatus(s string) (DealStatus, error) {
	for _, status := range AllDealStatuses {
		if string(status) == s {
			return status, nil
		}
	}

	return "", errors.Errorf("unknown deal status %q", s)
}

// IsTerminal reports whether the status can no longer change.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case DealStatusProfit, DealStatusFailBuy, DealStatusFailSell:
		return true
	default:
		return false
	}
}

// IsStuck reports whether exactly one leg is filled.
func (s DealStatus) IsStuck() bool {
	return s == DealStatusFilledBuy || s == DealStatusFilledSell
}

func (s DealStatus) String() string {
	return string(s)
}

// Deal one grid rung: a buy/sell bracket with stop thresholds around a base price.
type Deal struct {
	// Timestamp creation bar time in unix milliseconds, identity key.
	Timestamp int64
	// Status current lifecycle state.
	Status DealStatus
	// BuyOrderID exchange id of the buy leg, empty in simulation.
	BuyOrderID string
	// SellOrderID exchange id of the sell leg, empty in simulation.
	SellOrderID string
	// Amount quote notional (Quantity * BasePrice).
	Amount decimal.Decimal
	// Quantity base currency size of each leg.
	Quantity decimal.Decimal
	// UnfilledAmount remaining notional not yet filled.
	UnfilledAmount decimal.Decimal
	// BasePrice anchor price at creation.
	BasePrice decimal.Decimal
	// BuyPrice entry threshold below the base price.
	BuyPrice decimal.Decimal
	// SellPrice exit threshold above the base price.
	SellPrice decimal.Decimal
	// BuyStopPrice risk cutoff below the buy price.
	BuyStopPrice decimal.Decimal
	// SellStopPrice risk cutoff above the sell price.
	SellStopPrice decimal.Decimal
}

// NewDeal builds an Initial deal and checks the price ladder.
func NewDeal(timestamp int64, basePrice decimal.Decimal, q Quote) (Deal, error) {
	amount := q.Quantity.Mul(basePrice)
	d := Deal{
		Timestamp:      timestamp,
		Status:         DealStatusInitial,
		Amount:         amount,
		Quantity:       q.Quantity,
		UnfilledAmount: amount,
		BasePrice:      basePrice,
		BuyPrice:       q.BuyPrice,
		SellPrice:      q.SellPrice,
		BuyStopPrice:   q.BuyStop,
		SellStopPrice:  q.SellStop,
	}
	if err := d.Validate(); err != nil {
		return Deal{}, err
	}

	return d, nil
}

// Validate checks buy_stop <= buy < base < sell <= sell_stop and a positive size.
func (d Deal) Validate() error {
	if !d.Quantity.IsPositive() {
		return errors.Errorf("deal %d: quantity must be positive, got %s", d.Timestamp, d.Quantity)
	}
	if d.BuyStopPrice.GreaterThan(d.BuyPrice) ||
		!d.BuyPrice.LessThan(d.BasePrice) ||
		!d.BasePrice.LessThan(d.SellPrice) ||
		d.SellPrice.GreaterThan(d.SellStopPrice) {
		return errors.Errorf("deal %d: price ladder violated: buy_stop=%s buy=%s base=%s sell=%s sell_stop=%s",
			d.Timestamp, d.BuyStopPrice, d.BuyPrice, d.BasePrice, d.SellPrice, d.SellStopPrice)
	}

	return nil
}

// String returns a human-readable string representation.
func (d Deal) String() string {
	return fmt.Sprintf("deal %d %s amount: %s buy: %s sell: %s", d.Timestamp, d.Status, d.Amount, d.BuyPrice, d.SellPrice)
}
