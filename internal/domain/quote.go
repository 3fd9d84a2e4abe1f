package domain

import "github.com/shopspring/decimal"

// Quote sized grid rung produced by the sizing policy.
type Quote struct {
	// Quantity base currency size of each leg.
	Quantity decimal.Decimal
	// BuyPrice entry threshold.
	BuyPrice decimal.Decimal
	// SellPrice exit threshold.
	SellPrice decimal.Decimal
	// BuyStop lower risk cutoff.
	BuyStop decimal.Decimal
	// SellStop upper risk cutoff.
	SellStop decimal.Decimal
}
