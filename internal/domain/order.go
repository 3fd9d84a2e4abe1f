package domain

import "github.com/shopspring/decimal"

// Side order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Order resting order as reported by the exchange.
type Order struct {
	ID       string
	LinkID   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}
