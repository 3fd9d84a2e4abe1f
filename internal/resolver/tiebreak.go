package resolver

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// TieBreak decides what happens when one bar crosses both the buy and the sell price of an Initial deal.
type TieBreak string

const (
	// TieBreakOptimistic settles the deal as Profit within the bar.
	TieBreakOptimistic TieBreak = "optimistic-profit"
	// TieBreakConservative fills only the leg closer to the bar open and leaves the
	// deal stuck, so its exit is checked from the next bar on.
	TieBreakConservative TieBreak = "conservative-sequential-check"
)

// ParseTieBreak parses the configured policy name, empty means optimistic.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakOptimistic:
		return TieBreakOptimistic, nil
	case TieBreakConservative:
		return TieBreakConservative, nil
	default:
		return "", errors.Errorf("unknown tie break policy %q", s)
	}
}

func (t TieBreak) resolve(deal domain.Deal, bar domain.Bar) domain.DealStatus {
	if t != TieBreakConservative {
		return domain.DealStatusProfit
	}

	toBuy := bar.Open.Sub(deal.BuyPrice).Abs()
	toSell := deal.SellPrice.Sub(bar.Open).Abs()
	if toBuy.LessThanOrEqual(toSell) {
		return domain.DealStatusFilledBuy
	}
	return domain.DealStatusFilledSell
}
