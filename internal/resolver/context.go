package resolver

import "github.com/vadiminshakov/gridbot/internal/domain"

// SimulationContext everything a single step reads: the bar, the latest
// checkpoint and the non-terminal deals in ascending timestamp order.
type SimulationContext struct {
	Bar    domain.Bar
	Ledger domain.Ledger
	Open   []domain.Deal
}

// Transition status change of one deal within a step.
type Transition struct {
	DealTimestamp int64
	From          domain.DealStatus
	To            domain.DealStatus
	Delta         domain.LedgerDelta
}

// Outcome result of resolving one bar.
type Outcome struct {
	Bar domain.Bar
	// Ledger checkpoint to persist for the bar.
	Ledger domain.Ledger
	// Changed deals that transitioned during the step.
	Changed []domain.Deal
	// Opened deal created at the bar close.
	Opened domain.Deal
	// Open non-terminal deals after the step, including Opened.
	Open        []domain.Deal
	Transitions []Transition
}

// Writes deals to persist for the step, the new deal last.
func (o Outcome) Writes() []domain.Deal {
	writes := make([]domain.Deal, 0, len(o.Changed)+1)
	writes = append(writes, o.Changed...)
	return append(writes, o.Opened)
}

// Resting counts orders still waiting on each side: Initial deals rest on both
// sides, FilledSell deals still wait for their buy, FilledBuy for their sell.
func Resting(open []domain.Deal) (buy, sell int) {
	for _, d := range open {
		switch d.Status {
		case domain.DealStatusInitial:
			buy++
			sell++
		case domain.DealStatusFilledSell:
			buy++
		case domain.DealStatusFilledBuy:
			sell++
		}
	}
	return buy, sell
}
