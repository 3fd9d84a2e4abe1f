package simulation

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
)

func row(b *strings.Builder, label string, value any) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(fmt.Sprint(value))
	b.WriteString("\n")
}

func formatTS(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
}

// Render formats the replay statistics for the terminal.
func (s Stats) Render() string {
	var b strings.Builder
	row(&b, "Period", fmt.Sprintf("%s .. %s", formatTS(s.FirstBar), formatTS(s.LastBar)))
	row(&b, "Bars", s.Bars)
	row(&b, "Deals opened", s.DealsOpened)
	for _, status := range domain.AllDealStatuses[1:] {
		row(&b, "  -> "+status.String(), s.Transitions[status])
	}
	row(&b, "Open at end", s.End.OpenDeals())
	row(&b, "Peak awaited", s.MaxAwaited)
	row(&b, "Peak stuck", s.MaxStuck)
	row(&b, "Start capital", s.Start.TradeCapital.StringFixed(2))
	row(&b, "Trade capital", s.End.TradeCapital.StringFixed(2))
	row(&b, "Available capital", s.End.AvailableCapital.StringFixed(2))
	row(&b, "Return %", s.ReturnPercent().StringFixed(2))

	return titleStyle.Render("GRID SIMULATION") + "\n" + boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// Render formats the order book replay statistics for the terminal.
func (s CollisionStats) Render() string {
	var b strings.Builder
	row(&b, "Bars", s.Bars)
	row(&b, "Buy fills", s.BuyFills)
	row(&b, "Sell fills", s.SellFills)
	row(&b, "Stale drops", s.StaleDrops)
	row(&b, "Peak resting", s.PeakResting)
	row(&b, "Peak buys", s.PeakBuys)
	row(&b, "Peak sells", s.PeakSells)
	row(&b, "Resting at end", fmt.Sprintf("%d buys / %d sells", s.RestingBuys, s.RestingSells))

	return titleStyle.Render("ORDER BOOK SIMULATION") + "\n" + boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
