package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/gridbot/config"
	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
	"github.com/vadiminshakov/gridbot/internal/services/candles"
)

// GeneratedConfig file the wizard writes.
const GeneratedConfig = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers raw wizard input.
type answers struct {
	mode         string
	platform     string
	pair         string
	interval     string
	pollInterval string
	padding      string
	stop         string
	capital      string
	risk         string
	tieBreak     string
	simulateFrom string
	statusAddr   string
}

func defaultAnswers() answers {
	return answers{
		pair:         "BTC_USDT",
		interval:     "1m",
		pollInterval: "5s",
		padding:      "1",
		stop:         "3",
		capital:      "10",
		risk:         "0.5",
		tieBreak:     string(resolver.TieBreakOptimistic),
		simulateFrom: "2021-06-01",
	}
}

func header(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("GRIDBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes GeneratedConfig.
func RunTUI() error {
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("GRIDBOT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("A ladder of limit orders around the price, set up in a minute.\n"))

	fmt.Println(stepStyle.Render("STEP 1: MODE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What should the bot do?").
				Options(
					huh.NewOption("Trade live", config.ModeLive),
					huh.NewOption("Replay history through the grid", config.ModeSimulate),
					huh.NewOption("Replay history, resting-order capacity view", config.ModeCollision),
				).
				Value(&a.mode),
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Bybit", config.PlatformBybit),
					huh.NewOption("Paper (simulated fills)", config.PlatformPaper),
				).
				Value(&a.platform),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 2: ASSET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. BTC_USDT)").
				Value(&a.pair).
				Validate(validatePair),
			huh.NewInput().
				Title("Bar Interval").
				Description("e.g. 1m, 15m, 1h").
				Value(&a.interval).
				Validate(validateInterval),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 3: GRID")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Padding %").
				Description("Distance of buy and sell orders from the price").
				Value(&a.padding).
				Validate(validatePercent),
			huh.NewInput().
				Title("Stop %").
				Description("Distance of the stops, not below the padding").
				Value(&a.stop).
				Validate(validatePercent),
			huh.NewInput().
				Title("Capital % per deal").
				Value(&a.capital).
				Validate(validatePercent),
			huh.NewInput().
				Title("Risk deduction").
				Description("How fast size shrinks per resting order (e.g. 0.5)").
				Value(&a.risk).
				Validate(validateNonNegative),
			huh.NewSelect[string]().
				Title("Bar touching both orders").
				Options(
					huh.NewOption("Count as profit", string(resolver.TieBreakOptimistic)),
					huh.NewOption("Fill the side nearer to the open only", string(resolver.TieBreakConservative)),
				).
				Value(&a.tieBreak),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 4: TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Poll Interval").
				Description("Duration string (e.g. 5s, 30s, 1m)").
				Value(&a.pollInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("History Start").
				Description("First bar date, YYYY-MM-DD").
				Value(&a.simulateFrom).
				Validate(func(s string) error {
					_, err := time.Parse(time.DateOnly, s)
					return err
				}),
			huh.NewInput().
				Title("Status Server Address").
				Description("Empty disables it (e.g. :8080)").
				Value(&a.statusAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Mode: %s\nPlatform: %s\nPair: %s\nInterval: %s\nPadding/Stop: %s%% / %s%%\nCapital: %s%%\n",
		a.mode, a.platform, a.pair, a.interval, a.padding, a.stop, a.capital,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	data, err := a.yaml()
	if err != nil {
		return err
	}
	if err := os.WriteFile(GeneratedConfig, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", GeneratedConfig)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// yaml renders the answers as a config list, validated by the config parser first.
func (a answers) yaml() ([]byte, error) {
	pollInterval, _ := time.ParseDuration(a.pollInterval)

	cfgTmp := config.ConfigTmp{
		Mode:             a.mode,
		Platform:         a.platform,
		Pair:             strings.ToUpper(a.pair),
		Interval:         a.interval,
		PollInterval:     pollInterval,
		PaddingStr:       a.padding,
		StopStr:          a.stop,
		CapitalStr:       a.capital,
		RiskDeductionStr: a.risk,
		TieBreak:         a.tieBreak,
		SimulateFrom:     a.simulateFrom,
		StatusAddr:       a.statusAddr,
	}
	// API keys come from the environment at start, the rest is checked as a replay
	check := cfgTmp
	if check.Platform == config.PlatformBybit {
		check.Mode = config.ModeSimulate
	}
	if _, err := check.Parse(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal([]config.ConfigTmp{cfgTmp})
	if err != nil {
		return nil, fmt.Errorf("failed to generate yaml: %w", err)
	}
	return data, nil
}

func validatePair(s string) error {
	if s == "" {
		return fmt.Errorf("pair cannot be empty")
	}
	_, err := domain.ParsePair(s)
	return err
}

func validateInterval(s string) error {
	_, err := candles.IntervalDuration(s)
	return err
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}

func validateNonNegative(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
