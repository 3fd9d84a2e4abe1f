package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
	"github.com/vadiminshakov/gridbot/internal/services/candles"
)

const (
	ModeLive      = "live"
	ModeSimulate  = "simulate"
	ModeCollision = "collision"

	PlatformBybit = "bybit"
	PlatformPaper = "paper"
)

const (
	defaultInterval       = "1m"
	defaultPollInterval   = 5 * time.Second
	defaultPadding        = "1"
	defaultStop           = "3"
	defaultCapital        = "10"
	defaultRiskDeduction  = "0.5"
	defaultOrderDecimals  = 3
	defaultPriceDecimals  = 2
	defaultInitialCapital = "100"
	defaultSimulateFrom   = "2021-06-01"
	defaultWALDir         = "./wal"
)

type Config struct {
	Mode           string
	Platform       string
	Pair           domain.Pair
	Interval       string
	PollInterval   time.Duration
	PaddingPercent decimal.Decimal
	StopPercent    decimal.Decimal
	CapitalPercent decimal.Decimal
	RiskDeduction  decimal.Decimal
	FeePercent     decimal.Decimal
	OrderDecimals  int32
	PriceDecimals  int32
	// InitialCapital seeds simulations and funds the paper exchange.
	InitialCapital decimal.Decimal
	SimulateFrom   time.Time
	TieBreak       resolver.TieBreak
	// Shadow replays live bars through the resolver next to real orders.
	Shadow     bool
	DBPath     string
	WALDir     string
	StatusAddr string
	LogLevel   string

	APIKey    string
	APISecret string
}

type ConfigTmp struct {
	Mode              string        `yaml:"mode,omitempty"`
	Platform          string        `yaml:"platform"`
	Pair              string        `yaml:"pair"`
	Interval          string        `yaml:"interval,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	PaddingStr        string        `yaml:"padding_percent,omitempty"`
	StopStr           string        `yaml:"stop_percent,omitempty"`
	CapitalStr        string        `yaml:"capital_percent,omitempty"`
	RiskDeductionStr  string        `yaml:"risk_deduction,omitempty"`
	FeeStr            string        `yaml:"fee_percent,omitempty"`
	OrderDecimalsStr  string        `yaml:"order_decimals,omitempty"`
	PriceDecimalsStr  string        `yaml:"price_decimals,omitempty"`
	InitialCapitalStr string        `yaml:"initial_capital,omitempty"`
	SimulateFrom      string        `yaml:"simulate_from,omitempty"`
	TieBreak          string        `yaml:"tie_break,omitempty"`
	ShadowStr         string        `yaml:"shadow,omitempty"`
	DBPath            string        `yaml:"db_path,omitempty"`
	WALDir            string        `yaml:"wal_dir,omitempty"`
	StatusAddr        string        `yaml:"status_addr,omitempty"`
	LogLevel          string        `yaml:"log_level,omitempty"`
}

// Get reads configs from --config or from CLI flags. setup reports --setup.
// A .env file, when present, is loaded into the environment first.
func Get() (configs []Config, setup bool, _ error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	path := fs.String("config", "", "path to yaml config")
	setupFlag := fs.Bool("setup", false, "run the interactive config wizard")
	tmp := registerFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, false, err
	}
	if *setupFlag {
		return nil, true, nil
	}

	if *path != "" {
		configs, err := Load(*path)
		return configs, false, err
	}

	c, err := tmp.Parse()
	if err != nil {
		return nil, false, err
	}
	return []Config{c}, false, nil
}

func registerFlags(fs *flag.FlagSet) *ConfigTmp {
	c := &ConfigTmp{}
	fs.StringVar(&c.Mode, "mode", ModeLive, "live, simulate or collision")
	fs.StringVar(&c.Platform, "platform", PlatformPaper, "bybit or paper")
	fs.StringVar(&c.Pair, "pair", "BTC_USDT", "trade pair, example: BTC_USDT")
	fs.StringVar(&c.Interval, "interval", defaultInterval, "bar interval, example: 1m, 1h")
	fs.DurationVar(&c.PollInterval, "pollinterval", defaultPollInterval, "live poll interval")
	fs.StringVar(&c.PaddingStr, "padding", defaultPadding, "distance of buy/sell orders from the base price, percent")
	fs.StringVar(&c.StopStr, "stop", defaultStop, "distance of stops from the base price, percent")
	fs.StringVar(&c.CapitalStr, "capital", defaultCapital, "balance percent backing one deal")
	fs.StringVar(&c.RiskDeductionStr, "riskdeduction", defaultRiskDeduction, "size decay per resting order")
	fs.StringVar(&c.FeeStr, "fee", resolver.DefaultFeePercent.String(), "taker fee per leg, percent")
	fs.StringVar(&c.InitialCapitalStr, "initialcapital", defaultInitialCapital, "simulation and paper starting capital")
	fs.StringVar(&c.SimulateFrom, "simulatefrom", defaultSimulateFrom, "first bar date of the history, YYYY-MM-DD")
	fs.StringVar(&c.TieBreak, "tiebreak", string(resolver.TieBreakOptimistic), "same-bar double touch: optimistic-profit or conservative-sequential-check")
	fs.StringVar(&c.DBPath, "db", "", "sqlite path, default gridbot_<pair>.sqlite")
	fs.StringVar(&c.WALDir, "waldir", defaultWALDir, "directory of the order journal and ledger stream")
	fs.StringVar(&c.StatusAddr, "statusaddr", "", "status server address, example: :8080")
	fs.StringVar(&c.LogLevel, "loglevel", "info", "debug, info, warn or error")
	return c
}

// Load reads a yaml list of configs.
func Load(path string) ([]Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var configsTmp []ConfigTmp
	if err := yaml.Unmarshal(f, &configsTmp); err != nil {
		return nil, err
	}
	if len(configsTmp) == 0 {
		return nil, fmt.Errorf("no configs in %s", path)
	}

	configs := make([]Config, 0, len(configsTmp))
	for i, c := range configsTmp {
		parsed, err := c.Parse()
		if err != nil {
			return nil, fmt.Errorf("config #%d: %w", i+1, err)
		}
		configs = append(configs, parsed)
	}
	return configs, nil
}

// Parse applies defaults and validates. API keys come from the environment.
func (c ConfigTmp) Parse() (Config, error) {
	pair, err := domain.ParsePair(c.Pair)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'pair' param: %s, error: %w", c.Pair, err)
	}

	conf := Config{
		Mode:         orDefault(c.Mode, ModeLive),
		Platform:     orDefault(c.Platform, PlatformPaper),
		Pair:         pair,
		Interval:     orDefault(c.Interval, defaultInterval),
		PollInterval: c.PollInterval,
		DBPath:       c.DBPath,
		WALDir:       orDefault(c.WALDir, defaultWALDir),
		StatusAddr:   c.StatusAddr,
		LogLevel:     orDefault(c.LogLevel, "info"),
		APIKey:       os.Getenv("BYBIT_API_KEY"),
		APISecret:    os.Getenv("BYBIT_API_SECRET"),
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = defaultPollInterval
	}
	if conf.DBPath == "" {
		conf.DBPath = fmt.Sprintf("gridbot_%s.sqlite", strings.ToLower(pair.String()))
	}

	switch conf.Mode {
	case ModeLive, ModeSimulate, ModeCollision:
	default:
		return Config{}, fmt.Errorf("incorrect 'mode' param: %s (live, simulate or collision)", conf.Mode)
	}
	switch conf.Platform {
	case PlatformPaper:
	case PlatformBybit:
		if conf.Mode == ModeLive && (conf.APIKey == "" || conf.APISecret == "") {
			return Config{}, fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
	default:
		return Config{}, fmt.Errorf("incorrect 'platform' param: %s (bybit or paper)", conf.Platform)
	}
	if _, err := candles.IntervalDuration(conf.Interval); err != nil {
		return Config{}, fmt.Errorf("incorrect 'interval' param: %w", err)
	}

	decimals := []struct {
		name   string
		raw    string
		def    string
		target *decimal.Decimal
	}{
		{"padding_percent", c.PaddingStr, defaultPadding, &conf.PaddingPercent},
		{"stop_percent", c.StopStr, defaultStop, &conf.StopPercent},
		{"capital_percent", c.CapitalStr, defaultCapital, &conf.CapitalPercent},
		{"risk_deduction", c.RiskDeductionStr, defaultRiskDeduction, &conf.RiskDeduction},
		{"fee_percent", c.FeeStr, resolver.DefaultFeePercent.String(), &conf.FeePercent},
		{"initial_capital", c.InitialCapitalStr, defaultInitialCapital, &conf.InitialCapital},
	}
	for _, d := range decimals {
		v, err := decimal.NewFromString(orDefault(d.raw, d.def))
		if err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param (must be a decimal), error: %w", d.name, err)
		}
		*d.target = v
	}

	if conf.OrderDecimals, err = parseDecimals("order_decimals", c.OrderDecimalsStr, defaultOrderDecimals); err != nil {
		return Config{}, err
	}
	if conf.PriceDecimals, err = parseDecimals("price_decimals", c.PriceDecimalsStr, defaultPriceDecimals); err != nil {
		return Config{}, err
	}

	if !conf.PaddingPercent.IsPositive() {
		return Config{}, fmt.Errorf("'padding_percent' must be positive")
	}
	if conf.StopPercent.LessThan(conf.PaddingPercent) {
		return Config{}, fmt.Errorf("'stop_percent' must not be below 'padding_percent'")
	}
	if !conf.CapitalPercent.IsPositive() || conf.CapitalPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return Config{}, fmt.Errorf("'capital_percent' must be in (0, 100)")
	}
	if !conf.InitialCapital.IsPositive() {
		return Config{}, fmt.Errorf("'initial_capital' must be positive")
	}

	from, err := time.Parse(time.DateOnly, orDefault(c.SimulateFrom, defaultSimulateFrom))
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'simulate_from' param (YYYY-MM-DD), error: %w", err)
	}
	conf.SimulateFrom = from

	if conf.TieBreak, err = resolver.ParseTieBreak(c.TieBreak); err != nil {
		return Config{}, fmt.Errorf("incorrect 'tie_break' param: %w", err)
	}

	conf.Shadow = true
	if c.ShadowStr != "" {
		if conf.Shadow, err = strconv.ParseBool(c.ShadowStr); err != nil {
			return Config{}, fmt.Errorf("incorrect 'shadow' param (must be a bool), error: %w", err)
		}
	}

	return conf, nil
}

func parseDecimals(name, raw string, def int32) (int32, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("incorrect '%s' param (must be a non-negative integer)", name)
	}
	return int32(n), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
