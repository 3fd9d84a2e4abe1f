package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/internal/resolver"
)

func TestParseDefaults(t *testing.T) {
	conf, err := ConfigTmp{Pair: "btc_usdt"}.Parse()
	require.NoError(t, err)

	assert.Equal(t, ModeLive, conf.Mode)
	assert.Equal(t, PlatformPaper, conf.Platform)
	assert.Equal(t, "BTC_USDT", conf.Pair.String())
	assert.Equal(t, "1m", conf.Interval)
	assert.Equal(t, 5*time.Second, conf.PollInterval)
	assert.True(t, decimal.NewFromInt(1).Equal(conf.PaddingPercent))
	assert.True(t, decimal.NewFromInt(3).Equal(conf.StopPercent))
	assert.True(t, decimal.NewFromInt(10).Equal(conf.CapitalPercent))
	assert.True(t, resolver.DefaultFeePercent.Equal(conf.FeePercent))
	assert.True(t, decimal.NewFromInt(100).Equal(conf.InitialCapital))
	assert.Equal(t, int32(3), conf.OrderDecimals)
	assert.Equal(t, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), conf.SimulateFrom)
	assert.Equal(t, resolver.TieBreakOptimistic, conf.TieBreak)
	assert.True(t, conf.Shadow)
	assert.Equal(t, "gridbot_btc_usdt.sqlite", conf.DBPath)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		tmp  ConfigTmp
	}{
		{"bad pair", ConfigTmp{Pair: "BTCUSDT"}},
		{"bad mode", ConfigTmp{Pair: "BTC_USDT", Mode: "backtest"}},
		{"bad platform", ConfigTmp{Pair: "BTC_USDT", Platform: "kraken"}},
		{"bad interval", ConfigTmp{Pair: "BTC_USDT", Interval: "5x"}},
		{"bad padding", ConfigTmp{Pair: "BTC_USDT", PaddingStr: "abc"}},
		{"zero padding", ConfigTmp{Pair: "BTC_USDT", PaddingStr: "0"}},
		{"stop below padding", ConfigTmp{Pair: "BTC_USDT", PaddingStr: "2", StopStr: "1"}},
		{"capital out of range", ConfigTmp{Pair: "BTC_USDT", CapitalStr: "100"}},
		{"negative decimals", ConfigTmp{Pair: "BTC_USDT", OrderDecimalsStr: "-1"}},
		{"bad date", ConfigTmp{Pair: "BTC_USDT", SimulateFrom: "06/01/2021"}},
		{"bad tie break", ConfigTmp{Pair: "BTC_USDT", TieBreak: "coin-flip"}},
		{"bad shadow", ConfigTmp{Pair: "BTC_USDT", ShadowStr: "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tmp.Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseBybitRequiresKeysForLive(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := ConfigTmp{Pair: "BTC_USDT", Platform: PlatformBybit}.Parse()
	require.Error(t, err)

	_, err = ConfigTmp{Pair: "BTC_USDT", Platform: PlatformBybit, Mode: ModeSimulate}.Parse()
	require.NoError(t, err)

	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	conf, err := ConfigTmp{Pair: "BTC_USDT", Platform: PlatformBybit}.Parse()
	require.NoError(t, err)
	assert.Equal(t, "key", conf.APIKey)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
- pair: ETH_USDT
  mode: simulate
  interval: 5m
  padding_percent: "0.5"
  stop_percent: "2"
  tie_break: conservative-sequential-check
  shadow: "false"
- pair: BTC_USDT
  mode: collision
  initial_capital: "250"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	configs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, ModeSimulate, configs[0].Mode)
	assert.Equal(t, "5m", configs[0].Interval)
	assert.True(t, decimal.RequireFromString("0.5").Equal(configs[0].PaddingPercent))
	assert.Equal(t, resolver.TieBreakConservative, configs[0].TieBreak)
	assert.False(t, configs[0].Shadow)

	assert.Equal(t, ModeCollision, configs[1].Mode)
	assert.True(t, decimal.NewFromInt(250).Equal(configs[1].InitialCapital))
}

func TestLoadRejectsBrokenEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- pair: ETH_USDT\n- pair: nope\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "config #2")

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}
