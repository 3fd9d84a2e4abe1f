package internal

import (
	"testing"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/config"
	"github.com/vadiminshakov/gridbot/internal/clients"
	"github.com/vadiminshakov/gridbot/internal/services/exchange"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	conf, err := config.ConfigTmp{Pair: "BTC_USDT", WALDir: t.TempDir()}.Parse()
	require.NoError(t, err)
	return conf
}

func TestNewTradingBot(t *testing.T) {
	tests := []struct {
		name             string
		client           any
		expectError      bool
		expectedErrorMsg string
	}{
		{
			name:             "Unsupported Client",
			client:           "kraken",
			expectError:      true,
			expectedErrorMsg: "unsupported client type: string",
		},
		{
			name:   "Bybit Client",
			client: &bybit.Client{},
		},
		{
			name:   "Paper Client",
			client: clients.NewPaperClient(t.TempDir()),
		},
		{
			name: "Client From Platform",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, err := NewTradingBot(testConfig(t), tt.client, nil)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErrorMsg)
				assert.Nil(t, bot)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, bot)
			assert.Equal(t, "BTC_USDT", bot.Config.Pair.String())
		})
	}
}

func TestNewTradingBotRejectsSizing(t *testing.T) {
	conf := testConfig(t)
	conf.StopPercent = decimal.NewFromInt(100)

	_, err := NewTradingBot(conf, clients.NewPaperClient(t.TempDir()), nil)
	assert.ErrorContains(t, err, "invalid sizing parameters")
}

func TestServiceProviders(t *testing.T) {
	conf := testConfig(t)

	paper, err := NewServiceProvider(clients.NewPaperClient(t.TempDir()), nil)
	require.NoError(t, err)
	ex, matcher, err := paper.Exchange(conf)
	require.NoError(t, err)
	assert.IsType(t, &exchange.Paper{}, ex)
	assert.NotNil(t, matcher)
	_, err = paper.BarSource(conf)
	require.NoError(t, err)

	by, err := NewServiceProvider(&bybit.Client{}, nil)
	require.NoError(t, err)
	ex, matcher, err = by.Exchange(conf)
	require.NoError(t, err)
	assert.IsType(t, &exchange.Bybit{}, ex)
	assert.Nil(t, matcher)
	_, err = by.BarSource(conf)
	require.NoError(t, err)
}
