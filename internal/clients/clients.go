package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient authenticated V5 client for orders, balance and bars.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// PaperClient trades against the in-process paper exchange and reads public Binance bars.
type PaperClient struct {
	binance  *binance.Client
	stateDir string
}

// NewPaperClient creates a paper client keeping its book under stateDir.
func NewPaperClient(stateDir string) *PaperClient {
	return &PaperClient{
		binance:  binance.NewClient("", ""),
		stateDir: stateDir,
	}
}

func (c *PaperClient) Binance() *binance.Client { return c.binance }
func (c *PaperClient) StateDir() string         { return c.stateDir }
