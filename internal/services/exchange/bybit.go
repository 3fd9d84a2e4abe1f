// Package exchange places grid orders on Bybit or on an in-process paper book.
package exchange

import (
	"context"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// Bybit trades linear perpetuals through the V5 API.
type Bybit struct {
	client        *bybit.Client
	pair          domain.Pair
	priceDecimals int32
	orderDecimals int32
}

// NewBybit creates the Bybit exchange adapter. Prices and quantities are rounded to the given precision.
func NewBybit(client *bybit.Client, pair domain.Pair, priceDecimals, orderDecimals int32) *Bybit {
	return &Bybit{client: client, pair: pair, priceDecimals: priceDecimals, orderDecimals: orderDecimals}
}

func (b *Bybit) symbol() bybit.SymbolV5 {
	return bybit.SymbolV5(b.pair.Symbol())
}

func toBybitSide(side domain.Side) (bybit.Side, error) {
	switch side {
	case domain.SideBuy:
		return bybit.SideBuy, nil
	case domain.SideSell:
		return bybit.SideSell, nil
	default:
		return "", errors.Errorf("unknown order side %q", side)
	}
}

// Place submits a GTC limit order tagged with linkID and returns the exchange order id.
func (b *Bybit) Place(_ context.Context, side domain.Side, price, qty decimal.Decimal, linkID string) (string, error) {
	bybitSide, err := toBybitSide(side)
	if err != nil {
		return "", err
	}

	priceStr := price.Round(b.priceDecimals).String()
	res, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Linear,
		Symbol:      b.symbol(),
		Side:        bybitSide,
		OrderType:   bybit.OrderTypeLimit,
		Qty:         qty.RoundFloor(b.orderDecimals).String(),
		Price:       &priceStr,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s limit order", side)
	}

	return res.Result.OrderID, nil
}

// Cancel cancels a resting order.
func (b *Bybit) Cancel(_ context.Context, orderID string) error {
	_, err := b.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   b.symbol(),
		OrderID:  &orderID,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to cancel order %s", orderID)
	}
	return nil
}

// Liquidate closes qty of the long position at market.
func (b *Bybit) Liquidate(_ context.Context, qty decimal.Decimal) error {
	reduceOnly := true
	_, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:   bybit.CategoryV5Linear,
		Symbol:     b.symbol(),
		Side:       bybit.SideSell,
		OrderType:  bybit.OrderTypeMarket,
		Qty:        qty.RoundFloor(b.orderDecimals).String(),
		ReduceOnly: &reduceOnly,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create liquidation order")
	}
	return nil
}

// ListOpenOrders returns the resting orders of the pair.
func (b *Bybit) ListOpenOrders(_ context.Context) ([]domain.Order, error) {
	symbol := b.symbol()
	res, err := b.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &symbol,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders")
	}

	orders := make([]domain.Order, 0, len(res.Result.List))
	for _, o := range res.Result.List {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse price of order %s", o.OrderID)
		}
		qty, err := decimal.NewFromString(o.Qty)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse qty of order %s", o.OrderID)
		}

		side := domain.SideSell
		if o.Side == bybit.SideBuy {
			side = domain.SideBuy
		}
		orders = append(orders, domain.Order{
			ID:       o.OrderID,
			LinkID:   o.OrderLinkID,
			Side:     side,
			Price:    price,
			Quantity: qty,
		})
	}

	return orders, nil
}

// GetBalance returns the wallet balance of the quote coin.
func (b *Bybit) GetBalance(_ context.Context) (decimal.Decimal, error) {
	res, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to get account balance")
	}
	if len(res.Result.List) == 0 {
		return decimal.Zero, errors.New("no data in balance response")
	}

	for _, coin := range res.Result.List[0].Coin {
		if string(coin.Coin) == b.pair.To {
			balance, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return decimal.Zero, errors.Wrapf(err, "failed to parse %s balance", b.pair.To)
			}
			return balance, nil
		}
	}

	return decimal.Zero, errors.Errorf("no %s balance in wallet", b.pair.To)
}
