package order

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

func market() *store.Market {
	return &store.Market{
		ID: "BTC-USD", BaseAsset: "BTC", QuoteAsset: "USD",
		MinBaseAmount: money.MustNew("0.0001"), MinQuoteAmount: money.MustNew("1"),
		PricePrecision: 2, AmountPrecision: 8, Status: store.MarketActive,
	}
}

func TestValidateLimitBuyTolerance(t *testing.T) {
	o := &store.Order{
		OrderType: store.OrderTypeLimit, Side: store.SideBuy,
		Price: money.MustNew("50000"), BaseAmount: money.MustNew("1"),
		QuoteAmount: money.MustNew("50000"),
	}
	require.NoError(t, Validate(o, market()))

	bad := *o
	bad.QuoteAmount = money.MustNew("50001")
	require.Error(t, Validate(&bad, market()))
}

func TestValidateRejectsNonPositiveLimitPrice(t *testing.T) {
	o := &store.Order{OrderType: store.OrderTypeLimit, Side: store.SideSell, Price: money.Zero, BaseAmount: money.MustNew("1")}
	require.Error(t, Validate(o, market()))
}

func TestValidateRejectsMarketFOK(t *testing.T) {
	o := &store.Order{
		OrderType: store.OrderTypeMarket, Side: store.SideBuy,
		QuoteAmount: money.MustNew("1000"), TimeInForce: store.TIFFOK,
	}
	require.Error(t, Validate(o, market()))
}

func TestValidateRejectsBelowMinimum(t *testing.T) {
	o := &store.Order{
		OrderType: store.OrderTypeLimit, Side: store.SideSell,
		Price: money.MustNew("100"), BaseAmount: money.MustNew("0.00001"),
	}
	require.Error(t, Validate(o, market()))
}

func TestNextStatusTransitions(t *testing.T) {
	o := &store.Order{BaseAmount: money.MustNew("1"), RemainedBase: money.MustNew("1"), FilledBase: money.Zero}
	require.Equal(t, store.OrderOpen, NextStatus(o))

	o.FilledBase = money.MustNew("0.5")
	o.RemainedBase = money.MustNew("0.5")
	require.Equal(t, store.OrderPartiallyFilled, NextStatus(o))

	o.FilledBase = money.MustNew("1")
	o.RemainedBase = money.Zero
	require.Equal(t, store.OrderFilled, NextStatus(o))
}

func TestNextStatusMarketBuyGatedByQuote(t *testing.T) {
	o := &store.Order{
		OrderType: store.OrderTypeMarket, Side: store.SideBuy,
		QuoteAmount: money.MustNew("1000"), RemainedQuote: money.MustNew("250"),
		FilledBase: money.MustNew("0.015"),
	}
	require.Equal(t, store.OrderPartiallyFilled, NextStatus(o))

	o.RemainedQuote = money.Zero
	require.Equal(t, store.OrderFilled, NextStatus(o))
}

func TestLockAssetAndAmount(t *testing.T) {
	buy := &store.Order{Side: store.SideBuy, QuoteAmount: money.MustNew("100")}
	require.Equal(t, "USD", LockAsset(buy, market()))
	require.True(t, LockAmount(buy).Eq8(money.MustNew("100")))

	sell := &store.Order{Side: store.SideSell, BaseAmount: money.MustNew("2")}
	require.Equal(t, "BTC", LockAsset(sell, market()))
	require.True(t, LockAmount(sell).Eq8(money.MustNew("2")))
}
