package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pouladzade/bitrade/internal/book"
	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/order"
	"github.com/pouladzade/bitrade/internal/settlement"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/testsupport"
	"github.com/pouladzade/bitrade/internal/wallet"
)

func testMarket() *store.Market {
	return &store.Market{
		ID: "BTC-USD", BaseAsset: "BTC", QuoteAsset: "USD",
		Status:          store.MarketActive,
		MinBaseAmount:   money.Zero,
		MinQuoteAmount:  money.Zero,
		PricePrecision:  8,
		AmountPrecision: 8,
	}
}

func newKernel() (*Kernel, *testsupport.MemoryStore) {
	s := testsupport.NewMemoryStore()
	b := book.New("BTC-USD")
	se := settlement.New(s, nil)
	return New(b, s, se), s
}

func deposit(t *testing.T, ctx context.Context, s *testsupport.MemoryStore, user, asset, amount string) {
	t.Helper()
	w, err := s.LockWallet(ctx, user, asset)
	require.NoError(t, err)
	require.NoError(t, wallet.New(s).Deposit(ctx, w, money.MustNew(amount)))
}

func limitBuy(user, price, base string) *store.Order {
	return &store.Order{
		UserID: user, OrderType: store.OrderTypeLimit, Side: store.SideBuy,
		Price: money.MustNew(price), BaseAmount: money.MustNew(base),
		QuoteAmount: money.MustNew(price).Mul(money.MustNew(base)).Norm8(),
		MakerFee: money.Zero, TakerFee: money.Zero, TimeInForce: store.TIFGTC,
	}
}

func limitSell(user, price, base string) *store.Order {
	return &store.Order{
		UserID: user, OrderType: store.OrderTypeLimit, Side: store.SideSell,
		Price: money.MustNew(price), BaseAmount: money.MustNew(base),
		MakerFee: money.Zero, TakerFee: money.Zero, TimeInForce: store.TIFGTC,
	}
}

// TestFullFillAtMakersPrice is scenario S1.
func TestFullFillAtMakersPrice(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "50000")
	deposit(t, ctx, s, "bob", "BTC", "1")

	buy := limitBuy("alice", "50000", "1")
	_, restID, err := k.Submit(ctx, buy, mkt)
	require.NoError(t, err)
	require.NotEmpty(t, restID)

	sell := limitSell("bob", "50000", "1")
	trades, sellRestID, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)
	require.Empty(t, sellRestID)
	require.Len(t, trades, 1)
	require.True(t, trades[0].BaseAmount.Eq8(money.MustNew("1")))
	require.Equal(t, store.SideSell, trades[0].TakerSide)

	gotBuy, _ := s.GetOrder(ctx, buy.ID)
	gotSell, _ := s.GetOrder(ctx, sell.ID)
	require.Equal(t, store.OrderFilled, gotBuy.Status)
	require.Equal(t, store.OrderFilled, gotSell.Status)

	aliceBTC, _ := s.GetWallet(ctx, "alice", "BTC")
	require.True(t, aliceBTC.Available.Eq8(money.MustNew("1")))
}

// TestPartialFillRestingRemainder is scenario S2.
func TestPartialFillRestingRemainder(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "100000")
	deposit(t, ctx, s, "bob", "BTC", "1")

	buy := limitBuy("alice", "50000", "2")
	_, _, err := k.Submit(ctx, buy, mkt)
	require.NoError(t, err)

	sell := limitSell("bob", "50000", "1")
	trades, sellRestID, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)
	require.Empty(t, sellRestID)
	require.Len(t, trades, 1)
	require.True(t, trades[0].BaseAmount.Eq8(money.MustNew("1")))

	gotBuy, _ := s.GetOrder(ctx, buy.ID)
	require.Equal(t, store.OrderPartiallyFilled, gotBuy.Status)
	require.True(t, gotBuy.RemainedBase.Eq8(money.MustNew("1")))
	require.True(t, gotBuy.RemainedQuote.Eq8(money.MustNew("50000")))

	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Locked.Eq8(money.MustNew("50000")))
	require.True(t, aliceUSD.Available.IsZero8())
}

// TestPriceImprovementForTaker is scenario S3.
func TestPriceImprovementForTaker(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "100000")
	deposit(t, ctx, s, "bob", "BTC", "1")

	sell := limitSell("bob", "40000", "1")
	_, _, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)

	buy := limitBuy("alice", "50000", "1")
	trades, restID, err := k.Submit(ctx, buy, mkt)
	require.NoError(t, err)
	require.Empty(t, restID)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Price.Eq8(money.MustNew("40000")))
	require.Equal(t, store.SideBuy, trades[0].TakerSide)

	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Available.Eq8(money.MustNew("60000")))
	require.True(t, aliceUSD.Locked.IsZero8())
}

// TestMarketBuyBudgetExceedsLiquidity is scenario S4.
func TestMarketBuyBudgetExceedsLiquidity(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "100000")
	deposit(t, ctx, s, "bob", "BTC", "0.5")

	sell := limitSell("bob", "50000", "0.5")
	_, _, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)

	buy := &store.Order{
		UserID: "alice", OrderType: store.OrderTypeMarket, Side: store.SideBuy,
		QuoteAmount: money.MustNew("100000"), MakerFee: money.Zero, TakerFee: money.Zero,
	}
	trades, restID, err := k.Submit(ctx, buy, mkt)
	require.NoError(t, err)
	require.Empty(t, restID)
	require.Len(t, trades, 1)
	require.True(t, trades[0].BaseAmount.Eq8(money.MustNew("0.5")))
	require.True(t, trades[0].QuoteAmount.Eq8(money.MustNew("25000")))

	gotBuy, _ := s.GetOrder(ctx, buy.ID)
	require.Equal(t, store.OrderCanceled, gotBuy.Status)

	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Available.Eq8(money.MustNew("75000")))
	require.True(t, aliceUSD.Locked.IsZero8())
}

// TestFOKInsufficientLiquidityCancelsWithNoTrades is scenario S5.
func TestFOKInsufficientLiquidityCancelsWithNoTrades(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "bob", "BTC", "0.7")
	deposit(t, ctx, s, "alice", "USD", "100000")

	s1 := limitSell("bob", "50000", "0.4")
	_, _, err := k.Submit(ctx, s1, mkt)
	require.NoError(t, err)
	s2 := limitSell("bob", "51000", "0.3")
	_, _, err = k.Submit(ctx, s2, mkt)
	require.NoError(t, err)

	buy := &store.Order{
		UserID: "alice", OrderType: store.OrderTypeLimit, Side: store.SideBuy,
		Price: money.MustNew("51000"), BaseAmount: money.MustNew("1"),
		QuoteAmount: money.MustNew("51000"), MakerFee: money.Zero, TakerFee: money.Zero,
		TimeInForce: store.TIFFOK,
	}
	trades, restID, err := k.Submit(ctx, buy, mkt)
	require.NoError(t, err)
	require.Empty(t, restID)
	require.Empty(t, trades)

	gotBuy, _ := s.GetOrder(ctx, buy.ID)
	require.Equal(t, store.OrderCanceled, gotBuy.Status)

	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Available.Eq8(money.MustNew("100000")))
	require.True(t, aliceUSD.Locked.IsZero8())

	bids, asks := k.book.Size()
	require.Equal(t, 0, bids)
	require.Equal(t, 2, asks)
}

// TestSubmitRejectsMarketFOK: the FOK dry run needs a limit price to
// bound it, so the combination is refused before any funds lock.
func TestSubmitRejectsMarketFOK(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "100000")

	buy := &store.Order{
		UserID: "alice", OrderType: store.OrderTypeMarket, Side: store.SideBuy,
		QuoteAmount: money.MustNew("1000"), MakerFee: money.Zero, TakerFee: money.Zero,
		TimeInForce: store.TIFFOK,
	}
	_, _, err := k.Submit(ctx, buy, mkt)
	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)

	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Locked.IsZero8())
}

// TestDryRunFOKMarketBuyQuoteBudget pins the dry run to the same
// quantity math as the live match loop: a MARKET BUY's fill is capped by
// remained_quote/price, so a budget exceeding the book's liquidity must
// not report fully matched.
func TestDryRunFOKMarketBuyQuoteBudget(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "bob", "BTC", "0.5")

	sell := limitSell("bob", "50000", "0.5")
	_, _, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)

	marketBuy := func(quote string) *store.Order {
		return &store.Order{
			UserID: "alice", OrderType: store.OrderTypeMarket, Side: store.SideBuy,
			RemainedQuote: money.MustNew(quote),
		}
	}

	// 0.5 BTC at 50_000 is 25_000 of quote; a 100_000 budget cannot fill.
	require.False(t, k.dryRunFOK(marketBuy("100000")))
	// A 20_000 budget is fully covered by the resting liquidity.
	require.True(t, k.dryRunFOK(marketBuy("20000")))

	// The dry run leaves the book untouched either way.
	bids, asks := k.book.Size()
	require.Equal(t, 0, bids)
	require.Equal(t, 1, asks)
}

// TestSelfTradeRejectsTaker verifies that a user's own crossing orders
// don't settle against each other: the resting order stays in the book,
// the taker comes back REJECTED with its funds unlocked, and no Trade row
// exists.
func TestSelfTradeRejectsTaker(t *testing.T) {
	ctx := context.Background()
	k, s := newKernel()
	mkt := testMarket()
	deposit(t, ctx, s, "alice", "USD", "50000")
	deposit(t, ctx, s, "alice", "BTC", "1")

	sell := limitSell("alice", "50000", "1")
	_, restID, err := k.Submit(ctx, sell, mkt)
	require.NoError(t, err)
	require.NotEmpty(t, restID)

	buy := limitBuy("alice", "50000", "1")
	trades, restID2, err := k.Submit(ctx, buy, mkt)
	require.ErrorIs(t, err, settlement.ErrSelfTrade)
	require.Empty(t, trades)
	require.Empty(t, restID2)

	gotBuy, _ := s.GetOrder(ctx, buy.ID)
	require.Equal(t, store.OrderRejected, gotBuy.Status)

	// The maker still rests and the taker's quote is fully unlocked.
	bids, asks := k.book.Size()
	require.Equal(t, 0, bids)
	require.Equal(t, 1, asks)
	aliceUSD, _ := s.GetWallet(ctx, "alice", "USD")
	require.True(t, aliceUSD.Available.Eq8(money.MustNew("50000")))
	require.True(t, aliceUSD.Locked.IsZero8())
}
