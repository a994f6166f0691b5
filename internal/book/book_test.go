package book

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/testsupport"
)

func limitOrder(id string, side store.Side, price, amount string, ts int64) *store.Order {
	return &store.Order{
		ID: id, MarketID: "BTC-USD", OrderType: store.OrderTypeLimit, Side: side,
		Price: money.MustNew(price), BaseAmount: money.MustNew(amount),
		RemainedBase: money.MustNew(amount), Status: store.OrderOpen, CreateTime: ts,
	}
}

func TestBidsDequeueHighestPriceFirst(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("b1", store.SideBuy, "100", "1", 1)))
	require.NoError(t, b.Push(limitOrder("b2", store.SideBuy, "101", "1", 2)))
	require.NoError(t, b.Push(limitOrder("b3", store.SideBuy, "99", "1", 3)))

	top, ok := b.Peek(store.SideBuy)
	require.True(t, ok)
	require.Equal(t, "b2", top.ID)
}

func TestAsksDequeueLowestPriceFirst(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("a1", store.SideSell, "100", "1", 1)))
	require.NoError(t, b.Push(limitOrder("a2", store.SideSell, "98", "1", 2)))
	require.NoError(t, b.Push(limitOrder("a3", store.SideSell, "99", "1", 3)))

	top, ok := b.Peek(store.SideSell)
	require.True(t, ok)
	require.Equal(t, "a2", top.ID)
}

func TestSamePriceTieBreaksOnEarlierCreateTime(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("b1", store.SideBuy, "100", "1", 5)))
	require.NoError(t, b.Push(limitOrder("b2", store.SideBuy, "100", "1", 2)))

	top, ok := b.Pop(store.SideBuy)
	require.True(t, ok)
	require.Equal(t, "b2", top.ID)
}

func TestPopRemovesDepthAndPushRestoresIt(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("b1", store.SideBuy, "100", "1", 1)))
	require.Len(t, b.BidDepth(), 1)

	maker, ok := b.Pop(store.SideBuy)
	require.True(t, ok)
	require.Empty(t, b.BidDepth())

	maker.RemainedBase = money.MustNew("0.4")
	require.NoError(t, b.Push(maker))
	depth := b.BidDepth()
	require.True(t, depth[maker.Price.Norm8().String()].Eq8(money.MustNew("0.4")))
}

func TestCancelRemovesOrderAndDepthLeavesOthersIntact(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("b1", store.SideBuy, "100", "1", 1)))
	require.NoError(t, b.Push(limitOrder("b2", store.SideBuy, "101", "2", 2)))

	removed, ok := b.Cancel("b1")
	require.True(t, ok)
	require.Equal(t, "b1", removed.ID)

	bids, _ := b.Size()
	require.Equal(t, 1, bids)
	top, ok := b.Peek(store.SideBuy)
	require.True(t, ok)
	require.Equal(t, "b2", top.ID)

	_, ok = b.Cancel("b1")
	require.False(t, ok)
}

func TestDepthAggregatesMultipleOrdersAtSamePrice(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Push(limitOrder("a1", store.SideSell, "100", "1", 1)))
	require.NoError(t, b.Push(limitOrder("a2", store.SideSell, "100", "2", 2)))

	depth := b.AskDepth()
	require.True(t, depth[money.MustNew("100").Norm8().String()].Eq8(money.MustNew("3")))
}

func TestRecoverRebuildsPriceTimePriorityAndFlagsStaleMarketOrders(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewMemoryStore()

	require.NoError(t, s.CreateOrder(ctx, limitOrder("b1", store.SideBuy, "100", "1", 1)))
	require.NoError(t, s.CreateOrder(ctx, limitOrder("b2", store.SideBuy, "101", "1", 2)))
	stray := &store.Order{
		ID: "m1", MarketID: "BTC-USD", OrderType: store.OrderTypeMarket, Side: store.SideBuy,
		RemainedBase: money.MustNew("1"), Status: store.OrderOpen, CreateTime: 3,
	}
	require.NoError(t, s.CreateOrder(ctx, stray))

	restored, stale, err := Recover(ctx, "BTC-USD", s)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "m1", stale[0].ID)

	top, ok := restored.Peek(store.SideBuy)
	require.True(t, ok)
	require.Equal(t, "b2", top.ID)
}
