// Package settlement implements the atomic transaction that realizes
// exactly one match between a buyer order and a seller order. It is the
// heart of the engine: every balance transfer, order update, and trade
// insertion the system ever performs flows through Engine.Settle.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/order"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/wallet"
)

// ErrSelfTrade is returned when the buyer and seller resolve to the
// same user id. The check is enforced on every settlement path.
var ErrSelfTrade = fmt.Errorf("settlement: self-trade rejected")

// ErrInsufficientLockedFunds is returned when a locked balance can't cover
// the match.
var ErrInsufficientLockedFunds = fmt.Errorf("settlement: insufficient locked funds")

// Publisher receives a best-effort notification after a trade commits.
// internal/cache and internal/stream both implement this; a nil
// Publisher is valid and simply means no notification fires. Publish
// failures never unwind the transaction.
type Publisher interface {
	PublishTrade(t *store.Trade)
}

// Publishers fans one committed trade out to several Publisher sinks
// (redis pub/sub, websocket hub). Nil members are skipped.
type Publishers []Publisher

func (ps Publishers) PublishTrade(t *store.Trade) {
	for _, p := range ps {
		if p != nil {
			p.PublishTrade(t)
		}
	}
}

// Match is the input to one settlement: the two order/user ids, the trade
// economics already resolved by internal/matching (price, base/quote
// amount) and the fee rates applicable to each side.
type Match struct {
	MarketID   string
	BaseAsset  string
	QuoteAsset string

	IsBuyerTaker bool

	BuyerUserID   string
	BuyerOrderID  string
	SellerUserID  string
	SellerOrderID string

	TradePrice      money.Decimal
	TradeBaseAmount money.Decimal

	BuyerFeeRate  money.Decimal // charged in base_asset
	SellerFeeRate money.Decimal // charged in quote_asset
}

// Engine applies Match values inside store.Writer.WithTx.
type Engine struct {
	store     store.Writer
	publisher Publisher
}

func New(s store.Writer, pub Publisher) *Engine {
	return &Engine{store: s, publisher: pub}
}

// Settle applies one match inside one serializable transaction:
// canonical row locking, sufficiency check, order field recomputation,
// buyer quote residue, wallet deltas, fee treasury credit (the last row
// lock taken, since the treasury row is the hottest row during active
// trading), order persistence on the already-locked order rows, and
// trade insertion of a new row. It either commits entirely or
// returns an error with no partial state visible.
func (e *Engine) Settle(ctx context.Context, m Match) (*store.Trade, error) {
	if m.BuyerUserID == m.SellerUserID {
		return nil, ErrSelfTrade
	}

	tradeQuote := m.TradeBaseAmount.Mul(m.TradePrice).Norm8()
	buyerFee := m.BuyerFeeRate.Mul(m.TradeBaseAmount).Norm8()
	sellerFee := m.SellerFeeRate.Mul(tradeQuote).Norm8()

	var trade *store.Trade
	err := e.store.WithTx(ctx, func(tx store.Writer) error {
		// 1. Lock rows in canonical order to avoid deadlock: seller
		// base wallet, buyer quote wallet, seller order, buyer order,
		// seller quote wallet, buyer base wallet.
		sellerBaseW, err := tx.LockWallet(ctx, m.SellerUserID, m.BaseAsset)
		if err != nil {
			return fmt.Errorf("settlement: lock seller base wallet: %w", err)
		}
		buyerQuoteW, err := tx.LockWallet(ctx, m.BuyerUserID, m.QuoteAsset)
		if err != nil {
			return fmt.Errorf("settlement: lock buyer quote wallet: %w", err)
		}
		sellerOrder, err := tx.LockOrder(ctx, m.SellerOrderID)
		if err != nil {
			return fmt.Errorf("settlement: lock seller order: %w", err)
		}
		buyerOrder, err := tx.LockOrder(ctx, m.BuyerOrderID)
		if err != nil {
			return fmt.Errorf("settlement: lock buyer order: %w", err)
		}
		sellerQuoteW, err := tx.LockWallet(ctx, m.SellerUserID, m.QuoteAsset)
		if err != nil {
			return fmt.Errorf("settlement: lock seller quote wallet: %w", err)
		}
		buyerBaseW, err := tx.LockWallet(ctx, m.BuyerUserID, m.BaseAsset)
		if err != nil {
			return fmt.Errorf("settlement: lock buyer base wallet: %w", err)
		}

		// 2. Verify sufficiency.
		if sellerBaseW.Locked.LessThan(m.TradeBaseAmount) {
			return fmt.Errorf("%w: seller locked %s < trade base %s", ErrInsufficientLockedFunds, sellerBaseW.Locked, m.TradeBaseAmount)
		}
		if buyerQuoteW.Locked.LessThan(tradeQuote) {
			return fmt.Errorf("%w: buyer locked %s < trade quote %s", ErrInsufficientLockedFunds, buyerQuoteW.Locked, tradeQuote)
		}

		if order.IsTerminal(sellerOrder) {
			return fmt.Errorf("settlement: seller order %s already terminal", sellerOrder.ID)
		}
		if order.IsTerminal(buyerOrder) {
			return fmt.Errorf("settlement: buyer order %s already terminal", buyerOrder.ID)
		}

		// 3. Compute new order fields.
		sellerOrder.FilledBase = sellerOrder.FilledBase.Add(m.TradeBaseAmount).Norm8()
		sellerOrder.FilledQuote = sellerOrder.FilledQuote.Add(tradeQuote).Norm8()
		sellerOrder.FilledFee = sellerOrder.FilledFee.Add(sellerFee).Norm8()
		sellerOrder.RemainedBase = sellerOrder.RemainedBase.Sub(m.TradeBaseAmount).Norm8()
		sellerOrder.Status = order.NextStatus(sellerOrder)

		buyerOrder.FilledBase = buyerOrder.FilledBase.Add(m.TradeBaseAmount).Norm8()
		buyerOrder.FilledQuote = buyerOrder.FilledQuote.Add(tradeQuote).Norm8()
		buyerOrder.FilledFee = buyerOrder.FilledFee.Add(buyerFee).Norm8()
		if !order.IsMarketBuy(buyerOrder) {
			// A MARKET BUY carries no base budget; only its quote
			// residual shrinks.
			buyerOrder.RemainedBase = buyerOrder.RemainedBase.Sub(m.TradeBaseAmount).Norm8()
		}
		buyerOrder.RemainedQuote = buyerOrder.RemainedQuote.Sub(tradeQuote).Norm8()
		buyerOrder.Status = order.NextStatus(buyerOrder)

		// 4. Buyer's quote residue: a LIMIT BUY that becomes FILLED
		// but still carries remained_quote > 0 was budgeted at a worse
		// price than it matched at; the difference flows back from
		// locked to available.
		residue := money.Zero
		if buyerOrder.Status == store.OrderFilled && buyerOrder.RemainedQuote.IsPositive() {
			residue = buyerOrder.RemainedQuote
			buyerOrder.RemainedQuote = money.Zero
		}

		// 5. Apply wallet deltas.
		led := wallet.New(tx)
		if err := led.SettleDebitLocked(ctx, sellerBaseW, m.TradeBaseAmount); err != nil {
			return err
		}
		if err := led.SettleDebitLocked(ctx, buyerQuoteW, tradeQuote.Add(residue)); err != nil {
			return err
		}
		if residue.IsPositive() {
			if err := led.SettleCreditAvailable(ctx, buyerQuoteW, residue); err != nil {
				return err
			}
		}
		sellerQuoteNet := tradeQuote.Sub(sellerFee)
		if err := led.SettleCreditAvailable(ctx, sellerQuoteW, sellerQuoteNet); err != nil {
			return err
		}
		buyerBaseNet := m.TradeBaseAmount.Sub(buyerFee)
		if err := led.SettleCreditAvailable(ctx, buyerBaseW, buyerBaseNet); err != nil {
			return err
		}

		// 6. Credit fee treasury: the last row lock taken. The order
		// rows written in step 7 were locked in step 1 and the trade
		// row is new.
		if err := creditTreasury(ctx, tx, m.MarketID, m.QuoteAsset, sellerFee); err != nil {
			return err
		}
		if err := creditTreasury(ctx, tx, m.MarketID, m.BaseAsset, buyerFee); err != nil {
			return err
		}

		// 7. Persist order updates and insert the trade row.
		sellerOrder.UpdateTime = money.NowMillis()
		buyerOrder.UpdateTime = money.NowMillis()
		if err := tx.UpdateOrder(ctx, sellerOrder); err != nil {
			return fmt.Errorf("settlement: update seller order: %w", err)
		}
		if err := tx.UpdateOrder(ctx, buyerOrder); err != nil {
			return fmt.Errorf("settlement: update buyer order: %w", err)
		}

		takerSide := store.SideSell
		if m.IsBuyerTaker {
			takerSide = store.SideBuy
		}
		trade = &store.Trade{
			ID:            money.NewID(),
			Timestamp:     money.NowMillis(),
			MarketID:      m.MarketID,
			Price:         m.TradePrice,
			BaseAmount:    m.TradeBaseAmount,
			QuoteAmount:   tradeQuote,
			BuyerUserID:   m.BuyerUserID,
			BuyerOrderID:  m.BuyerOrderID,
			BuyerFee:      buyerFee,
			SellerUserID:  m.SellerUserID,
			SellerOrderID: m.SellerOrderID,
			SellerFee:     sellerFee,
			TakerSide:     takerSide,
		}
		if err := tx.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("settlement: insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("market_id", m.MarketID).
		Str("trade_id", trade.ID).
		Str("price", trade.Price.String()).
		Str("base_amount", trade.BaseAmount.String()).
		Msg("settlement: trade committed")

	if e.publisher != nil {
		e.publisher.PublishTrade(trade)
	}

	e.refreshStats(ctx, trade)

	return trade, nil
}

// refreshStats recomputes the market's rolling 24h stats from the trade
// log after a commit. It is a best-effort side effect: a failure is
// logged and never unwinds the already-committed settlement. Recomputing
// the full window from the log keeps the derivation idempotent: a crash
// between commit and refresh loses nothing that the next trade won't
// restore.
func (e *Engine) refreshStats(ctx context.Context, t *store.Trade) {
	now := money.NowMillis()
	from := now - 24*60*60*1000

	var (
		high, low, volume money.Decimal
		openPrice         money.Decimal
		lastPrice         money.Decimal
		seen              bool
	)
	opts := store.ListOptions{Limit: 100, OrderBy: "timestamp", OrderDirection: "asc"}
	for {
		page, err := e.store.ListTrades(ctx, store.TradeFilter{MarketID: t.MarketID, FromTS: from}, opts)
		if err != nil {
			log.Warn().Err(err).Str("market_id", t.MarketID).Msg("settlement: 24h stat refresh failed")
			return
		}
		for _, tr := range page.Items {
			if !seen {
				high, low, openPrice = tr.Price, tr.Price, tr.Price
				seen = true
			}
			if tr.Price.GreaterThan(high) {
				high = tr.Price
			}
			if tr.Price.LessThan(low) {
				low = tr.Price
			}
			volume = volume.Add(tr.BaseAmount)
			lastPrice = tr.Price
		}
		if !page.HasMore {
			break
		}
		opts.Offset = page.NextOffset
	}
	if !seen {
		return
	}

	change := money.Zero
	if openPrice.IsPositive() {
		change = lastPrice.Sub(openPrice).Div(openPrice).Mul(money.FromInt(100)).Norm8()
	}
	stat := &store.MarketStat{
		MarketID:       t.MarketID,
		High24h:        high,
		Low24h:         low,
		Volume24h:      volume.Norm8(),
		PriceChangePct: change,
		LastPrice:      lastPrice,
		LastUpdateTime: now,
	}
	if err := e.store.UpsertMarketStat(ctx, stat); err != nil {
		log.Warn().Err(err).Str("market_id", t.MarketID).Msg("settlement: 24h stat upsert failed")
	}
}

func creditTreasury(ctx context.Context, tx store.Writer, marketID, asset string, amount money.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	f, err := tx.GetFeeTreasury(ctx, marketID, asset)
	if errors.Is(err, store.ErrNotFound) {
		f = &store.FeeTreasury{MarketID: marketID, Asset: asset, CollectedAmount: money.Zero}
	} else if err != nil {
		return fmt.Errorf("settlement: get fee treasury: %w", err)
	}
	f.CollectedAmount = f.CollectedAmount.Add(amount).Norm8()
	f.LastUpdateTime = money.NowMillis()
	return tx.UpsertFeeTreasury(ctx, f)
}
