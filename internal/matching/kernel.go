// Package matching is the per-market matching kernel: best-price peek,
// fill size = min(remaining), pop-if-exhausted, across LIMIT / MARKET /
// FOK order types, with every match settled through internal/settlement
// rather than by mutating in-memory size fields directly.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/book"
	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/order"
	"github.com/pouladzade/bitrade/internal/settlement"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/wallet"
)

var (
	// ErrMarketNotActive rejects commands against a CLOSED market.
	ErrMarketNotActive = errors.New("matching: market is not active")
	// ErrInsufficientFunds is returned when the funds pre-lock on order
	// placement can't be satisfied.
	ErrInsufficientFunds = errors.New("matching: insufficient funds")
	// ErrAlreadyTerminal rejects a cancel against a FILLED/CANCELED/REJECTED
	// order.
	ErrAlreadyTerminal = errors.New("matching: order already terminal")
)

// settleRetries bounds how many settlement attempts one match gets (the
// first try plus retries after a store-level deadlock or serialization
// failure) before the error is surfaced.
const settleRetries = 8

// Kernel matches one market's orders against its Book, settling every
// match through internal/settlement. It is owned by exactly one
// internal/market worker goroutine and therefore needs no
// internal synchronization.
type Kernel struct {
	book   *book.Book
	store  store.Writer
	settle *settlement.Engine
}

func New(b *book.Book, s store.Writer, se *settlement.Engine) *Kernel {
	return &Kernel{book: b, store: s, settle: se}
}

// Submit runs the full order intake path: preconditions, funds pre-lock
// as one transactional unit with order insertion, the FOK dry run, the
// LIMIT/MARKET match loop, and the rest-or-cancel tail.
func (k *Kernel) Submit(ctx context.Context, o *store.Order, mkt *store.Market) ([]*store.Trade, string, error) {
	if mkt.Status != store.MarketActive {
		return nil, "", ErrMarketNotActive
	}
	if err := order.Validate(o, mkt); err != nil {
		return nil, "", err
	}
	order.TruncateToMarket(o, mkt)

	now := money.NowMillis()
	if o.ID == "" {
		o.ID = money.NewID()
	}
	o.CreateTime, o.UpdateTime = now, now
	o.Status = store.OrderOpen
	o.FilledBase, o.FilledQuote, o.FilledFee = money.Zero, money.Zero, money.Zero
	if order.IsMarketBuy(o) {
		o.RemainedBase = money.Zero
	} else {
		o.RemainedBase = o.BaseAmount
	}
	if o.Side == store.SideBuy {
		o.RemainedQuote = o.QuoteAmount
	} else {
		o.RemainedQuote = money.Zero
	}

	lockAsset := order.LockAsset(o, mkt)
	lockAmount := order.LockAmount(o)

	if err := k.preLockAndInsert(ctx, o, lockAsset, lockAmount); err != nil {
		return nil, "", err
	}

	if o.TimeInForce == store.TIFFOK {
		if !k.dryRunFOK(o) {
			if err := k.cancelResidual(ctx, o, mkt); err != nil {
				log.Error().Err(err).Str("order_id", o.ID).Msg("matching: FOK kill cancel failed")
				return nil, "", err
			}
			log.Info().Str("order_id", o.ID).Msg("matching: FOK not fully matched, canceled")
			return nil, "", nil
		}
	}

	trades, taker, err := k.matchLoop(ctx, o, mkt)
	if err != nil {
		if len(trades) == 0 {
			// Self-trade against a resting order of the same user: the
			// resting order stays put. No fill happened yet, so the
			// taker is rejected outright rather than left CANCELED, and
			// its pre-locked funds are returned.
			if errors.Is(err, settlement.ErrSelfTrade) {
				if rerr := k.terminalResidual(ctx, taker, mkt, store.OrderRejected); rerr != nil {
					log.Error().Err(rerr).Str("order_id", o.ID).Msg("matching: self-trade reject failed")
				}
				return nil, "", err
			}
			return nil, "", err
		}
		// A mid-loop error after at least one trade committed surfaces
		// as success with the trades-so-far plus a terminal status on
		// the taker order; a committed trade is never rolled back.
		log.Error().Err(err).Str("order_id", o.ID).Msg("matching: mid-loop error after partial fill, forcing taker terminal")
		if cancelErr := k.terminalResidual(ctx, taker, mkt, store.OrderCanceled); cancelErr != nil {
			log.Error().Err(cancelErr).Str("order_id", o.ID).Msg("matching: post-error cancel failed")
		}
		return trades, "", nil
	}

	remaining := remainingFor(taker)
	if remaining.IsZero8() {
		return trades, "", nil
	}

	switch {
	case taker.OrderType == store.OrderTypeMarket:
		if err := k.cancelResidual(ctx, taker, mkt); err != nil {
			return trades, "", err
		}
		return trades, "", nil
	case taker.TimeInForce == store.TIFIOC, taker.TimeInForce == store.TIFFOK:
		if err := k.cancelResidual(ctx, taker, mkt); err != nil {
			return trades, "", err
		}
		return trades, "", nil
	default: // GTC LIMIT rests in the book.
		if err := k.book.Push(taker); err != nil {
			return trades, "", err
		}
		return trades, taker.ID, nil
	}
}

// preLockAndInsert locks lockAmount of lockAsset in the user's wallet and
// creates the order row as one transactional unit: if the
// lock fails, the transaction rolls back and no order row is ever
// visible.
func (k *Kernel) preLockAndInsert(ctx context.Context, o *store.Order, lockAsset string, lockAmount money.Decimal) error {
	err := k.store.WithTx(ctx, func(tx store.Writer) error {
		w, err := tx.LockWallet(ctx, o.UserID, lockAsset)
		if err != nil {
			return err
		}
		if err := wallet.New(tx).Lock(ctx, w, lockAmount); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return tx.CreateOrder(ctx, o)
	})
	if err != nil {
		return err
	}
	log.Info().Str("order_id", o.ID).Str("user_id", o.UserID).Str("asset", lockAsset).Str("amount", lockAmount.String()).Msg("matching: funds locked, order inserted")
	return nil
}

// matchLoop consumes the opposing side while prices cross. It never
// trusts its own in-memory residual math across a settlement boundary:
// both orders are reloaded from the store after every committed match.
func (k *Kernel) matchLoop(ctx context.Context, taker *store.Order, mkt *store.Market) ([]*store.Trade, *store.Order, error) {
	var trades []*store.Trade

	for remainingFor(taker).IsPositive() {
		oppSide := opposite(taker.Side)
		peeked, ok := k.book.Peek(oppSide)
		if !ok || !compatible(taker, peeked) {
			break
		}
		maker, _ := k.book.Pop(oppSide)

		tradePrice := maker.Price
		tradeBase := computeTradeBase(taker, maker, tradePrice)
		if !tradeBase.IsPositive() {
			k.book.Push(maker)
			break
		}

		isBuyerTaker := taker.Side == store.SideBuy
		buyer, seller := taker, maker
		if !isBuyerTaker {
			buyer, seller = maker, taker
		}

		trade, err := k.settleWithRetry(ctx, settlement.Match{
			MarketID:        mkt.ID,
			BaseAsset:       mkt.BaseAsset,
			QuoteAsset:      mkt.QuoteAsset,
			IsBuyerTaker:    isBuyerTaker,
			BuyerUserID:     buyer.UserID,
			BuyerOrderID:    buyer.ID,
			SellerUserID:    seller.UserID,
			SellerOrderID:   seller.ID,
			TradePrice:      tradePrice,
			TradeBaseAmount: tradeBase,
			BuyerFeeRate:    feeRateFor(buyer, buyer == taker),
			SellerFeeRate:   feeRateFor(seller, seller == taker),
		})
		if err != nil {
			k.book.Push(maker)
			return trades, taker, err
		}
		trades = append(trades, trade)

		reloadedMaker, err := k.store.GetOrder(ctx, maker.ID)
		if err != nil {
			return trades, taker, err
		}
		reloadedTaker, err := k.store.GetOrder(ctx, taker.ID)
		if err != nil {
			return trades, taker, err
		}
		taker = reloadedTaker

		if reloadedMaker.RemainedBase.IsPositive() {
			if err := k.book.Push(reloadedMaker); err != nil {
				return trades, taker, err
			}
		}
	}

	return trades, taker, nil
}

// settleWithRetry re-runs one match after a transient store failure
// (deadlock, serialization conflict), up to settleRetries attempts. Any
// other error, including ErrSelfTrade and invariant violations, surfaces
// immediately.
func (k *Kernel) settleWithRetry(ctx context.Context, m settlement.Match) (*store.Trade, error) {
	var trade *store.Trade
	var err error
	for attempt := 1; attempt <= settleRetries; attempt++ {
		trade, err = k.settle.Settle(ctx, m)
		if err == nil || !errors.Is(err, store.ErrTransient) {
			return trade, err
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("buyer_order_id", m.BuyerOrderID).Str("seller_order_id", m.SellerOrderID).Msg("matching: transient settlement failure, retrying")
	}
	return nil, err
}

// dryRunFOK pops opposing orders and simulates the match against
// in-memory copies only, then pushes everything back unmodified
// regardless of outcome. No settlement call happens here. The shadow
// copy is consumed with the exact quantity math of matchLoop
// (order.Remaining gate, computeTradeBase fill size), so the dry run
// and the real run always agree on whether the taker fills completely.
func (k *Kernel) dryRunFOK(taker *store.Order) bool {
	oppSide := opposite(taker.Side)
	shadow := *taker
	var popped []*store.Order
	filled := false

	for {
		peeked, ok := k.book.Peek(oppSide)
		if !ok || !compatible(&shadow, peeked) {
			break
		}
		maker, _ := k.book.Pop(oppSide)
		popped = append(popped, maker)

		tradeBase := computeTradeBase(&shadow, maker, maker.Price)
		if !tradeBase.IsPositive() {
			break
		}
		if !order.IsMarketBuy(&shadow) {
			shadow.RemainedBase = shadow.RemainedBase.Sub(tradeBase).Norm8()
		}
		if shadow.Side == store.SideBuy {
			shadow.RemainedQuote = shadow.RemainedQuote.Sub(tradeBase.Mul(maker.Price).Norm8()).Norm8()
		}
		if !order.Remaining(&shadow).IsPositive() {
			filled = true
			break
		}
	}

	for _, p := range popped {
		k.book.Push(p)
	}
	return filled
}

// cancelResidual unlocks whatever this order still has locked and marks
// it CANCELED: the common tail for MARKET overflow, IOC/FOK
// kill, and explicit CancelOrder commands.
func (k *Kernel) cancelResidual(ctx context.Context, o *store.Order, mkt *store.Market) error {
	return k.terminalResidual(ctx, o, mkt, store.OrderCanceled)
}

// terminalResidual moves an order to the given terminal status and
// returns its still-locked residual funds to the user's available pool,
// as one transaction.
func (k *Kernel) terminalResidual(ctx context.Context, o *store.Order, mkt *store.Market, status store.OrderStatus) error {
	lockAsset := order.LockAsset(o, mkt)
	unlockAmount := o.RemainedBase
	if o.Side == store.SideBuy {
		unlockAmount = o.RemainedQuote
	}

	return k.store.WithTx(ctx, func(tx store.Writer) error {
		if unlockAmount.IsPositive() {
			w, err := tx.LockWallet(ctx, o.UserID, lockAsset)
			if err != nil {
				return err
			}
			if err := wallet.New(tx).Unlock(ctx, w, unlockAmount); err != nil {
				return err
			}
		}
		o.Status = status
		o.UpdateTime = money.NowMillis()
		return tx.UpdateOrder(ctx, o)
	})
}

// Cancel removes a resting order from the book if present, then cancels
// its residual through the same wallet-unlock path used by
// MARKET/IOC/FOK auto-cancellation.
func (k *Kernel) Cancel(ctx context.Context, orderID string, mkt *store.Market) error {
	o, ok := k.book.Cancel(orderID)
	if !ok {
		stored, err := k.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		o = stored
	}
	if order.IsTerminal(o) {
		return ErrAlreadyTerminal
	}
	return k.cancelResidual(ctx, o, mkt)
}

// remainingFor returns the quantity gating loop continuation:
// remained_base for every order except MARKET BUY, which is gated by
// remained_quote.
func remainingFor(o *store.Order) money.Decimal { return order.Remaining(o) }

func opposite(s store.Side) store.Side {
	if s == store.SideBuy {
		return store.SideSell
	}
	return store.SideBuy
}

// compatible is the per-pair crossing rule: taker BUY crosses an ask at
// or below its limit price (or any price if MARKET); taker SELL crosses
// a bid at or above its limit price (or any price if MARKET).
func compatible(taker, maker *store.Order) bool {
	if taker.Side == store.SideBuy {
		if maker.Side != store.SideSell {
			return false
		}
		return taker.OrderType == store.OrderTypeMarket || !maker.Price.GreaterThan(taker.Price)
	}
	if maker.Side != store.SideBuy {
		return false
	}
	return taker.OrderType == store.OrderTypeMarket || !maker.Price.LessThan(taker.Price)
}

// computeTradeBase returns min(taker.remained_base,
// maker.remained_base), except for a MARKET BUY taker whose cap is
// remained_quote / trade_price instead.
func computeTradeBase(taker, maker *store.Order, tradePrice money.Decimal) money.Decimal {
	if order.IsMarketBuy(taker) {
		cap := taker.RemainedQuote.Div(tradePrice).Norm8()
		return minDecimal(cap, maker.RemainedBase)
	}
	return minDecimal(taker.RemainedBase, maker.RemainedBase).Norm8()
}

func minDecimal(a, b money.Decimal) money.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// feeRateFor returns o's maker or taker fee rate depending on the role
// it plays in this specific match: the taker always pays its taker_fee,
// the maker always pays its maker_fee.
func feeRateFor(o *store.Order, isTaker bool) money.Decimal {
	if isTaker {
		return o.TakerFee
	}
	return o.MakerFee
}
