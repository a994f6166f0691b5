// Package market is the multi-market dispatcher: a command-queue
// single-writer executor where one goroutine per market drains that
// market's command channel. The channel is the serialization boundary
// that lets internal/book run without locks.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/book"
	"github.com/pouladzade/bitrade/internal/matching"
	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/settlement"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/wallet"
)

// ErrMarketNotRunning rejects commands for a market whose worker is
// stopped. Distinct from matching.ErrMarketNotActive: a market can be
// ACTIVE in the store while its worker is not yet started.
var ErrMarketNotRunning = errors.New("market: not running")

// commandQueueSize bounds each market's inbox. A full queue blocks the
// submitter rather than dropping commands, preserving arrival order.
const commandQueueSize = 1024

// DepthSink receives a depth snapshot after every book-mutating command.
// internal/stream's Hub implements it; nil disables publishing.
type DepthSink interface {
	PublishDepth(marketID string, bids, asks map[string]money.Decimal)
}

type handle struct {
	mkt    *store.Market
	book   *book.Book
	kernel *matching.Kernel

	commands chan func()
	quit     chan struct{}
	done     chan struct{}
	running  bool
}

// Manager routes commands to per-market workers and owns their
// lifecycle (create / start / stop / recover). Query-path reads bypass
// the queues and hit the store directly.
type Manager struct {
	mu      sync.RWMutex
	handles map[string]*handle

	store store.Writer
	pub   settlement.Publisher
	depth DepthSink
}

func NewManager(s store.Writer, pub settlement.Publisher, depth DepthSink) *Manager {
	return &Manager{
		handles: map[string]*handle{},
		store:   s,
		pub:     pub,
		depth:   depth,
	}
}

// CreateMarket inserts the market row and registers a handle whose
// worker is not yet started.
func (m *Manager) CreateMarket(ctx context.Context, mkt *store.Market) error {
	if mkt.ID == "" || mkt.BaseAsset == "" || mkt.QuoteAsset == "" {
		return fmt.Errorf("market: invalid argument: id and assets are required")
	}
	now := money.NowMillis()
	mkt.CreateTime, mkt.UpdateTime = now, now
	if mkt.Status == "" {
		mkt.Status = store.MarketActive
	}
	if err := m.store.CreateMarket(ctx, mkt); err != nil {
		return err
	}

	m.mu.Lock()
	m.handles[mkt.ID] = m.newHandle(mkt)
	m.mu.Unlock()

	log.Info().Str("market_id", mkt.ID).Str("base", mkt.BaseAsset).Str("quote", mkt.QuoteAsset).Msg("market: created")
	return nil
}

func (m *Manager) newHandle(mkt *store.Market) *handle {
	b := book.New(mkt.ID)
	return &handle{
		mkt:    mkt,
		book:   b,
		kernel: matching.New(b, m.store, settlement.New(m.store, m.pub)),
	}
}

// Bootstrap registers a handle for every persisted market and starts the
// workers of the ACTIVE ones, recovering their books from the store. Run
// once at process start, before the RPC surface accepts commands.
func (m *Manager) Bootstrap(ctx context.Context) error {
	opts := store.ListOptions{Limit: store.MaxLimit, OrderBy: "create_time", OrderDirection: "asc"}
	for {
		page, err := m.store.ListMarkets(ctx, opts)
		if err != nil {
			return fmt.Errorf("market: bootstrap: %w", err)
		}
		for i := range page.Items {
			mkt := page.Items[i]
			m.mu.Lock()
			m.handles[mkt.ID] = m.newHandle(&mkt)
			m.mu.Unlock()
			if mkt.Status == store.MarketActive {
				if err := m.StartMarket(ctx, mkt.ID); err != nil {
					return fmt.Errorf("market: bootstrap start %s: %w", mkt.ID, err)
				}
			}
		}
		if !page.HasMore {
			break
		}
		opts.Offset = page.NextOffset
	}
	return nil
}

// StartMarket flips the market ACTIVE, rebuilds its book from durable
// state, force-cancels any MARKET order found
// resting, and begins the worker goroutine.
func (m *Manager) StartMarket(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[id]
	if !ok {
		return fmt.Errorf("market: %s: %w", id, store.ErrNotFound)
	}
	if h.running {
		return nil
	}

	mkt, err := m.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if mkt.Status != store.MarketActive {
		mkt.Status = store.MarketActive
		mkt.UpdateTime = money.NowMillis()
		if err := m.store.UpdateMarket(ctx, mkt); err != nil {
			return err
		}
	}

	b, stale, err := book.Recover(ctx, id, m.store)
	if err != nil {
		return err
	}
	h.mkt = mkt
	h.book = b
	h.kernel = matching.New(b, m.store, settlement.New(m.store, m.pub))

	for _, o := range stale {
		if err := h.kernel.Cancel(ctx, o.ID, mkt); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Msg("market: recovery cancel of resting MARKET order failed")
		} else {
			log.Warn().Str("order_id", o.ID).Msg("market: canceled MARKET order found resting during recovery")
		}
	}

	h.commands = make(chan func(), commandQueueSize)
	h.quit = make(chan struct{})
	h.done = make(chan struct{})
	h.running = true
	go h.loop()

	bids, asks := b.Size()
	log.Info().Str("market_id", id).Int("bids", bids).Int("asks", asks).Msg("market: started")
	return nil
}

// StopMarket flips the market CLOSED, drains the command queue, and stops
// the worker. The book stays resident; new commands are rejected until
// StartMarket runs again.
func (m *Manager) StopMarket(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("market: %s: %w", id, store.ErrNotFound)
	}
	if !h.running {
		m.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.quit)
	m.mu.Unlock()

	<-h.done

	mkt, err := m.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	mkt.Status = store.MarketClosed
	mkt.UpdateTime = money.NowMillis()
	if err := m.store.UpdateMarket(ctx, mkt); err != nil {
		return err
	}
	h.mkt = mkt

	log.Info().Str("market_id", id).Msg("market: stopped")
	return nil
}

// Shutdown stops every running worker without flipping market statuses;
// used on process exit so a restart recovers the same ACTIVE set.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var stopping []*handle
	for _, h := range m.handles {
		if h.running {
			h.running = false
			close(h.quit)
			stopping = append(stopping, h)
		}
	}
	m.mu.Unlock()
	for _, h := range stopping {
		<-h.done
	}
}

// loop is the single writer for one market: commands execute strictly in
// arrival order. On quit it drains what is already queued before exiting,
// so StopMarket never abandons an accepted command.
func (h *handle) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for {
				select {
				case fn := <-h.commands:
					fn()
				default:
					return
				}
			}
		case fn := <-h.commands:
			fn()
		}
	}
}

func (m *Manager) runningHandle(marketID string) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[marketID]
	if !ok {
		return nil, fmt.Errorf("market: %s: %w", marketID, store.ErrNotFound)
	}
	if !h.running {
		return nil, fmt.Errorf("market: %s: %w", marketID, ErrMarketNotRunning)
	}
	return h, nil
}

// enqueue submits fn to h's worker and waits for it to run. The reply is
// delivered through done; a worker shutdown after acceptance still
// executes fn (the loop drains), so waiting on done is safe.
func (m *Manager) enqueue(ctx context.Context, h *handle, fn func()) error {
	wrapped := make(chan struct{})
	select {
	case h.commands <- func() { fn(); close(wrapped) }:
	case <-h.done:
		return ErrMarketNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-wrapped:
		return nil
	case <-h.done:
		// The worker exited after accepting but before running fn; the
		// drain in loop() makes this window tiny but not impossible.
		select {
		case <-wrapped:
			return nil
		default:
			return ErrMarketNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitOrder routes an AddOrder command to the market's worker
// and returns the trades executed plus the resting order id, if any.
func (m *Manager) SubmitOrder(ctx context.Context, o *store.Order) ([]*store.Trade, string, error) {
	h, err := m.runningHandle(o.MarketID)
	if err != nil {
		return nil, "", err
	}

	var (
		trades    []*store.Trade
		restingID string
		cmdErr    error
	)
	if err := m.enqueue(ctx, h, func() {
		trades, restingID, cmdErr = h.kernel.Submit(ctx, o, h.mkt)
		m.publishDepth(h)
	}); err != nil {
		return nil, "", err
	}
	return trades, restingID, cmdErr
}

// CancelOrder routes a cancel to the market's worker.
func (m *Manager) CancelOrder(ctx context.Context, marketID, orderID string) error {
	h, err := m.runningHandle(marketID)
	if err != nil {
		return err
	}
	var cmdErr error
	if err := m.enqueue(ctx, h, func() {
		cmdErr = h.kernel.Cancel(ctx, orderID, h.mkt)
		m.publishDepth(h)
	}); err != nil {
		return err
	}
	return cmdErr
}

// CancelAllOrders cancels every resting order on the market as one queued
// command, so no new submission interleaves with the sweep.
func (m *Manager) CancelAllOrders(ctx context.Context, marketID string) error {
	h, err := m.runningHandle(marketID)
	if err != nil {
		return err
	}
	var cmdErr error
	if err := m.enqueue(ctx, h, func() {
		for _, o := range h.book.Resting() {
			if err := h.kernel.Cancel(ctx, o.ID, h.mkt); err != nil {
				cmdErr = err
				return
			}
		}
		m.publishDepth(h)
	}); err != nil {
		return err
	}
	return cmdErr
}

func (m *Manager) publishDepth(h *handle) {
	if m.depth == nil {
		return
	}
	m.depth.PublishDepth(h.mkt.ID, h.book.BidDepth(), h.book.AskDepth())
}

// Deposit credits a user's wallet. Wallet
// commands are not market-scoped and bypass the per-market queues; the
// store's row lock serializes them against concurrent settlements.
func (m *Manager) Deposit(ctx context.Context, userID, asset string, amount money.Decimal) (*store.Wallet, error) {
	var out *store.Wallet
	err := m.store.WithTx(ctx, func(tx store.Writer) error {
		w, err := tx.LockWallet(ctx, userID, asset)
		if err != nil {
			return err
		}
		if err := wallet.New(tx).Deposit(ctx, w, amount); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw debits a user's wallet.
func (m *Manager) Withdraw(ctx context.Context, userID, asset string, amount money.Decimal) (*store.Wallet, error) {
	var out *store.Wallet
	err := m.store.WithTx(ctx, func(tx store.Writer) error {
		w, err := tx.LockWallet(ctx, userID, asset)
		if err != nil {
			return err
		}
		if err := wallet.New(tx).Withdraw(ctx, w, amount); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance reads (available, locked) for a user/asset pair. A missing
// wallet reads as zero balances, not an error.
func (m *Manager) GetBalance(ctx context.Context, userID, asset string) (available, locked money.Decimal, err error) {
	w, err := m.store.GetWallet(ctx, userID, asset)
	if errors.Is(err, store.ErrNotFound) {
		return money.Zero, money.Zero, nil
	}
	if err != nil {
		return money.Zero, money.Zero, err
	}
	return w.Available, w.Locked, nil
}
