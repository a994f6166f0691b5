// Package testsupport provides an in-memory double of internal/store's
// Reader/Writer contract so tests can instantiate a fresh market manager
// against an isolated store. It is intentionally naive, a single mutex
// around plain Go maps: its only job is to exercise the engine's
// transaction boundaries and invariants without a real database.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

type walletKey struct{ userID, asset string }
type treasuryKey struct{ marketID, asset string }

// MemoryStore is an in-process store.Writer used by unit tests across
// internal/wallet, internal/book, internal/matching, internal/settlement
// and internal/market.
type MemoryStore struct {
	mu       sync.Mutex
	markets  map[string]store.Market
	orders   map[string]store.Order
	trades   map[string]store.Trade
	wallets  map[walletKey]store.Wallet
	treasury map[treasuryKey]store.FeeTreasury
	stats    map[string]store.MarketStat
}

var _ store.Writer = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  map[string]store.Market{},
		orders:   map[string]store.Order{},
		trades:   map[string]store.Trade{},
		wallets:  map[walletKey]store.Wallet{},
		treasury: map[treasuryKey]store.FeeTreasury{},
		stats:    map[string]store.MarketStat{},
	}
}

// --- Reader ---

func (m *MemoryStore) GetMarket(_ context.Context, id string) (*store.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &mk, nil
}

func (m *MemoryStore) ListMarkets(_ context.Context, opts store.ListOptions) (store.Page[store.Market], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts = opts.Normalize()
	all := make([]store.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		all = append(all, mk)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreateTime > all[j].CreateTime })
	return paginate(all, opts), nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, f store.OrderFilter, opts store.ListOptions) (store.Page[store.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts = opts.Normalize()
	var all []store.Order
	for _, o := range m.orders {
		if f.MarketID != "" && o.MarketID != f.MarketID {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreateTime > all[j].CreateTime })
	return paginate(all, opts), nil
}

func (m *MemoryStore) ListRestable(_ context.Context, marketID string) ([]store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Order
	for _, o := range m.orders {
		if o.MarketID != marketID {
			continue
		}
		if o.Status != store.OrderOpen && o.Status != store.OrderPartiallyFilled {
			continue
		}
		if !o.RemainedBase.IsPositive() {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime < out[j].CreateTime })
	return out, nil
}

func (m *MemoryStore) GetTrade(_ context.Context, id string) (*store.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTrades(_ context.Context, f store.TradeFilter, opts store.ListOptions) (store.Page[store.Trade], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts = opts.Normalize()
	var all []store.Trade
	for _, t := range m.trades {
		if f.MarketID != "" && t.MarketID != f.MarketID {
			continue
		}
		if f.UserID != "" && t.BuyerUserID != f.UserID && t.SellerUserID != f.UserID {
			continue
		}
		if f.FromTS > 0 && t.Timestamp < f.FromTS {
			continue
		}
		if f.ToTS > 0 && t.Timestamp > f.ToTS {
			continue
		}
		all = append(all, t)
	}
	if opts.OrderDirection == "asc" {
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	} else {
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })
	}
	return paginate(all, opts), nil
}

func (m *MemoryStore) GetWallet(_ context.Context, userID, asset string) (*store.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletKey{userID, asset}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (m *MemoryStore) ListWallets(_ context.Context, f store.WalletFilter, opts store.ListOptions) (store.Page[store.Wallet], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts = opts.Normalize()
	var all []store.Wallet
	for _, w := range m.wallets {
		if f.UserID != "" && w.UserID != f.UserID {
			continue
		}
		if f.Asset != "" && w.Asset != f.Asset {
			continue
		}
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UserID != all[j].UserID {
			return all[i].UserID < all[j].UserID
		}
		return all[i].Asset < all[j].Asset
	})
	return paginate(all, opts), nil
}

func (m *MemoryStore) GetMarketStat(_ context.Context, marketID string) (*store.MarketStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[marketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) GetFeeTreasury(_ context.Context, marketID, asset string) (*store.FeeTreasury, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.treasury[treasuryKey{marketID, asset}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

// --- Writer ---

func (m *MemoryStore) CreateMarket(_ context.Context, mk *store.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.markets[mk.ID]; exists {
		return store.ErrConflict
	}
	m.markets[mk.ID] = *mk
	return nil
}

func (m *MemoryStore) UpdateMarket(_ context.Context, mk *store.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.markets[mk.ID]; !exists {
		return store.ErrNotFound
	}
	m.markets[mk.ID] = *mk
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *store.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return store.ErrConflict
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *store.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; !exists {
		return store.ErrNotFound
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) CreateTrade(_ context.Context, t *store.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.trades[t.ID]; exists {
		return store.ErrConflict
	}
	m.trades[t.ID] = *t
	return nil
}

func (m *MemoryStore) UpsertWallet(_ context.Context, w *store.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[walletKey{w.UserID, w.Asset}] = *w
	return nil
}

func (m *MemoryStore) UpdateWallet(_ context.Context, w *store.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.Available.IsNegative() || w.Locked.IsNegative() || w.Reserved.IsNegative() {
		return fmt.Errorf("testsupport: %w: negative wallet component", store.ErrInvariant)
	}
	m.wallets[walletKey{w.UserID, w.Asset}] = *w
	return nil
}

func (m *MemoryStore) UpsertFeeTreasury(_ context.Context, f *store.FeeTreasury) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treasury[treasuryKey{f.MarketID, f.Asset}] = *f
	return nil
}

func (m *MemoryStore) UpsertMarketStat(_ context.Context, st *store.MarketStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[st.MarketID] = *st
	return nil
}

func (m *MemoryStore) LockWallet(ctx context.Context, userID, asset string) (*store.Wallet, error) {
	m.mu.Lock()
	w, ok := m.wallets[walletKey{userID, asset}]
	m.mu.Unlock()
	if !ok {
		w = store.Wallet{
			UserID: userID, Asset: asset,
			Available: money.Zero, Locked: money.Zero, Reserved: money.Zero,
			TotalDeposited: money.Zero, TotalWithdrawn: money.Zero,
			UpdateTime: money.NowMillis(),
		}
		if err := m.UpsertWallet(ctx, &w); err != nil {
			return nil, err
		}
	}
	return &w, nil
}

func (m *MemoryStore) LockOrder(_ context.Context, id string) (*store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

// WithTx has no real rollback semantics (this is a test double, not a
// database): it snapshots every map before running fn and restores the
// snapshot if fn returns an error, which is sufficient to exercise
// all-or-nothing commit behavior from the caller's perspective.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx store.Writer) error) error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restoreLocked(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

type snapshot struct {
	markets  map[string]store.Market
	orders   map[string]store.Order
	trades   map[string]store.Trade
	wallets  map[walletKey]store.Wallet
	treasury map[treasuryKey]store.FeeTreasury
	stats    map[string]store.MarketStat
}

func (m *MemoryStore) snapshotLocked() snapshot {
	s := snapshot{
		markets:  make(map[string]store.Market, len(m.markets)),
		orders:   make(map[string]store.Order, len(m.orders)),
		trades:   make(map[string]store.Trade, len(m.trades)),
		wallets:  make(map[walletKey]store.Wallet, len(m.wallets)),
		treasury: make(map[treasuryKey]store.FeeTreasury, len(m.treasury)),
		stats:    make(map[string]store.MarketStat, len(m.stats)),
	}
	for k, v := range m.markets {
		s.markets[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	for k, v := range m.trades {
		s.trades[k] = v
	}
	for k, v := range m.wallets {
		s.wallets[k] = v
	}
	for k, v := range m.treasury {
		s.treasury[k] = v
	}
	for k, v := range m.stats {
		s.stats[k] = v
	}
	return s
}

func (m *MemoryStore) restoreLocked(s snapshot) {
	m.markets = s.markets
	m.orders = s.orders
	m.trades = s.trades
	m.wallets = s.wallets
	m.treasury = s.treasury
	m.stats = s.stats
}

func paginate[T any](all []T, opts store.ListOptions) store.Page[T] {
	total := int64(len(all))
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	items := append([]T{}, all[start:end]...)
	next := start + len(items)
	return store.Page[T]{
		Items:      items,
		TotalCount: total,
		NextOffset: next,
		HasMore:    int64(next) < total,
	}
}
