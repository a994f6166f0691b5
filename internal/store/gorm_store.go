package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pouladzade/bitrade/internal/money"
)

// GormStore is the production Writer/Reader backed by gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Writer = (*GormStore)(nil)

// Open connects to dsn, choosing the postgres driver for postgres://
// URLs and the sqlite driver otherwise, then AutoMigrates every model.
func Open(dsn string) (*GormStore, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		log.Info().Msg("store: connected (postgres)")
	default:
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		log.Info().Str("dsn", dsn).Msg("store: connected (sqlite)")
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

// SetPoolSize applies the database.pool_size config option.
func (s *GormStore) SetPoolSize(n int) error {
	if n <= 0 {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(n)
	sqlDB.SetMaxIdleConns(n)
	return nil
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w", ErrNotFound)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique"), strings.Contains(msg, "duplicate"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "deadlock"), strings.Contains(msg, "serializ"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return err
	}
}

// --- Reader ---

func (s *GormStore) GetMarket(ctx context.Context, id string) (*Market, error) {
	var m Market
	if err := s.conn(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (s *GormStore) ListMarkets(ctx context.Context, opts ListOptions) (Page[Market], error) {
	opts = opts.Normalize()
	var items []Market
	var total int64
	q := s.conn(ctx).Model(&Market{})
	if err := q.Count(&total).Error; err != nil {
		return Page[Market]{}, classify(err)
	}
	if err := q.Order(orderClause(opts)).Limit(opts.Limit).Offset(opts.Offset).Find(&items).Error; err != nil {
		return Page[Market]{}, classify(err)
	}
	return newPage(items, total, opts), nil
}

func (s *GormStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	if err := s.conn(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

func (s *GormStore) ListOrders(ctx context.Context, f OrderFilter, opts ListOptions) (Page[Order], error) {
	opts = opts.Normalize()
	q := s.conn(ctx).Model(&Order{})
	q = applyOrderFilter(q, f)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[Order]{}, classify(err)
	}
	var items []Order
	if err := q.Order(orderClause(opts)).Limit(opts.Limit).Offset(opts.Offset).Find(&items).Error; err != nil {
		return Page[Order]{}, classify(err)
	}
	return newPage(items, total, opts), nil
}

func applyOrderFilter(q *gorm.DB, f OrderFilter) *gorm.DB {
	if f.MarketID != "" {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

func (s *GormStore) ListRestable(ctx context.Context, marketID string) ([]Order, error) {
	var items []Order
	err := s.conn(ctx).
		Where("market_id = ?", marketID).
		Where("status IN ?", []OrderStatus{OrderOpen, OrderPartiallyFilled}).
		Order("create_time ASC").
		Find(&items).Error
	if err != nil {
		return nil, classify(err)
	}
	out := items[:0]
	for _, o := range items {
		if o.RemainedBase.IsPositive() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (*Trade, error) {
	var t Trade
	if err := s.conn(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (s *GormStore) ListTrades(ctx context.Context, f TradeFilter, opts ListOptions) (Page[Trade], error) {
	opts = opts.Normalize()
	// Trades carry a timestamp, not a create_time.
	if opts.OrderBy == DefaultOrderBy {
		opts.OrderBy = "timestamp"
	}
	q := s.conn(ctx).Model(&Trade{})
	if f.MarketID != "" {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.UserID != "" {
		q = q.Where("buyer_user_id = ? OR seller_user_id = ?", f.UserID, f.UserID)
	}
	if f.FromTS > 0 {
		q = q.Where("timestamp >= ?", f.FromTS)
	}
	if f.ToTS > 0 {
		q = q.Where("timestamp <= ?", f.ToTS)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[Trade]{}, classify(err)
	}
	var items []Trade
	if err := q.Order(orderClause(opts)).Limit(opts.Limit).Offset(opts.Offset).Find(&items).Error; err != nil {
		return Page[Trade]{}, classify(err)
	}
	return newPage(items, total, opts), nil
}

func (s *GormStore) GetWallet(ctx context.Context, userID, asset string) (*Wallet, error) {
	var w Wallet
	err := s.conn(ctx).First(&w, "user_id = ? AND asset = ?", userID, asset).Error
	if err != nil {
		return nil, classify(err)
	}
	return &w, nil
}

func (s *GormStore) ListWallets(ctx context.Context, f WalletFilter, opts ListOptions) (Page[Wallet], error) {
	opts = opts.Normalize()
	q := s.conn(ctx).Model(&Wallet{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Asset != "" {
		q = q.Where("asset = ?", f.Asset)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[Wallet]{}, classify(err)
	}
	var items []Wallet
	if err := q.Limit(opts.Limit).Offset(opts.Offset).Find(&items).Error; err != nil {
		return Page[Wallet]{}, classify(err)
	}
	return newPage(items, total, opts), nil
}

func (s *GormStore) GetMarketStat(ctx context.Context, marketID string) (*MarketStat, error) {
	var st MarketStat
	if err := s.conn(ctx).First(&st, "market_id = ?", marketID).Error; err != nil {
		return nil, classify(err)
	}
	return &st, nil
}

func (s *GormStore) GetFeeTreasury(ctx context.Context, marketID, asset string) (*FeeTreasury, error) {
	var f FeeTreasury
	err := s.conn(ctx).First(&f, "market_id = ? AND asset = ?", marketID, asset).Error
	if err != nil {
		return nil, classify(err)
	}
	return &f, nil
}

// sortableColumns whitelists the order_by values callers may pass and maps
// the wire-level "created_at" name onto the stored create_time column.
// Anything else falls back to create_time; OrderDirection is already
// constrained to asc/desc by ListOptions.Normalize, so the clause is safe
// to interpolate.
var sortableColumns = map[string]string{
	"created_at":  "create_time",
	"create_time": "create_time",
	"update_time": "update_time",
	"timestamp":   "timestamp",
	"price":       "price",
	"id":          "id",
}

func orderClause(opts ListOptions) string {
	col, ok := sortableColumns[opts.OrderBy]
	if !ok {
		col = "create_time"
	}
	return fmt.Sprintf("%s %s", col, strings.ToUpper(opts.OrderDirection))
}

// --- Writer ---

func (s *GormStore) CreateMarket(ctx context.Context, m *Market) error {
	return classify(s.conn(ctx).Create(m).Error)
}

func (s *GormStore) UpdateMarket(ctx context.Context, m *Market) error {
	return classify(s.conn(ctx).Save(m).Error)
}

func (s *GormStore) CreateOrder(ctx context.Context, o *Order) error {
	return classify(s.conn(ctx).Create(o).Error)
}

func (s *GormStore) UpdateOrder(ctx context.Context, o *Order) error {
	return classify(s.conn(ctx).Save(o).Error)
}

func (s *GormStore) CreateTrade(ctx context.Context, t *Trade) error {
	return classify(s.conn(ctx).Create(t).Error)
}

func (s *GormStore) UpsertWallet(ctx context.Context, w *Wallet) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "locked", "reserved", "total_deposited", "total_withdrawn", "update_time"}),
	}).Create(w).Error
	return classify(err)
}

func (s *GormStore) UpdateWallet(ctx context.Context, w *Wallet) error {
	return classify(s.conn(ctx).Save(w).Error)
}

func (s *GormStore) UpsertFeeTreasury(ctx context.Context, f *FeeTreasury) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"treasury_address", "collected_amount", "last_update_time"}),
	}).Create(f).Error
	return classify(err)
}

func (s *GormStore) UpsertMarketStat(ctx context.Context, st *MarketStat) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"high_24h", "low_24h", "volume_24h", "price_change_pct", "last_price", "last_update_time"}),
	}).Create(st).Error
	return classify(err)
}

// LockWallet acquires SELECT ... FOR UPDATE on the wallet row, creating it
// with zero balances first if it doesn't exist yet.
func (s *GormStore) LockWallet(ctx context.Context, userID, asset string) (*Wallet, error) {
	tx := s.conn(ctx)
	var w Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&w, "user_id = ? AND asset = ?", userID, asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = Wallet{
			UserID: userID, Asset: asset,
			Available: money.Zero, Locked: money.Zero, Reserved: money.Zero,
			TotalDeposited: money.Zero, TotalWithdrawn: money.Zero,
			UpdateTime: money.NowMillis(),
		}
		if err := tx.Create(&w).Error; err != nil {
			return nil, classify(err)
		}
		// Re-select under lock so the caller holds the row for the rest
		// of the transaction.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&w, "user_id = ? AND asset = ?", userID, asset).Error; err != nil {
			return nil, classify(err)
		}
		return &w, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &w, nil
}

// LockOrder acquires SELECT ... FOR UPDATE on the order row.
func (s *GormStore) LockOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&o, "id = ?", id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

// serializableTxOptions requests serializable isolation for every
// multi-row write. Drivers that don't support the isolation level
// (sqlite) silently ignore it.
var serializableTxOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}

// WithTx runs fn inside one serializable transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Writer) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		txStore := &GormStore{db: gtx}
		return fn(txStore)
	}, serializableTxOptions)
	return classify(err)
}
