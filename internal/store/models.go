package store

import "github.com/pouladzade/bitrade/internal/money"

// Model definitions for the durable store: decimal columns typed
// NUMERIC, primary keys via gorm tags.

type MarketStatus string

const (
	MarketActive MarketStatus = "ACTIVE"
	MarketClosed MarketStatus = "CLOSED"
)

type Market struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	BaseAsset       string        `json:"base_asset" gorm:"index;not null"`
	QuoteAsset      string        `json:"quote_asset" gorm:"index;not null"`
	DefaultMakerFee money.Decimal `json:"default_maker_fee" gorm:"type:numeric;not null"`
	DefaultTakerFee money.Decimal `json:"default_taker_fee" gorm:"type:numeric;not null"`
	MinBaseAmount   money.Decimal `json:"min_base_amount" gorm:"type:numeric;not null"`
	MinQuoteAmount  money.Decimal `json:"min_quote_amount" gorm:"type:numeric;not null"`
	PricePrecision  int32         `json:"price_precision" gorm:"not null"`
	AmountPrecision int32         `json:"amount_precision" gorm:"not null"`
	Status          MarketStatus  `json:"status" gorm:"index;not null"`
	CreateTime      int64         `json:"create_time" gorm:"not null"`
	UpdateTime      int64         `json:"update_time" gorm:"not null"`
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
)

// TerminalStatuses are the statuses after which no further field mutation
// is permitted.
var TerminalStatuses = map[OrderStatus]bool{
	OrderFilled:   true,
	OrderCanceled: true,
	OrderRejected: true,
}

type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

type Order struct {
	ID            string        `json:"id" gorm:"primaryKey"`
	MarketID      string        `json:"market_id" gorm:"index;not null"`
	UserID        string        `json:"user_id" gorm:"index;not null"`
	OrderType     OrderType     `json:"order_type" gorm:"not null"`
	Side          Side          `json:"side" gorm:"not null"`
	Price         money.Decimal `json:"price" gorm:"type:numeric;not null"`
	BaseAmount    money.Decimal `json:"base_amount" gorm:"type:numeric;not null"`
	QuoteAmount   money.Decimal `json:"quote_amount" gorm:"type:numeric;not null"`
	MakerFee      money.Decimal `json:"maker_fee" gorm:"type:numeric;not null"`
	TakerFee      money.Decimal `json:"taker_fee" gorm:"type:numeric;not null"`
	RemainedBase  money.Decimal `json:"remained_base" gorm:"type:numeric;not null"`
	RemainedQuote money.Decimal `json:"remained_quote" gorm:"type:numeric;not null"`
	FilledBase    money.Decimal `json:"filled_base" gorm:"type:numeric;not null"`
	FilledQuote   money.Decimal `json:"filled_quote" gorm:"type:numeric;not null"`
	FilledFee     money.Decimal `json:"filled_fee" gorm:"type:numeric;not null"`
	Status        OrderStatus   `json:"status" gorm:"index;not null"`
	TimeInForce   TimeInForce   `json:"time_in_force" gorm:""`
	PostOnly      bool          `json:"post_only" gorm:"not null;default:false"`
	ClientOrderID string        `json:"client_order_id" gorm:"index"`
	ExpiresAt     *int64        `json:"expires_at" gorm:""`
	CreateTime    int64         `json:"create_time" gorm:"index;not null"`
	UpdateTime    int64         `json:"update_time" gorm:"not null"`
}

type TakerSide = Side

// Trade is append-only: created only by the settlement transaction, never
// mutated.
type Trade struct {
	ID            string        `json:"id" gorm:"primaryKey"`
	Timestamp     int64         `json:"timestamp" gorm:"index;not null"`
	MarketID      string        `json:"market_id" gorm:"index;not null"`
	Price         money.Decimal `json:"price" gorm:"type:numeric;not null"`
	BaseAmount    money.Decimal `json:"base_amount" gorm:"type:numeric;not null"`
	QuoteAmount   money.Decimal `json:"quote_amount" gorm:"type:numeric;not null"`
	BuyerUserID   string        `json:"buyer_user_id" gorm:"index;not null"`
	BuyerOrderID  string        `json:"buyer_order_id" gorm:"index;not null"`
	BuyerFee      money.Decimal `json:"buyer_fee" gorm:"type:numeric;not null"`
	SellerUserID  string        `json:"seller_user_id" gorm:"index;not null"`
	SellerOrderID string        `json:"seller_order_id" gorm:"index;not null"`
	SellerFee     money.Decimal `json:"seller_fee" gorm:"type:numeric;not null"`
	TakerSide     TakerSide     `json:"taker_side" gorm:"not null"`
	IsLiquidation bool          `json:"is_liquidation" gorm:"not null;default:false"`
}

// Wallet primary key is (UserID, Asset).
type Wallet struct {
	UserID         string        `json:"user_id" gorm:"primaryKey"`
	Asset          string        `json:"asset" gorm:"primaryKey"`
	Available      money.Decimal `json:"available" gorm:"type:numeric;not null"`
	Locked         money.Decimal `json:"locked" gorm:"type:numeric;not null"`
	Reserved       money.Decimal `json:"reserved" gorm:"type:numeric;not null"`
	TotalDeposited money.Decimal `json:"total_deposited" gorm:"type:numeric;not null"`
	TotalWithdrawn money.Decimal `json:"total_withdrawn" gorm:"type:numeric;not null"`
	UpdateTime     int64         `json:"update_time" gorm:"not null"`
}

// FeeTreasury primary key is (MarketID, Asset).
type FeeTreasury struct {
	MarketID        string        `json:"market_id" gorm:"primaryKey"`
	Asset           string        `json:"asset" gorm:"primaryKey"`
	TreasuryAddress string        `json:"treasury_address" gorm:""`
	CollectedAmount money.Decimal `json:"collected_amount" gorm:"type:numeric;not null"`
	LastUpdateTime  int64         `json:"last_update_time" gorm:"not null"`
}

// MarketStat primary key is MarketID. Derived and idempotent under
// re-computation from the trade log; owned by the settlement side-effect
// path, not by matching/book invariants.
type MarketStat struct {
	MarketID       string        `json:"market_id" gorm:"primaryKey"`
	High24h        money.Decimal `json:"high_24h" gorm:"column:high_24h;type:numeric;not null"`
	Low24h         money.Decimal `json:"low_24h" gorm:"column:low_24h;type:numeric;not null"`
	Volume24h      money.Decimal `json:"volume_24h" gorm:"column:volume_24h;type:numeric;not null"`
	PriceChangePct money.Decimal `json:"price_change_pct" gorm:"type:numeric;not null"`
	LastPrice      money.Decimal `json:"last_price" gorm:"type:numeric;not null"`
	LastUpdateTime int64         `json:"last_update_time" gorm:"not null"`
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&Market{}, &Order{}, &Trade{}, &Wallet{}, &FeeTreasury{}, &MarketStat{},
	}
}
