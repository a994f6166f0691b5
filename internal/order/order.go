// Package order implements the order status machine and the
// submission-time validation rules.
package order

import (
	"fmt"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

// QuoteTolerance is the accepted gap between a LIMIT BUY's declared
// quote_amount and price*base_amount.
var QuoteTolerance = money.MustNew("0.0000001")

// IsMarketBuy reports whether o is a MARKET BUY, the one order shape whose
// fill budget is denominated in quote rather than base: its
// cap is remained_quote, not remained_base, since it carries no fixed
// base_amount.
func IsMarketBuy(o *store.Order) bool {
	return o.OrderType == store.OrderTypeMarket && o.Side == store.SideBuy
}

// Remaining returns the quantity that still gates completion: remained_base
// for every order except MARKET BUY, which is gated by remained_quote
// instead.
func Remaining(o *store.Order) money.Decimal {
	if IsMarketBuy(o) {
		return o.RemainedQuote
	}
	return o.RemainedBase
}

// NextStatus computes the post-fill status.D: FILLED if the
// order's remaining quantity has reached zero at normalized precision,
// else PARTIALLY_FILLED if any fill has happened, else OPEN.
func NextStatus(o *store.Order) store.OrderStatus {
	if Remaining(o).IsZero8() {
		return store.OrderFilled
	}
	if o.FilledBase.IsPositive() {
		return store.OrderPartiallyFilled
	}
	return store.OrderOpen
}

// IsTerminal reports whether o is in one of the terminal statuses after
// which no further field mutation is permitted.
func IsTerminal(o *store.Order) bool {
	return store.TerminalStatuses[o.Status]
}

// ValidationError is returned by Validate; internal/api maps it onto a
// 400 response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "order: invalid argument: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate runs the precondition checks that gate an order before it
// ever reaches the book: LIMIT price > 0, BUY/SELL amount positivity,
// the quote_amount vs price*base_amount tolerance for LIMIT BUY, and
// market minimums.
// It does not truncate to market precision; callers truncate after
// validation passes.
func Validate(o *store.Order, m *store.Market) error {
	if o.OrderType == store.OrderTypeLimit && !o.Price.IsPositive() {
		return invalid("price must be > 0 for LIMIT orders")
	}
	// A fill-or-kill order needs a limit price to bound its dry run; a
	// MARKET order has none.
	if o.OrderType == store.OrderTypeMarket && o.TimeInForce == store.TIFFOK {
		return invalid("FOK applies only to LIMIT orders")
	}

	switch o.Side {
	case store.SideBuy:
		if !o.QuoteAmount.IsPositive() {
			return invalid("BUY requires quote_amount > 0")
		}
	case store.SideSell:
		if !o.BaseAmount.IsPositive() {
			return invalid("SELL requires base_amount > 0")
		}
	default:
		return invalid("side must be BUY or SELL")
	}

	if o.Side == store.SideBuy && o.OrderType == store.OrderTypeLimit {
		expected := o.Price.Mul(o.BaseAmount)
		if o.QuoteAmount.AbsDiff(expected).GreaterThan(QuoteTolerance) {
			return invalid("quote_amount %s does not match price*base_amount %s within tolerance", o.QuoteAmount, expected)
		}
	}

	if o.BaseAmount.IsPositive() && o.BaseAmount.LessThan(m.MinBaseAmount) {
		return invalid("base_amount %s below market minimum %s", o.BaseAmount, m.MinBaseAmount)
	}
	if o.QuoteAmount.IsPositive() && o.QuoteAmount.LessThan(m.MinQuoteAmount) {
		return invalid("quote_amount %s below market minimum %s", o.QuoteAmount, m.MinQuoteAmount)
	}

	return nil
}

// TruncateToMarket truncates price/base/quote amounts to the market's
// declared precisions, immediately after validation and before the
// order is persisted.
func TruncateToMarket(o *store.Order, m *store.Market) {
	o.Price = o.Price.Truncate(m.PricePrecision)
	o.BaseAmount = o.BaseAmount.Truncate(m.AmountPrecision)
	o.QuoteAmount = o.QuoteAmount.Truncate(m.PricePrecision + m.AmountPrecision)
}

// LockAsset and LockAmount return which asset and how much of it must be
// pre-locked when the order enters the book: BUY locks
// quote_amount of quote_asset, SELL locks base_amount of base_asset.
func LockAsset(o *store.Order, m *store.Market) string {
	if o.Side == store.SideBuy {
		return m.QuoteAsset
	}
	return m.BaseAsset
}

func LockAmount(o *store.Order) money.Decimal {
	if o.Side == store.SideBuy {
		return o.QuoteAmount
	}
	return o.BaseAmount
}
