// Package money holds the fixed-precision decimal arithmetic and
// identifier/clock utilities shared by every other package. Floating
// point never appears in a monetary comparison.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Prec is the normalized precision (fractional digits) used for every
// comparison, equality check, and status transition in the engine.
const Prec = 8

// Decimal wraps shopspring/decimal so every monetary quantity in the engine
// goes through the same normalization rules before it is compared or
// persisted.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// New builds a Decimal from a string, e.g. "50000.00000001".
func New(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustNew is New but panics on error; only safe for compile-time constants.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a Decimal from an integer amount.
func FromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

// FromFloat builds a Decimal from a float64 and inherits its
// imprecision. No code in the engine calls it; engine-internal math
// never uses this path.
func FromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f)}
}

func (d Decimal) String() string { return d.d.Truncate(Prec).String() }

// Raw exposes the underlying shopspring/decimal.Decimal for callers (e.g.
// gorm column binding) that need it directly.
func (d Decimal) Raw() decimal.Decimal { return d.d }

// Norm8 truncates to the engine's normalized precision. Every comparison,
// equality check, and status transition must go through this first to
// avoid residual dust triggering spurious state changes.
func (d Decimal) Norm8() Decimal { return Decimal{d: d.d.Truncate(Prec)} }

// Truncate truncates to an arbitrary number of fractional digits, used for
// market-declared price/amount precisions.
func (d Decimal) Truncate(places int32) Decimal { return Decimal{d: d.d.Truncate(places)} }

func (d Decimal) Add(o Decimal) Decimal { return Decimal{d: d.d.Add(o.d)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d)} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{d: d.d.Mul(o.d)} }
func (d Decimal) Div(o Decimal) Decimal { return Decimal{d: d.d.Div(o.d)} }
func (d Decimal) Neg() Decimal          { return Decimal{d: d.d.Neg()} }

// Cmp compares at normalized (8-digit) precision.A.
func (d Decimal) Cmp(o Decimal) int { return d.Norm8().d.Cmp(o.Norm8().d) }

func (d Decimal) Eq8(o Decimal) bool            { return d.Cmp(o) == 0 }
func (d Decimal) GreaterThan(o Decimal) bool    { return d.Cmp(o) > 0 }
func (d Decimal) GreaterOrEqual(o Decimal) bool { return d.Cmp(o) >= 0 }
func (d Decimal) LessThan(o Decimal) bool       { return d.Cmp(o) < 0 }
func (d Decimal) LessOrEqual(o Decimal) bool    { return d.Cmp(o) <= 0 }

// IsZero8 reports whether the value is zero at normalized precision.
func (d Decimal) IsZero8() bool { return d.Norm8().d.IsZero() }

// IsPositive reports strictly-greater-than-zero at normalized precision.
func (d Decimal) IsPositive() bool { return d.Norm8().d.IsPositive() }

// IsNegative reports strictly-less-than-zero at normalized precision.
func (d Decimal) IsNegative() bool { return d.Norm8().d.IsNegative() }

// AbsDiff returns the absolute difference |d - o|, un-normalized. Used
// by tolerance checks that need more precision than the 8-digit
// comparison floor.
func (d Decimal) AbsDiff(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d).Abs()} }

// --- database/sql + gorm scan/value plumbing ---

func (d Decimal) Value() (driver.Value, error) { return d.d.Value() }

func (d *Decimal) Scan(value any) error {
	var inner decimal.Decimal
	if err := inner.Scan(value); err != nil {
		return err
	}
	d.d = inner
	return nil
}

// GormDataType tells gorm to store Decimal as NUMERIC.
func (Decimal) GormDataType() string { return "numeric" }

func (d Decimal) MarshalJSON() ([]byte, error) { return d.d.MarshalJSON() }

func (d *Decimal) UnmarshalJSON(data []byte) error {
	return d.d.UnmarshalJSON(data)
}
