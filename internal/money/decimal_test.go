package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNorm8TruncatesDust(t *testing.T) {
	d := MustNew("1.000000001")
	require.True(t, d.Norm8().Eq8(MustNew("1")))
}

func TestEq8IgnoresSubPrecisionResidual(t *testing.T) {
	a := MustNew("50000.123456789")
	b := MustNew("50000.123456780")
	require.True(t, a.Eq8(b))
}

func TestArithmetic(t *testing.T) {
	a := MustNew("1.5")
	b := MustNew("0.5")
	require.True(t, a.Add(b).Eq8(MustNew("2")))
	require.True(t, a.Sub(b).Eq8(MustNew("1")))
	require.True(t, a.Mul(b).Eq8(MustNew("0.75")))
	require.True(t, a.Div(b).Eq8(MustNew("3")))
}

func TestIsZero8(t *testing.T) {
	require.True(t, MustNew("0.000000001").IsZero8())
	require.False(t, MustNew("0.00000001").IsZero8())
}

func TestAbsDiffRetainsSubPrecision(t *testing.T) {
	a := MustNew("1.00000011")
	b := MustNew("1.00000000")
	require.True(t, a.AbsDiff(b).LessThan(MustNew("0.0000002")))
}

func TestComparisons(t *testing.T) {
	require.True(t, MustNew("2").GreaterThan(MustNew("1")))
	require.True(t, MustNew("1").LessThan(MustNew("2")))
	require.True(t, MustNew("1").GreaterOrEqual(MustNew("1")))
	require.True(t, MustNew("1").LessOrEqual(MustNew("1")))
}
