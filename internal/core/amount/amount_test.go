package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("20.5")
	require.NoError(t, err)
	assert.Equal(t, "20.5", a.String())

	_, err = Parse("not-a-number")
	assert.Error(t, err)

	neg, err := Parse("-0.0001")
	require.NoError(t, err)
	assert.Equal(t, -1, neg.Sign())
}

func TestArithmetic(t *testing.T) {
	a := MustParse("1")
	b := MustParse("0.5")

	assert.Equal(t, "1.5", a.Add(b).String())
	assert.Equal(t, "0.5", a.Sub(b).String())
	assert.Equal(t, "-1", a.Neg().String())
	assert.Equal(t, "0.5", a.Mul(b).String())

	q, err := a.Div(b)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Cmp(MustParse("2")))

	_, err = a.Div(Zero())
	assert.Error(t, err)
}

func TestMinAndComparison(t *testing.T) {
	a := MustParse("50")
	b := MustParse("10")

	assert.Equal(t, 0, Min(a, b).Cmp(b))
	assert.Equal(t, 0, Min(b, a).Cmp(b))
	assert.Equal(t, 1, a.Cmp(b))
	assert.True(t, a.IsPositive())
	assert.True(t, Zero().IsZero())
}

func TestProRataShare(t *testing.T) {
	// 50 of 100 units against 1 BTC of collateral: exactly half.
	held := MustParse("50")
	total := MustParse("100")
	collateral := MustParse("1")

	frac, err := held.Div(total)
	require.NoError(t, err)
	share := frac.Mul(collateral).QuantizeVolume()
	assert.Equal(t, 0, share.Cmp(MustParse("0.5")))

	// A non-terminating fraction still lands on the volume scale.
	frac, err = MustParse("1").Div(MustParse("3"))
	require.NoError(t, err)
	share = frac.Mul(collateral).QuantizeVolume()
	assert.Equal(t, "0.3333", share.String())
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, "1.2346", MustParse("1.23456").QuantizeVolume().String())
	assert.Equal(t, "20.00000000", MustParse("20").QuantizePrice().String())
}

func TestQuantizeVolumeFloor(t *testing.T) {
	assert.Equal(t, "1.2345", MustParse("1.23459").QuantizeVolumeFloor().String())

	// Half-even rounding would push 0.00015 up to 0.0002; two such shares
	// of a 0.0003 pool would sum past the pool. Truncation cannot.
	half, err := MustParse("1").Div(MustParse("2"))
	require.NoError(t, err)
	share := half.Mul(MustParse("0.0003")).QuantizeVolumeFloor()
	assert.Equal(t, "0.0001", share.String())
	assert.True(t, share.Add(share).Cmp(MustParse("0.0003")) <= 0)
}

func TestScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan([]byte("12.3400")))
	assert.Equal(t, 0, a.Cmp(MustParse("12.34")))

	require.NoError(t, a.Scan(int64(7)))
	assert.Equal(t, 0, a.Cmp(FromInt64(7)))

	assert.Error(t, a.Scan(3.14))

	var n NullAmount
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Nil(t, n.Ptr())

	require.NoError(t, n.Scan([]byte("5")))
	assert.True(t, n.Valid)
	assert.Equal(t, 0, n.Amount.Cmp(MustParse("5")))
}
