package numeric

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntArithmeticAndZeroDivision(t *testing.T) {
	a := MustInt("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	b := IntFromInt64(5)
	require.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639940", a.Add(b).String())
	require.True(t, a.Quo(Int{}).IsZero())
	require.Equal(t, "2", IntFromInt64(11).Quo(b).String())
	require.Equal(t, "0", Int{}.String())
}

func TestIntScanAndJSON(t *testing.T) {
	var v Int
	require.NoError(t, v.Scan("1000000000000000000000"))
	require.Equal(t, "1000000000000000000000", v.String())
	require.NoError(t, v.Scan([]byte("42")))
	require.Equal(t, int64(42), v.Big().Int64())
	require.Error(t, v.Scan(3.5))

	encoded, err := json.Marshal(IntFromInt64(7))
	require.NoError(t, err)
	require.Equal(t, `"7"`, string(encoded))

	var decoded Int
	require.NoError(t, json.Unmarshal([]byte(`123`), &decoded))
	require.Equal(t, "123", decoded.String())
}

func TestDecRendering(t *testing.T) {
	require.Equal(t, "0.15", FromMantissa(MustInt("150000000000000000"), Mantissa18).String())
	require.Equal(t, "0", Dec{}.String())
	require.Equal(t, "0.333333333333333333", DecFrac(IntFromInt64(1), IntFromInt64(3)).String())
	require.Equal(t, "-1.5", MustDec("-3/2").String())
	require.True(t, DecFrac(IntFromInt64(1), Int{}).IsZero())
	require.True(t, MustDec("2").Quo(Dec{}).IsZero())
}

func TestDecScanRejectsFloats(t *testing.T) {
	var d Dec
	require.Error(t, d.Scan(0.15))
	require.NoError(t, d.Scan("20.25"))
	require.Equal(t, "20.25", d.String())
}

func TestDecFloor(t *testing.T) {
	require.Equal(t, "3", MustDec("3.99").Floor().String())
	require.Equal(t, "-4", MustDec("-3.5").Floor().String())
}

func TestMulDivFloor(t *testing.T) {
	got, err := MulDivFloor(IntFromInt64(30_000), IntFromInt64(100), IntFromInt64(300))
	require.NoError(t, err)
	require.Equal(t, "10000", got.String())

	got, err = MulDivFloor(IntFromInt64(10), IntFromInt64(1), IntFromInt64(3))
	require.NoError(t, err)
	require.Equal(t, "3", got.String())

	got, err = MulDivFloor(IntFromInt64(10), IntFromInt64(1), Int{})
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = MulDivFloor(IntFromInt64(-1), IntFromInt64(1), IntFromInt64(1))
	require.ErrorIs(t, err, ErrOutOfRange)

	max := MustInt("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	_, err = MulDivFloor(max, max, IntFromInt64(1))
	require.ErrorIs(t, err, ErrOverflow)

	// The intermediate product exceeds 256 bits but the quotient does not.
	got, err = MulDivFloor(max, IntFromInt64(2), IntFromInt64(4))
	require.NoError(t, err)
	require.Equal(t, max.Quo(IntFromInt64(2)).String(), got.String())
}

func TestPercentAndScale(t *testing.T) {
	require.Equal(t, "0.1", Percent(IntFromInt64(10)).String())
	require.Equal(t, "40000000000", Scale(IntFromInt64(40_000), 6).String())
}
