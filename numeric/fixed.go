package numeric

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// SecondsPerYear is the 365-day year used by every annualised estimate.
const SecondsPerYear = 60 * 60 * 24 * 365

var (
	// Mantissa18 is the scale of 18-decimal fixed point values: FIDU and GFI
	// balances, share prices, and interest APRs.
	Mantissa18 = MustInt("1000000000000000000")
	// USDCMantissa is the scale of USDC amounts.
	USDCMantissa = MustInt("1000000")
	// FiduUSDCConversion converts a USDC amount to FIDU precision.
	FiduUSDCConversion = MustInt("1000000000000")
	// Hundred converts whole-number percentages to fractions.
	Hundred = IntFromInt64(100)
)

var (
	// ErrOutOfRange is returned when a value does not fit an unsigned 256-bit word.
	ErrOutOfRange = errors.New("numeric: value outside uint256 range")
	// ErrOverflow is returned when a mul-div result overflows 256 bits.
	ErrOverflow = errors.New("numeric: uint256 overflow")
)

// FromMantissa interprets x as a fixed point value with the given mantissa, for
// example an 18-decimal APR. The division is exact.
func FromMantissa(x, mantissa Int) Dec {
	return DecFrac(x, mantissa)
}

// Percent converts a whole-number percentage into a fraction (10 -> 0.10).
func Percent(p Int) Dec {
	return DecFrac(p, Hundred)
}

// ToUint256 converts a non-negative Int into a 256-bit word.
func ToUint256(a Int) (*uint256.Int, error) {
	if a.Sign() < 0 {
		return nil, ErrOutOfRange
	}
	v, overflow := uint256.FromBig(a.ref())
	if overflow {
		return nil, ErrOutOfRange
	}
	return v, nil
}

// FromUint256 converts a 256-bit word into an Int.
func FromUint256(v *uint256.Int) Int {
	if v == nil {
		return Int{}
	}
	return Int{v: v.ToBig()}
}

// MulDivFloor computes floor(a*b/c) with the same 256-bit semantics the
// contracts use. Division by zero yields zero.
func MulDivFloor(a, b, c Int) (Int, error) {
	if c.Sign() == 0 {
		return Int{}, nil
	}
	ua, err := ToUint256(a)
	if err != nil {
		return Int{}, err
	}
	ub, err := ToUint256(b)
	if err != nil {
		return Int{}, err
	}
	uc, err := ToUint256(c)
	if err != nil {
		return Int{}, err
	}
	result, overflow := new(uint256.Int).MulDivOverflow(ua, ub, uc)
	if overflow {
		return Int{}, ErrOverflow
	}
	return FromUint256(result), nil
}

// Scale multiplies x by 10^decimals.
func Scale(x Int, decimals uint) Int {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return Int{v: new(big.Int).Mul(x.ref(), factor)}
}
