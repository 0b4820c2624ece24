package numeric

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Int is an immutable arbitrary precision integer. Amounts observed on-chain are
// denominated in the smallest unit of their token and routinely exceed 64 bits, so
// every persisted amount uses this type. The zero value represents 0.
type Int struct {
	v *big.Int
}

// NewInt copies x into an Int. A nil pointer yields zero.
func NewInt(x *big.Int) Int {
	if x == nil {
		return Int{}
	}
	return Int{v: new(big.Int).Set(x)}
}

// IntFromInt64 converts a machine integer.
func IntFromInt64(x int64) Int {
	return Int{v: big.NewInt(x)}
}

// IntFromUint64 converts an unsigned machine integer.
func IntFromUint64(x uint64) Int {
	return Int{v: new(big.Int).SetUint64(x)}
}

// ParseInt parses a base-10 integer string. Surrounding whitespace is ignored and
// the empty string parses as zero.
func ParseInt(s string) (Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Int{}, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Int{}, fmt.Errorf("numeric: invalid integer %q", s)
	}
	return Int{v: v}, nil
}

// MustInt parses s and panics on failure. Intended for constants.
func MustInt(s string) Int {
	v, err := ParseInt(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (a Int) ref() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying value.
func (a Int) Big() *big.Int {
	return new(big.Int).Set(a.ref())
}

// Add returns a+b.
func (a Int) Add(b Int) Int {
	return Int{v: new(big.Int).Add(a.ref(), b.ref())}
}

// Sub returns a-b.
func (a Int) Sub(b Int) Int {
	return Int{v: new(big.Int).Sub(a.ref(), b.ref())}
}

// Mul returns a*b.
func (a Int) Mul(b Int) Int {
	return Int{v: new(big.Int).Mul(a.ref(), b.ref())}
}

// Quo returns a/b truncated toward zero. Division by zero yields zero.
func (a Int) Quo(b Int) Int {
	if b.Sign() == 0 {
		return Int{}
	}
	return Int{v: new(big.Int).Quo(a.ref(), b.ref())}
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Int) Cmp(b Int) int {
	return a.ref().Cmp(b.ref())
}

// Sign returns -1, 0 or +1 depending on the sign of a.
func (a Int) Sign() int {
	return a.ref().Sign()
}

// IsZero reports whether a == 0.
func (a Int) IsZero() bool {
	return a.Sign() == 0
}

// Equal reports whether a == b.
func (a Int) Equal(b Int) bool {
	return a.Cmp(b) == 0
}

// Uint64 returns the low 64 bits of a. Callers use it for timestamps and ids
// which are known to fit.
func (a Int) Uint64() uint64 {
	return a.ref().Uint64()
}

func (a Int) String() string {
	return a.ref().String()
}

// Sum adds every value in xs.
func Sum(xs ...Int) Int {
	total := new(big.Int)
	for _, x := range xs {
		total.Add(total, x.ref())
	}
	return Int{v: total}
}

// Max returns the larger of a and b.
func Max(a, b Int) Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// GormDataType stores integers as text so that 256-bit values survive sqlite's
// numeric affinity.
func (Int) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer.
func (a Int) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Int) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Int{}
		return nil
	case string:
		parsed, err := ParseInt(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := ParseInt(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		*a = IntFromInt64(v)
		return nil
	default:
		return fmt.Errorf("numeric: cannot scan %T into Int", src)
	}
}

// MarshalJSON renders the integer as a quoted decimal string.
func (a Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (a *Int) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = Int{}
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseInt(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
