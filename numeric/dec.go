package numeric

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// DecimalPlaces is the number of fractional digits kept when a Dec is rendered
// or persisted.
const DecimalPlaces = 18

// Dec is an immutable exact rational number. Arithmetic is exact; rendering
// rounds to DecimalPlaces fractional digits and trims trailing zeros. Binary
// floating point is never involved.
type Dec struct {
	r *big.Rat
}

// NewDec copies r into a Dec. A nil pointer yields zero.
func NewDec(r *big.Rat) Dec {
	if r == nil {
		return Dec{}
	}
	return Dec{r: new(big.Rat).Set(r)}
}

// DecFromInt converts an integer.
func DecFromInt(i Int) Dec {
	return Dec{r: new(big.Rat).SetInt(i.ref())}
}

// DecFromInt64 converts a machine integer.
func DecFromInt64(x int64) Dec {
	return Dec{r: new(big.Rat).SetInt64(x)}
}

// DecFrac returns num/den, or zero when den is zero.
func DecFrac(num, den Int) Dec {
	if den.Sign() == 0 {
		return Dec{}
	}
	return Dec{r: new(big.Rat).SetFrac(num.ref(), den.ref())}
}

// ParseDec parses a decimal ("0.15") or fraction ("3/20") string.
func ParseDec(s string) (Dec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Dec{}, nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return Dec{}, fmt.Errorf("numeric: invalid decimal %q", s)
	}
	return Dec{r: r}, nil
}

// MustDec parses s and panics on failure. Intended for constants and tests.
func MustDec(s string) Dec {
	d, err := ParseDec(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Dec) ref() *big.Rat {
	if d.r == nil {
		return new(big.Rat)
	}
	return d.r
}

// Rat returns a copy of the underlying rational.
func (d Dec) Rat() *big.Rat {
	return new(big.Rat).Set(d.ref())
}

// Add returns d+o.
func (d Dec) Add(o Dec) Dec {
	return Dec{r: new(big.Rat).Add(d.ref(), o.ref())}
}

// Sub returns d-o.
func (d Dec) Sub(o Dec) Dec {
	return Dec{r: new(big.Rat).Sub(d.ref(), o.ref())}
}

// Mul returns d*o.
func (d Dec) Mul(o Dec) Dec {
	return Dec{r: new(big.Rat).Mul(d.ref(), o.ref())}
}

// Quo returns d/o, or zero when o is zero.
func (d Dec) Quo(o Dec) Dec {
	if o.Sign() == 0 {
		return Dec{}
	}
	return Dec{r: new(big.Rat).Quo(d.ref(), o.ref())}
}

// Cmp compares d and o.
func (d Dec) Cmp(o Dec) int {
	return d.ref().Cmp(o.ref())
}

// Sign returns -1, 0 or +1.
func (d Dec) Sign() int {
	return d.ref().Sign()
}

// IsZero reports whether d == 0.
func (d Dec) IsZero() bool {
	return d.Sign() == 0
}

// Equal compares the rendered values, which is what persistence preserves.
func (d Dec) Equal(o Dec) bool {
	return d.String() == o.String()
}

// Floor returns the integer part of d rounded toward negative infinity.
func (d Dec) Floor() Int {
	ref := d.ref()
	q := new(big.Int)
	m := new(big.Int)
	q.DivMod(ref.Num(), ref.Denom(), m)
	return Int{v: q}
}

func (d Dec) String() string {
	s := d.ref().FloatString(DecimalPlaces)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// GormDataType persists decimals as text.
func (Dec) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer.
func (d Dec) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Dec) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Dec{}
		return nil
	case string:
		parsed, err := ParseDec(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		parsed, err := ParseDec(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case float64:
		return fmt.Errorf("numeric: refusing to scan binary float %v into Dec", v)
	default:
		return fmt.Errorf("numeric: cannot scan %T into Dec", src)
	}
}

// MarshalJSON renders the decimal as a quoted string.
func (d Dec) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a quoted or bare decimal.
func (d *Dec) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*d = Dec{}
		return nil
	}
	parsed, err := ParseDec(strings.Trim(raw, `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
