package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity is a fixed-point quantity with 4 decimal places (scale = 1e4).
// Stored as a scaled BIGINT; JSON stays a plain number.
type Quantity int64

const (
	QuantityScale  int64 = 10_000
	quantityDigits int32 = 4
)

// NewQuantity builds a whole-unit quantity.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

// NewQuantityFromDecimal truncates d to 4 fractional digits.
func NewQuantityFromDecimal(d decimal.Decimal) Quantity {
	return Quantity(d.Shift(quantityDigits).Truncate(0).IntPart())
}

// MustQuantity parses a decimal string and panics on error. Tests only.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Int64Scaled() int64 { return int64(q) }

func (q Quantity) Float64() float64 { return float64(q) / float64(QuantityScale) }

// Decimal converts the quantity to an exact decimal for valuation.
func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -quantityDigits) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// Min returns the smaller of q and other.
func (q Quantity) Min(other Quantity) Quantity {
	if other < q {
		return other
	}
	return q
}

// String returns a decimal string with 4 fractional digits.
func (q Quantity) String() string {
	v := int64(q)
	sign := ""
	mag := uint64(v)
	if v < 0 {
		sign = "-"
		mag = uint64(-(v + 1)) + 1
	}
	scale := uint64(QuantityScale)
	return fmt.Sprintf("%s%d.%04d", sign, mag/scale, mag%scale)
}

// MarshalJSON encodes Quantity as JSON number (not string), preserving 4 digits.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts either a JSON number or string.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	raw := string(data)
	if len(data) >= 2 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	parsed, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

var (
	maxScaledQuantity = decimal.NewFromInt(math.MaxInt64)
	minScaledQuantity = maxScaledQuantity.Neg()
)

// ParseQuantity parses a decimal string with an optional exponent. Digits
// past the 4th fractional place are truncated. Values whose scaled form does
// not fit in an int64 are rejected.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	if !wellFormedQuantity(s) {
		return 0, fmt.Errorf("parse quantity %q: not a decimal number", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	scaled := d.Shift(quantityDigits).Truncate(0)
	if scaled.GreaterThan(maxScaledQuantity) || scaled.LessThan(minScaledQuantity) {
		return 0, fmt.Errorf("quantity %q is out of range", s)
	}
	return Quantity(scaled.IntPart()), nil
}

// wellFormedQuantity accepts [+-]digits[.digits][(e|E)[+-]digits] with at
// least one mantissa digit.
func wellFormedQuantity(s string) bool {
	i := 0
	if s[i] == '+' || s[i] == '-' {
		i++
	}
	mantissa := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		mantissa++
	}
	if i < len(s) && s[i] == '.' {
		for i++; i < len(s) && isDigit(s[i]); i++ {
			mantissa++
		}
	}
	if mantissa == 0 {
		return false
	}
	if i == len(s) {
		return true
	}
	if s[i] != 'e' && s[i] != 'E' {
		return false
	}
	i++
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	exponent := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		exponent++
	}
	return exponent > 0 && exponent <= 4 && i == len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
