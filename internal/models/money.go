package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is a fixed-point amount with two decimals, stored in minor units (cents).
// All booking arithmetic happens on Money; floats only appear at the edges
// (database NUMERIC scans) and are rounded on entry.
type Money int64

// MoneyFromMinor builds Money from minor units.
func MoneyFromMinor(minor int64) Money {
	return Money(minor)
}

// Units builds Money from whole currency units.
func Units(major int64) Money {
	return Money(major * 100)
}

// ParseMoney parses a decimal string such as "546.70", "12" or "-3.5".
// More than two decimals is rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("money: %q has more than 2 decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	if w > math.MaxInt64/100-1 {
		return 0, fmt.Errorf("money: amount %q out of range", s)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	return Money(v), nil
}

// MustParseMoney is ParseMoney for constants and tests.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 {
	return int64(m)
}

// Percent returns pct percent of m, rounded down to the cent.
func (m Money) Percent(pct int) Money {
	return Money(int64(m) * int64(pct) / 100)
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o < m {
		return o
	}
	return m
}

func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*m = 0
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value stores the amount as a NUMERIC literal.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements the sql.Scanner interface
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = 0
	case []byte:
		parsed, err := ParseMoney(string(v))
		if err != nil {
			return err
		}
		*m = parsed
	case string:
		parsed, err := ParseMoney(v)
		if err != nil {
			return err
		}
		*m = parsed
	case float64:
		*m = Money(math.Round(v * 100))
	case int64:
		*m = Money(v * 100)
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}
