// Package money holds prices as integer minor currency units (cents).
// Decimal text only appears at form and presentation boundaries.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a non-negative price in minor units.
type Amount int64

var (
	ErrEmpty          = errors.New("money: empty amount")
	ErrInvalid        = errors.New("money: invalid amount")
	ErrTooManyDecimal = errors.New("money: more than two decimal places")
	ErrNegative       = errors.New("money: negative amount")
)

func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// ParseAmount parses a plain decimal such as "19", "19.5" or "19.00".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegative
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrTooManyDecimal, s)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)

	return Amount(units*100 + cents), nil
}

// ParseOptional returns nil for blank input, mirroring optional form fields.
func ParseOptional(s string) (*Amount, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	a, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a Amount) Minor() int64 {
	return int64(a)
}

// String renders the amount with two decimals, e.g. "19.00".
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

// Format renders the amount for humans in the given ISO currency.
func (a Amount) Format(currency string) string {
	switch strings.ToUpper(currency) {
	case "USD":
		return "$" + a.String()
	case "EUR":
		return "€" + a.String()
	case "GBP":
		return "£" + a.String()
	case "":
		return a.String()
	default:
		return a.String() + " " + strings.ToUpper(currency)
	}
}

func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		*a = Amount(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		*a = Amount(n)
	case nil:
		*a = 0
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}

// MarshalText keeps JSON payloads in decimal form ("19.00").
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
