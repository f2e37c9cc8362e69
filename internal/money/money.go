package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

var hundred = decimal.NewFromInt(100)

// ParseMinor parses a decimal currency string such as "12.99" into cents.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if value.Exponent() < -2 && !value.Equal(value.Round(2)) {
		return 0, ErrTooManyDecimals
	}
	return value.Mul(hundred).IntPart(), nil
}

func FormatMinor(value int64) string {
	return decimal.New(value, -2).StringFixed(2)
}

// ProRate returns floor(amount * part / whole). A non-positive whole yields 0.
func ProRate(amount, part, whole int64) int64 {
	if whole <= 0 || amount <= 0 || part <= 0 {
		return 0
	}
	if part > whole {
		part = whole
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Floor().
		IntPart()
}

// Percentage returns round(part / whole * 100) clamped to [0, 100]. A
// non-positive whole yields 0.
func Percentage(part, whole int64) int64 {
	if whole <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(part).
		Div(decimal.NewFromInt(whole)).
		Mul(hundred).
		Round(0).
		IntPart()
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
