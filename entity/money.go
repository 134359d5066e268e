package entity

import (
	"math"
	"strconv"
)

type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney formats an amount held in minor units, e.g. 5000 with exponent 2
// becomes "50.00".
func NewMoney(minor int64, currency string, exponent int) Money {
	if exponent <= 0 {
		return Money{Amount: strconv.FormatInt(minor, 10), Currency: currency}
	}
	return Money{
		Amount:   strconv.FormatFloat(float64(minor)/math.Pow10(exponent), 'f', exponent, 64),
		Currency: currency,
	}
}

// ToMinorUnits converts a gateway reported decimal amount into minor units,
// rounding to the currency precision.
func ToMinorUnits(amount float64, exponent int) int64 {
	return int64(math.Round(amount * math.Pow10(exponent)))
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, exponent int) float64 {
	return float64(minor) / math.Pow10(exponent)
}
