package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits every stored amount keeps.
const MoneyScale = 2

// CheckAmount rejects amounts that are not positive or that carry more
// fractional digits than the store can hold without rounding.
func CheckAmount(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return Invalid("%s must be positive, got %s", name, d)
	}
	if !d.Equal(d.Truncate(MoneyScale)) {
		return Invalid("%s %s has more than %d decimal places", name, d, MoneyScale)
	}
	return nil
}
