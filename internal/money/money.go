// Package money переводит суммы между десятичной записью и минимальными единицами.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// MinorDigits — число знаков после запятой у поддерживаемых валют.
const MinorDigits = 2

// ParseMinor разбирает строку вида "5.00" в минимальные единицы (500).
func ParseMinor(raw string) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", domain.ErrValidation, raw)
	}
	return FromDecimal(amount)
}

// FromDecimal переводит сумму в минимальные единицы; дробные копейки недопустимы.
func FromDecimal(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", domain.ErrValidation, amount.String())
	}
	shifted := amount.Shift(MinorDigits)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", domain.ErrValidation, amount.String(), MinorDigits)
	}
	return shifted.IntPart(), nil
}

// FormatMinor форматирует минимальные единицы как "13.00".
func FormatMinor(minor int64) string {
	return decimal.New(minor, -MinorDigits).StringFixed(MinorDigits)
}
