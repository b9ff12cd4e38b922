// Package tariff переводит оплаченную сумму в срок продления аренды.
package tariff

import (
	"fmt"

	"github.com/mmeshcher/cellrent/internal/model"
)

// Flat — тариф с фиксированной ценой за период. Неполный период оплачивается
// посуточно, остаток меньше суток отбрасывается.
type Flat struct {
	PeriodDays       int
	PeriodPriceMinor int64
}

// NewFlat создаёт тариф: periodPriceMinor копеек за periodDays дней.
func NewFlat(periodDays int, periodPriceMinor int64) (*Flat, error) {
	if periodDays <= 0 {
		return nil, fmt.Errorf("tariff period must be positive, got %d", periodDays)
	}
	if periodPriceMinor <= 0 {
		return nil, fmt.Errorf("tariff price must be positive, got %d", periodPriceMinor)
	}
	return &Flat{PeriodDays: periodDays, PeriodPriceMinor: periodPriceMinor}, nil
}

// ExtensionDays возвращает число полных дней, оплаченных суммой amountMinor.
func (t *Flat) ExtensionDays(amountMinor int64) (int, error) {
	if amountMinor <= 0 {
		return 0, &model.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	days := amountMinor * int64(t.PeriodDays) / t.PeriodPriceMinor
	if days < 1 {
		return 0, &model.ValidationError{Field: "amount", Reason: "does not cover a single day"}
	}

	return int(days), nil
}
