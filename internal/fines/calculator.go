package fines

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// ComputeFine charges dailyRate for every whole day returned is past due.
// Partial days are free, so a copy one hour late owes nothing. A missing due
// date or an on-time return yields zero.
func ComputeFine(due *time.Time, returned time.Time, dailyRate decimal.Decimal) decimal.Decimal {
	if due == nil || !returned.After(*due) {
		return decimal.Zero
	}
	days := int64(returned.Sub(*due) / day)
	if days <= 0 {
		return decimal.Zero
	}
	return dailyRate.Mul(decimal.NewFromInt(days)).Round(2)
}

// OverdueDays is the number of whole days now is past due.
func OverdueDays(due time.Time, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// Calculator binds ComputeFine to the configured daily rate. The zero value
// is unconfigured; a fine-free library passes a zero rate to NewCalculator.
type Calculator struct {
	rate       decimal.Decimal
	configured bool
}

func NewCalculator(dailyRate decimal.Decimal) Calculator {
	return Calculator{rate: dailyRate, configured: true}
}

// Configured reports whether c came from NewCalculator.
func (c Calculator) Configured() bool {
	return c.configured
}

func (c Calculator) Rate() decimal.Decimal {
	return c.rate
}

func (c Calculator) Compute(due *time.Time, returned time.Time) decimal.Decimal {
	return ComputeFine(due, returned, c.rate)
}
