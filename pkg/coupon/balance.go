package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Remaining returns the spendable balance of a coupon, clamped at zero when
// usage was over-reported.
func Remaining(record Coupon) decimal.Decimal {
	remaining := record.Value.Sub(record.UsedValue)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// WalletTotal sums the remaining value of the coupons that count toward the
// owner's spendable total. For-sale coupons, explicitly excluded coupons, and
// one-time vouchers never contribute.
func WalletTotal(records []Coupon) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		if record.IsForSale || record.ExcludeSaving || record.IsOneTime {
			continue
		}
		total = total.Add(Remaining(record))
	}
	return total
}

// IsFullyUsed reports whether a coupon has no value left. One-time vouchers
// are consumed by status transition, not by value comparison: they may carry
// value>0, usedValue=0 and still be spent.
func IsFullyUsed(record Coupon) bool {
	if record.IsOneTime {
		return record.Status == StatusConsumed
	}
	return record.UsedValue.GreaterThanOrEqual(record.Value)
}

// IsExpired reports whether the coupon's expiration date has passed relative
// to now. Coupons without an expiration, or with an unparseable one, never
// expire here.
func IsExpired(record Coupon, now time.Time) bool {
	if record.Expiration == "" {
		return false
	}
	expiration, err := time.Parse(expirationLayout, record.Expiration)
	if err != nil {
		return false
	}
	return expiration.Before(now.Truncate(24 * time.Hour))
}

// UsagePercentage returns consumed value as a share of face value in the
// range [0, 100]. Zero-value coupons report zero.
func UsagePercentage(record Coupon) decimal.Decimal {
	if !record.Value.IsPositive() {
		return decimal.Zero
	}
	percentage := record.UsedValue.Div(record.Value).Mul(decimal.NewFromInt(100))
	if percentage.IsNegative() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	if percentage.GreaterThan(hundred) {
		return hundred
	}
	return percentage
}
