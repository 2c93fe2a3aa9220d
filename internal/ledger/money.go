package ledger

import (
	"math"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
)

// MaxRate bounds a nightly unit rate or a per-head tour rate, in minor
// units.
const MaxRate int64 = 100_000_000_000

func checkRate(field string, rate int64) error {
	if rate < 0 {
		return apperr.ValidationField(field, "rate must not be negative")
	}
	if rate > MaxRate {
		return apperr.ValidationField(field, "rate must be at most %d", MaxRate)
	}
	return nil
}

// mulAmount multiplies two non-negative amounts, failing instead of
// wrapping.
func mulAmount(field string, a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, apperr.ValidationField(field, "amount must not be negative")
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, apperr.ValidationField(field, "amount is too large")
	}
	return a * b, nil
}

// addAmount adds two non-negative amounts, failing instead of wrapping.
func addAmount(field string, a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, apperr.ValidationField(field, "amount must not be negative")
	}
	if b > math.MaxInt64-a {
		return 0, apperr.ValidationField(field, "amount is too large")
	}
	return a + b, nil
}
