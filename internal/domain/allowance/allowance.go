// Package allowance answers how much a patient may still buy and at what
// strength. Everything here is a pure function of its inputs.
package allowance

import "time"

// DefaultCap is the lifetime can allowance granted by a prescription.
const DefaultCap = 60

// AllowedStrengths are the nicotine strengths, in mg, a prescription may name.
var AllowedStrengths = []int{3, 6, 9}

func IsValidStrength(mg int) bool {
	for _, s := range AllowedStrengths {
		if s == mg {
			return true
		}
	}
	return false
}

func nonNeg(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// RemainingForCart is what an add-to-cart may still use: the cap minus past
// orders minus what already sits in the cart, floored at zero.
func RemainingForCart(orderedQty, cartQty, cap int) int {
	return nonNeg(cap - nonNeg(orderedQty) - nonNeg(cartQty))
}

// RemainingAtCheckout ignores the cart, which is about to become an order.
func RemainingAtCheckout(orderedQty, cap int) int {
	return nonNeg(cap - nonNeg(orderedQty))
}

// IsStrengthAllowed permits stepping down in strength, never up.
func IsStrengthAllowed(variantMg, maxMg int) bool {
	return variantMg <= maxMg
}

// IsExpired reports whether expiresAt is set and not after now. A nil
// expiry never lapses.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}

// PercentUsed is the share of cap consumed by orders and cart, clamped to
// [0, 100].
func PercentUsed(orderedQty, cartQty, cap int) int {
	used := nonNeg(orderedQty) + nonNeg(cartQty)
	if cap <= 0 {
		if used > 0 {
			return 100
		}
		return 0
	}
	pct := 100 * used / cap
	if pct > 100 {
		return 100
	}
	return pct
}

// Permits is the caller-side check against a remaining figure.
func Permits(qty, remaining int) bool {
	return qty > 0 && qty <= remaining
}
