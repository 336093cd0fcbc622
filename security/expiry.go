package security

import "time"

// Live reports whether an expiring fact (temporary block, reentrancy lock,
// override grant) is still in force at now. A zero expiry never expires.
// Temporary blocks, lock staleness and grant TTLs all route through this one
// predicate instead of three separate date-math blocks.
func Live(expiresAt time.Time, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return now.Before(expiresAt)
}

// Remaining returns the time left before an expiring fact lapses, clamped
// at zero.
func Remaining(expiresAt time.Time, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
