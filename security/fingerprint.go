package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"gatherly/models"
)

// Fingerprint derives the duplicate-detection key for a guest identity.
// It is a one-way digest over the normalized non-empty identity fields the
// configured mode selects, joined in fixed order. Two invites with equal
// fingerprints are treated as "the same person" by duplicate detection —
// a heuristic, not an identity proof.
//
// Modes:
//
//	strict   — name, email and phone all contribute
//	moderate — name plus one contact field (email preferred over phone)
//	lenient  — name only
//
// Returns "" when no selected field is present (nothing to compare).
func Fingerprint(name, email, phone, mode string) string {
	name = normalizeName(name)
	email = normalizeEmail(email)
	phone = normalizePhone(phone)

	var parts []string
	switch mode {
	case models.DuplicateModeLenient:
		parts = collect(name)
	case models.DuplicateModeModerate:
		contact := email
		if contact == "" {
			contact = phone
		}
		parts = collect(name, contact)
	default: // strict
		parts = collect(name, email, phone)
	}

	if len(parts) == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func collect(fields ...string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePhone keeps digits only, so "+1 (555) 010-2030" and "15550102030"
// compare equal.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
