package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gatherly/models"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Jane Doe", "jane@example.com", "+1 555 010 2030", models.DuplicateModeStrict)
	b := Fingerprint("Jane Doe", "jane@example.com", "+1 555 010 2030", models.DuplicateModeStrict)

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
}

func TestFingerprint_NormalizesCaseAndWhitespace(t *testing.T) {
	a := Fingerprint("Jane Doe", "jane@example.com", "", models.DuplicateModeStrict)
	b := Fingerprint("  JANE   doe ", " Jane@Example.COM ", "", models.DuplicateModeStrict)

	assert.Equal(t, a, b)
}

func TestFingerprint_NormalizesPhonePunctuation(t *testing.T) {
	a := Fingerprint("Jane Doe", "", "+1 (555) 010-2030", models.DuplicateModeStrict)
	b := Fingerprint("Jane Doe", "", "15550102030", models.DuplicateModeStrict)

	assert.Equal(t, a, b)
}

func TestFingerprint_EmptyIdentity(t *testing.T) {
	assert.Empty(t, Fingerprint("", "", "", models.DuplicateModeStrict))
	assert.Empty(t, Fingerprint("   ", "", "", models.DuplicateModeLenient))
	assert.Empty(t, Fingerprint("", "jane@example.com", "", models.DuplicateModeLenient))
}

func TestFingerprint_Modes(t *testing.T) {
	strict := Fingerprint("Jane Doe", "jane@example.com", "5550102030", models.DuplicateModeStrict)
	moderate := Fingerprint("Jane Doe", "jane@example.com", "5550102030", models.DuplicateModeModerate)
	lenient := Fingerprint("Jane Doe", "jane@example.com", "5550102030", models.DuplicateModeLenient)

	// Each mode hashes a different field subset.
	assert.NotEqual(t, strict, moderate)
	assert.NotEqual(t, moderate, lenient)
	assert.NotEqual(t, strict, lenient)

	// Lenient ignores contact fields entirely.
	assert.Equal(t, lenient, Fingerprint("Jane Doe", "other@example.com", "999", models.DuplicateModeLenient))
}

func TestFingerprint_ModeratePrefersEmailOverPhone(t *testing.T) {
	withEmail := Fingerprint("Jane Doe", "jane@example.com", "5550102030", models.DuplicateModeModerate)
	emailOnly := Fingerprint("Jane Doe", "jane@example.com", "", models.DuplicateModeModerate)
	phoneOnly := Fingerprint("Jane Doe", "", "5550102030", models.DuplicateModeModerate)

	assert.Equal(t, emailOnly, withEmail)
	assert.NotEqual(t, phoneOnly, withEmail)
}
