package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatherly/config"
	"gatherly/internal/status"
)

const testSigningKey = "test-signing-key"

func setupTestOverrideService() *OverrideService {
	cfg := &config.Config{
		OverrideSigningKey:  testSigningKey,
		OverrideGrantTTL:    5 * time.Minute,
		MinJustificationLen: 10,
	}
	return NewOverrideService(nil, cfg)
}

func signTestGrant(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func testGrantClaims(iat time.Time, ttl time.Duration) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "ABC123",
		"evt": "evt1",
		"azr": "user1",
		"azn": "Alice Organizer",
		"rsn": "guest vouched for at the door",
		"gst": "Jane Doe",
		"blk": "chargeback dispute",
		"jti": "grant-1",
		"iat": iat.Unix(),
		"exp": iat.Add(ttl).Unix(),
	}
}

func TestOverrideService_Introspect_ValidGrant(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, testSigningKey, testGrantClaims(time.Now(), 5*time.Minute))

	meta, err := service.parseGrant("evt1", "ABC123", token)

	require.NoError(t, err)
	assert.Equal(t, "evt1", meta.EventID)
	assert.Equal(t, "ABC123", meta.Code)
	assert.Equal(t, "user1", meta.Authorizer)
	assert.Equal(t, "Alice Organizer", meta.AuthorizerName)
	assert.Equal(t, "guest vouched for at the door", meta.Justification)
	assert.Equal(t, "Jane Doe", meta.GuestName)
	assert.Equal(t, "chargeback dispute", meta.OriginalBlockReason)
	assert.Greater(t, meta.Remaining, 4*time.Minute)
	assert.LessOrEqual(t, meta.Remaining, 5*time.Minute)
}

func TestOverrideService_Introspect_ExpiredGrant(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, testSigningKey, testGrantClaims(time.Now().Add(-10*time.Minute), 5*time.Minute))

	_, err := service.parseGrant("evt1", "ABC123", token)

	assert.ErrorIs(t, err, status.ErrGrantExpired)
}

func TestOverrideService_Introspect_EventMismatch(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, testSigningKey, testGrantClaims(time.Now(), 5*time.Minute))

	_, err := service.parseGrant("evt2", "ABC123", token)

	assert.ErrorIs(t, err, status.ErrGrantMismatch)
}

func TestOverrideService_Introspect_CodeMismatch(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, testSigningKey, testGrantClaims(time.Now(), 5*time.Minute))

	_, err := service.parseGrant("evt1", "OTHER99", token)

	assert.ErrorIs(t, err, status.ErrGrantMismatch)
}

func TestOverrideService_Introspect_GarbageToken(t *testing.T) {
	service := setupTestOverrideService()

	_, err := service.parseGrant("evt1", "ABC123", "not.a.token")

	assert.ErrorIs(t, err, status.ErrGrantMalformed)
}

func TestOverrideService_Introspect_ForgedSignature(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, "attacker-key", testGrantClaims(time.Now(), 5*time.Minute))

	_, err := service.parseGrant("evt1", "ABC123", token)

	assert.ErrorIs(t, err, status.ErrGrantMalformed)
}

func TestOverrideService_Introspect_ExpiredBeatsMismatch(t *testing.T) {
	service := setupTestOverrideService()
	token := signTestGrant(t, testSigningKey, testGrantClaims(time.Now().Add(-10*time.Minute), 5*time.Minute))

	// An expired grant reports expiry even when scanned at the wrong event,
	// so staff ask for a fresh grant instead of chasing a mismatch.
	_, err := service.parseGrant("evt2", "ABC123", token)

	assert.ErrorIs(t, err, status.ErrGrantExpired)
}
