package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateInviteCode returns an uppercase hex code of n random bytes,
// used as the external identifier printed on an invite.
func GenerateInviteCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// NewScanSession returns a fresh session identifier for one scan/admission
// request flow. The reentrancy lock keys off this value, so retries within
// the same flow must reuse it.
func NewScanSession() string {
	return "scan_" + uuid.NewString()
}

// GeneratePIN returns a numeric security PIN of the given length.
func GeneratePIN(length int) (string, error) {
	const charset = "0123456789"

	code := make([]byte, length)

	if _, err := rand.Read(code); err != nil {
		return "", err
	}

	for i := 0; i < length; i++ {
		code[i] = charset[int(code[i])%len(charset)]
	}

	return string(code), nil
}
