package security

import "golang.org/x/crypto/bcrypt"

// HashPIN returns the bcrypt hash stored on an invite. PINs are short and
// numeric, so only the hash ever touches the database.
func HashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPIN safely compares a stored hash against a supplied PIN.
func VerifyPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
