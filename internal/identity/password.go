package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt. The salt and
// cost factor are embedded in the produced hash.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the candidate matches the stored hash.
// Fails closed: a malformed or empty hash yields false, never an error
// to the caller. The underlying comparison is constant-time.
func VerifyPassword(storedHash, candidate string) bool {
	if storedHash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate)) == nil
}
