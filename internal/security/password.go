package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for interactive login.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltSize     = 16
)

// PasswordHasher derives argon2id hashes with a per-account salt. Hash and
// salt are stored base64-encoded in separate columns.
type PasswordHasher struct{}

func NewPasswordHasher() *PasswordHasher { return &PasswordHasher{} }

func (h *PasswordHasher) Hash(password string) (hash string, salt string, err error) {
	raw := make([]byte, saltSize)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), raw, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(key), base64.RawStdEncoding.EncodeToString(raw), nil
}

// Verify recomputes the hash under the stored salt and compares in constant
// time. A malformed stored value verifies as false, never as an error the
// caller could distinguish from a wrong password.
func (h *PasswordHasher) Verify(password, storedHash, storedSalt string) bool {
	salt, err := base64.RawStdEncoding.DecodeString(storedSalt)
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(storedHash)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}
