package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RandomString returns a base64url-encoded random string from length bytes of
// entropy. Used for authorization codes, refresh tokens, and session ids.
func RandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomID returns a prefixed random identifier, e.g. "client_xxxxx".
func RandomID(prefix string) (string, error) {
	suffix, err := RandomString(24)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", prefix, suffix), nil
}

// HashToken returns the hex-encoded SHA-256 hash of a token value. Opaque
// tokens are stored hashed so a leaked store cannot be replayed.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
