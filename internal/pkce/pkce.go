// Package pkce implements Proof Key for Code Exchange (RFC 7636) with the
// S256 challenge method. Verifiers are generated from the unreserved
// character set and challenges are base64url-encoded SHA-256 digests.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// MethodS256 is the only code_challenge_method this server accepts.
const MethodS256 = "S256"

const (
	// MinVerifierLength and MaxVerifierLength bound code_verifier length
	// per RFC 7636 Section 4.1.
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultVerifierLength is used when callers do not care.
	DefaultVerifierLength = 64

	// challengeLength is the length of a base64url-encoded SHA-256 digest
	// without padding.
	challengeLength = 43
)

// unreserved is the RFC 3986 unreserved character set permitted in verifiers.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GenerateVerifier returns a cryptographically random code_verifier of the
// requested length, clamped to [43, 128].
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength {
		length = MinVerifierLength
	}
	if length > MaxVerifierLength {
		length = MaxVerifierLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	for i, b := range buf {
		buf[i] = unreserved[int(b)%len(unreserved)]
	}
	return string(buf), nil
}

// ChallengeFromVerifier computes the S256 code_challenge for a verifier:
// BASE64URL(SHA256(verifier)), no padding. The result is always 43 characters.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateVerifier rejects malformed verifiers before any hashing happens.
func ValidateVerifier(verifier string) error {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code verifier length must be between %d and %d characters", MinVerifierLength, MaxVerifierLength)
	}
	for _, c := range verifier {
		if !isUnreserved(c) {
			return fmt.Errorf("code verifier contains invalid character %q", c)
		}
	}
	return nil
}

// ValidateChallenge checks that a challenge is shaped like an S256 digest.
func ValidateChallenge(challenge string) error {
	if len(challenge) != challengeLength {
		return fmt.Errorf("code challenge must be exactly %d characters", challengeLength)
	}
	for _, c := range challenge {
		if !isBase64URL(c) {
			return fmt.Errorf("code challenge contains invalid character %q", c)
		}
	}
	return nil
}

// Verify recomputes the challenge from the verifier and compares. The method
// must be S256; anything else is an error, not a false result. The challenge
// is not secret, so plain string comparison is sufficient — but callers must
// never log or echo the verifier.
func Verify(verifier, challenge, method string) (bool, error) {
	if method != MethodS256 {
		return false, fmt.Errorf("unsupported code_challenge_method %q: only S256 is supported", method)
	}
	if err := ValidateVerifier(verifier); err != nil {
		return false, err
	}
	if err := ValidateChallenge(challenge); err != nil {
		return false, err
	}
	return ChallengeFromVerifier(verifier) == challenge, nil
}

func isUnreserved(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

func isBase64URL(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
