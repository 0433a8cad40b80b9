package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// rsaKeyBits is the modulus size for generated signing keys.
const rsaKeyBits = 2048

// KeyManager holds the RS256 signing key pair and its JWKS key id.
type KeyManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	kid        string
}

// NewKeyManager parses an RSA private key from PEM (PKCS1 or PKCS8). Escaped
// newlines are tolerated so the key can be passed through an env var.
func NewKeyManager(privatePEM string) (*KeyManager, error) {
	privatePEM = strings.ReplaceAll(privatePEM, `\n`, "\n")

	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("unable to parse RSA private key")
	}

	pub := &key.PublicKey
	kid, err := computeKID(pub)
	if err != nil {
		return nil, err
	}

	return &KeyManager{privateKey: key, publicKey: pub, kid: kid}, nil
}

func (k *KeyManager) PrivateKey() *rsa.PrivateKey {
	return k.privateKey
}

func (k *KeyManager) PublicKey() *rsa.PublicKey {
	return k.publicKey
}

func (k *KeyManager) KID() string {
	return k.kid
}

// GenerateKeyPair produces a fresh 2048-bit RSA pair as PEM: PKCS8 for the
// private key, SPKI for the public key. Used by the genkeys provisioning
// tool; rotation of a live server's key is an operational concern.
func GenerateKeyPair() (privatePEM, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}

func computeKID(pub *rsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
