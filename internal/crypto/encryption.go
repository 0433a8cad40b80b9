// Package crypto provides at-rest encryption for persisted credential state.
// Files are sealed with AES-256-GCM under a key derived from an operator
// passphrase via scrypt. Each file carries its own salt and nonce, so the
// same passphrase never produces the same ciphertext twice.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 16
	keySize  = 32

	// scrypt parameters per the library's recommended interactive profile.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// EncryptionService seals and opens small state files. It holds only the
// passphrase; keys are derived per file.
type EncryptionService struct {
	passphrase []byte
}

// NewEncryptionService creates a service from an operator passphrase.
func NewEncryptionService(passphrase string) (*EncryptionService, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase must not be empty")
	}
	return &EncryptionService{passphrase: []byte(passphrase)}, nil
}

// Encrypt seals plaintext into a self-describing blob: salt || nonce || ciphertext.
func (s *EncryptionService) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (s *EncryptionService) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt, rest := blob[:saltSize], blob[saltSize:]

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptToFile seals plaintext and writes it to path (0600), creating parent
// directories as needed.
func (s *EncryptionService) EncryptToFile(plaintext []byte, path string) error {
	blob, err := s.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DecryptFromFile opens the file at path. A missing file yields (nil, nil) so
// stores can start empty on first boot.
func (s *EncryptionService) DecryptFromFile(path string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Decrypt(blob)
}

func (s *EncryptionService) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
