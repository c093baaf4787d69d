package mapstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrCryptoUnavailable is returned when encryption was requested but no
// working cryptographic capability is configured. The store refuses to
// fall back to plaintext; only an explicit enable_encryption=false can
// produce an unencrypted artifact.
var ErrCryptoUnavailable = errors.New("encryption requested but crypto capability is unavailable")

// CryptoProvider seals and opens the serialized mapping artifact. Absence
// of the capability is a typed, testable condition (UnavailableProvider),
// not a runtime import accident.
type CryptoProvider interface {
	Available() bool
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// AESProvider implements CryptoProvider with AES-256-GCM. GCM gives both
// confidentiality and integrity: a tampered artifact or a wrong key fails
// to open instead of yielding garbage mappings.
type AESProvider struct {
	key []byte
}

// NewAESProvider wraps an existing 32-byte key.
func NewAESProvider(key []byte) (*AESProvider, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return &AESProvider{key: key}, nil
}

// NewAESProviderFromKeyFile loads the key from keyPath, generating and
// persisting a fresh 256-bit key (mode 0600) when the file does not exist.
func NewAESProviderFromKeyFile(keyPath string) (*AESProvider, error) {
	key, err := os.ReadFile(keyPath)
	if err == nil {
		return NewAESProvider(key)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return NewAESProvider(key)
}

// Available implements CryptoProvider.
func (p *AESProvider) Available() bool { return true }

// Seal encrypts plaintext and prepends the random nonce.
func (p *AESProvider) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal-produced blob, verifying integrity.
func (p *AESProvider) Open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// UnavailableProvider is the capability object selected when no usable key
// material exists. Every operation reports ErrCryptoUnavailable.
type UnavailableProvider struct{}

// Available implements CryptoProvider.
func (UnavailableProvider) Available() bool { return false }

// Seal implements CryptoProvider.
func (UnavailableProvider) Seal([]byte) ([]byte, error) { return nil, ErrCryptoUnavailable }

// Open implements CryptoProvider.
func (UnavailableProvider) Open([]byte) ([]byte, error) { return nil, ErrCryptoUnavailable }
