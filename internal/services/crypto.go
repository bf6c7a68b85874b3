package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/stackmelt/cargohold/internal/config"
)

const (
	kdfIterations = 100000
	// defaultKDFSalt is used when no salt is configured, so that a config
	// encrypted on one install can be decrypted on a reinstall with the same
	// master passphrase.
	defaultKDFSalt = "cargohold-kdf-v1"
)

// CryptoService encrypts and decrypts sensitive configuration values with
// AES-256-GCM.
type CryptoService struct {
	key []byte // 32-byte key for AES-256
}

// NewCryptoService creates a CryptoService with the provided encryption key.
// The key must be exactly 32 bytes for AES-256.
func NewCryptoService(key []byte) (*CryptoService, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes for AES-256")
	}
	return &CryptoService{key: key}, nil
}

// NewCryptoServiceFromConfig resolves the key per the security section: a
// master passphrase is stretched with PBKDF2-SHA256, otherwise a random key is
// read from (or generated into) the configured key file.
func NewCryptoServiceFromConfig(sec config.SecurityConfig) (*CryptoService, error) {
	if sec.MasterPassphrase != "" {
		return NewCryptoService(DeriveKey(sec.MasterPassphrase, sec.KDFSalt))
	}

	key, err := loadOrCreateKeyFile(sec.KeyFile)
	if err != nil {
		return nil, err
	}
	return NewCryptoService(key)
}

// DeriveKey stretches a master passphrase into a 32-byte AES key. The salt is
// a hex string; anything unparseable falls back to the fixed default salt.
func DeriveKey(passphrase, hexSalt string) []byte {
	salt := []byte(defaultKDFSalt)
	if hexSalt != "" {
		if decoded, err := hex.DecodeString(hexSalt); err == nil && len(decoded) > 0 {
			salt = decoded
		}
	}
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New)
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(string(data))
		if decErr != nil || len(key) != 32 {
			return nil, errors.New("key file is corrupt: expected 64 hex characters")
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM and returns base64-encoded ciphertext.
func (s *CryptoService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext using AES-256-GCM.
func (s *CryptoService) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// DecryptString implements config.Decryptor for the ENC(...) value wrapper.
func (s *CryptoService) DecryptString(ciphertext string) (string, error) {
	return s.Decrypt(ciphertext)
}
