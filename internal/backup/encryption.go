package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"time"
)

const (
	algorithmNone   = "NONE"
	algorithmAESGCM = "AES-256-GCM"
)

// EncryptionStats describes one Encrypt call
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	KeyDerivation string        `json:"key_derivation,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// EncryptionManager seals artifact objects with AES-256-GCM.
//
// A sealed object is nonce||ciphertext. With a passphrase the key is derived per object
// and the random salt is prepended: salt||nonce||ciphertext.
type EncryptionManager struct {
	config *EncryptionConfig
}

func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	if config == nil {
		config = &EncryptionConfig{}
	}
	return &EncryptionManager{config: config}
}

func (em *EncryptionManager) IsEnabled() bool { return em.config.Enabled }

func (em *EncryptionManager) GetAlgorithm() string {
	if em.config.Enabled {
		return algorithmAESGCM
	}
	return algorithmNone
}

// aead resolves the key for one object. salt is nil unless the key is derived.
func (em *EncryptionManager) aead(salt []byte) (cipher.AEAD, error) {
	var key []byte
	var err error
	if em.config.DerivesKey() {
		key, err = em.config.DeriveKey(salt)
	} else {
		key, err = em.config.GetEncryptionKey()
	}
	if err != nil {
		return nil, NewEncryptionError("failed to get encryption key", err)
	}
	if len(key) != encryptionKeySize {
		return nil, NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

func randomBytes(n int, what string) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, NewEncryptionError("failed to generate "+what, err)
	}
	return b, nil
}

// Encrypt seals data; with encryption disabled it is returned unchanged
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, *EncryptionStats, error) {
	stats := &EncryptionStats{
		OriginalSize:  int64(len(data)),
		EncryptedSize: int64(len(data)),
		Algorithm:     algorithmNone,
	}
	if !em.config.Enabled {
		return data, stats, nil
	}

	start := time.Now()
	var salt []byte
	if em.config.DerivesKey() {
		var err error
		if salt, err = randomBytes(keyDerivationSaltSize, "salt"); err != nil {
			return nil, nil, err
		}
	}

	gcm, err := em.aead(salt)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := randomBytes(gcm.NonceSize(), "nonce")
	if err != nil {
		return nil, nil, err
	}

	prefix := append(salt, nonce...)
	sealed := gcm.Seal(prefix, nonce, data, nil)

	stats.EncryptedSize = int64(len(sealed))
	stats.Algorithm = algorithmAESGCM
	stats.KeyDerivation = em.config.KeySource
	stats.Duration = time.Since(start)
	return sealed, stats, nil
}

// Decrypt opens data sealed by Encrypt under the same configuration
func (em *EncryptionManager) Decrypt(sealed []byte) ([]byte, error) {
	if !em.config.Enabled {
		return sealed, nil
	}

	var salt []byte
	if em.config.DerivesKey() {
		if len(sealed) < keyDerivationSaltSize {
			return nil, NewEncryptionError("encrypted data too short", nil)
		}
		salt, sealed = sealed[:keyDerivationSaltSize], sealed[keyDerivationSaltSize:]
	}

	gcm, err := em.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

// GenerateKey returns a random 256-bit key
func GenerateKey() ([]byte, error) {
	return randomBytes(encryptionKeySize, "encryption key")
}
