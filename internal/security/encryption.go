package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/scrypt"
)

// ErrIntegrity is returned when an encrypted payload fails verification
var ErrIntegrity = errors.New("integrity verification failed")

// EncryptionConfig defines encryption parameters
type EncryptionConfig struct {
	// SCRYPT parameters
	SCryptN      int // CPU/memory cost parameter (32768 minimum)
	SCryptR      int // Block size parameter (8 recommended)
	SCryptP      int // Parallelization parameter (1 recommended)
	SCryptKeyLen int // Key length in bytes (32 for AES-256)

	// AES-GCM parameters
	NonceSize int // 96-bit nonce size for GCM
	TagSize   int // 128-bit authentication tag
}

// EncryptedPayload is the on-disk form of an encrypted blob
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`
	Timestamp  int64  `json:"timestamp"`
}

// DefaultEncryptionConfig returns the production encryption configuration
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// EncryptBlob encrypts plaintext with AES-256-GCM under a key derived from
// secret with SCRYPT. aad is authenticated but not stored.
func EncryptBlob(plaintext, secret, aad []byte, config *EncryptionConfig) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(secret) < 16 {
		return nil, errors.New("secret must be at least 16 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, key, err := newGCM(secret, salt, config)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)

	nonce := make([]byte, config.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	authTag := sealed[len(sealed)-config.TagSize:]
	ciphertext := sealed[:len(sealed)-config.TagSize]

	return &EncryptedPayload{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Integrity:  generateIntegrityHash(ciphertext, salt, nonce),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// DecryptBlob reverses EncryptBlob. Any verification failure wraps ErrIntegrity.
func DecryptBlob(payload *EncryptedPayload, secret, aad []byte, config *EncryptionConfig) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if len(secret) < 16 {
		return nil, errors.New("secret must be at least 16 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrIntegrity, payload.Version)
	}

	expected := generateIntegrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if !SecureCompare(payload.Integrity, expected) {
		return nil, fmt.Errorf("%w: integrity hash mismatch", ErrIntegrity)
	}
	if len(payload.Nonce) != config.NonceSize || len(payload.AuthTag) != config.TagSize {
		return nil, fmt.Errorf("%w: bad nonce or tag size", ErrIntegrity)
	}

	gcm, key, err := newGCM(secret, payload.Salt, config)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)

	full := make([]byte, 0, len(payload.Ciphertext)+len(payload.AuthTag))
	full = append(full, payload.Ciphertext...)
	full = append(full, payload.AuthTag...)

	plaintext, err := gcm.Open(nil, payload.Nonce, full, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// newGCM derives the key and builds the AEAD; the caller zeroes the key
func newGCM(secret, salt []byte, config *EncryptionConfig) (cipher.AEAD, []byte, error) {
	key, err := scrypt.Key(secret, salt, config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		ZeroBytes(key)
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		ZeroBytes(key)
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, key, nil
}

// generateIntegrityHash creates a hash for binary integrity verification
func generateIntegrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte("ISXLIC-INTEGRITY-V1")) // domain separator
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

// ValidateEncryptionConfig validates encryption configuration parameters
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768 for high security")
	}
	if config.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if config.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	return nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ZeroBytes overwrites b in place
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
