// Package crypto implements the envelope encryption layer: one master key
// per deployment, a derived subkey per user, AES-256-GCM for all stored
// blobs, and the hashing primitives used for deduplication, backup
// integrity, and API token verification.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12

	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// Master key derivation cost when falling back to a passphrase.
	masterKeyIterations = 480_000

	// Per-user subkey derivation cost.
	userKeyIterations = 100_000
)

// ErrAuthentication is returned when a ciphertext fails to decrypt: a
// truncated blob, a tampered tag, or the wrong user's key.
var ErrAuthentication = errors.New("crypto: authentication failed")

// Config carries the key material sources for a Provider.
type Config struct {
	// MasterKeyHex is a 64-character hex encoding of a 256-bit key. When
	// set it is used verbatim.
	MasterKeyHex string

	// Passphrase and Salt feed PBKDF2 when MasterKeyHex is absent. This
	// path is for dev and staging only and is logged as degraded.
	Passphrase string
	Salt       string
}

// Provider derives keys and encrypts/decrypts blobs. A single Provider is
// constructed at startup and shared; it is immutable and safe for
// concurrent use.
type Provider struct {
	masterKey []byte
}

// NewProvider builds a Provider from the configured key material. An
// operator-supplied key must decode to exactly 32 bytes; otherwise the
// master key is derived from the passphrase and the degraded mode is logged.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.MasterKeyHex != "" {
		key, err := hex.DecodeString(cfg.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("crypto: master key is not valid hex: %w", err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("crypto: master key must be %d bytes, got %d", KeySize, len(key))
		}
		return &Provider{masterKey: key}, nil
	}

	if cfg.Passphrase == "" || cfg.Salt == "" {
		return nil, errors.New("crypto: no master key and no passphrase/salt configured")
	}

	log.Printf("crypto: WARNING using passphrase-derived master key, set a master encryption key in production")
	key := pbkdf2.Key([]byte(cfg.Passphrase), []byte(cfg.Salt), masterKeyIterations, KeySize, sha256.New)
	return &Provider{masterKey: key}, nil
}

// UserKey derives the 256-bit subkey for a user. The user identity is the
// salt, so one user's key can be rotated without re-encrypting the corpus
// and a compromised subkey reveals nothing about the others.
func (p *Provider) UserKey(userID string) []byte {
	return pbkdf2.Key(p.masterKey, []byte(userID), userKeyIterations, KeySize, sha256.New)
}

// Encrypt seals plaintext with AES-256-GCM under the given key. The output
// is nonce || ciphertext || tag with a fresh random 96-bit nonce per call.
func (p *Provider) Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failed: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed AES-256-GCM blob. Truncated input and tag
// mismatches both surface as ErrAuthentication.
func (p *Provider) Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) <= NonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthentication)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

// EncryptForUser seals plaintext under the user's derived key.
func (p *Provider) EncryptForUser(plaintext []byte, userID string) ([]byte, error) {
	return p.Encrypt(plaintext, p.UserKey(userID))
}

// DecryptForUser opens a blob sealed under the user's derived key.
func (p *Provider) DecryptForUser(blob []byte, userID string) ([]byte, error) {
	return p.Decrypt(blob, p.UserKey(userID))
}

// HashContent fingerprints plaintext for deduplication. It is computed
// before encryption, so nonce randomness never affects it: identical
// content always collides.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Checksum fingerprints a backup artifact's raw bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns a fresh URL-safe API token.
func GenerateToken() (string, error) {
	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("crypto: token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken hashes an API token for storage; only the hash is ever kept.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken compares a candidate token against a stored hash in constant
// time. It must not short-circuit on the first mismatched byte.
func VerifyToken(candidate, storedHash string) bool {
	return hmac.Equal([]byte(HashToken(candidate)), []byte(storedHash))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init failed: %w", err)
	}
	return gcm, nil
}
