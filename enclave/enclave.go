// Package enclave is an in-process implementation of the external
// encrypt/decrypt capability: AES-256-GCM with JWE framing. The
// production deployment delegates these two calls to a confidential-
// computing service; this package stands in for it in tests, the CLI
// and development setups. The hash returned by Encrypt is the hex
// SHA-256 of the plaintext and is re-checked on Decrypt.
package enclave

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

var (
	ErrBadKey       = errors.New("enclave key must be 32 bytes")
	ErrHashMismatch = errors.New("dataToEncryptHash does not match ciphertext contents")
)

// Service encrypts and decrypts under a fixed symmetric key.
type Service struct {
	key []byte
}

// NewService creates a service from a 32-byte key.
func NewService(key []byte) (*Service, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d", ErrBadKey, len(key))
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &Service{key: k}, nil
}

// NewServiceFromECDH derives the service key from a secp256k1 ECDH
// agreement between the two hex-encoded keys.
func NewServiceFromECDH(privKeyHex, peerPubKeyHex string) (*Service, error) {
	key, err := SharedKey(privKeyHex, peerPubKeyHex)
	if err != nil {
		return nil, err
	}
	return NewService(key)
}

// NewEphemeralService draws a random key. Useful in tests.
func NewEphemeralService() (*Service, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to draw enclave key: %w", err)
	}
	return NewService(key)
}

// Encrypt seals the plaintext and returns the JWE ciphertext together
// with the hex SHA-256 of the plaintext. The access policy is not
// enforced here: the protocol's gating happens at the verification
// layer, and the policy travels with the bundle as a descriptor.
func (s *Service) Encrypt(ctx context.Context, plaintext string, policy map[string]any) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	gcm, err := s.aead()
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("failed to draw nonce: %w", err)
	}

	protected := protectedHeader()
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), []byte(protected))

	hash := sha256.Sum256([]byte(plaintext))

	return buildJWE(protected, nonce, sealed), hex.EncodeToString(hash[:]), nil
}

// Decrypt opens the JWE and checks the plaintext against the expected
// hash. A mismatch means the bundle's ciphertext and hash have
// diverged and the plaintext is withheld.
func (s *Service) Decrypt(ctx context.Context, ciphertext, dataToEncryptHash string, policy map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	protected, nonce, sealed, err := parseJWE(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(protected))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	hash := sha256.Sum256(plaintext)
	if hex.EncodeToString(hash[:]) != dataToEncryptHash {
		return "", ErrHashMismatch
	}

	return string(plaintext), nil
}

func (s *Service) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	return gcm, nil
}
