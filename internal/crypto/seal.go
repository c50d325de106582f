// Package crypto seals letter contents under a key derived from the letter's
// secret code and a server-side key, so stored records are unreadable without
// both.
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
	"io"

	"golang.org/x/crypto/hkdf"
)

const nonceSize = 12 // GCM standard nonce size

// MinKeyLen is the shortest server key accepted by NewSealer.
const MinKeyLen = 16

// Lookup digests and sealing keys come from the same code, so each uses its
// own prefix.
const (
	lookupPrefix = "letters/lookup:"
	sealPrefix   = "letters/seal:"
)

var ErrShortKey = errors.New("seal key too short")

// Sealer binds lookups and encryption to a server key. Without the key a
// store dump cannot be brute-forced for short codes.
type Sealer struct {
	key []byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) < MinKeyLen {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrShortKey, MinKeyLen)
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// RandomKey returns a fresh 32 byte key, for stores that do not outlive the
// process.
func RandomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return key, nil
}

// Digest is the storage key for a secret code.
func (s *Sealer) Digest(code string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(lookupPrefix + code))
	return hex.EncodeToString(mac.Sum(nil))
}

// SealString encrypts v for code and returns it base64 encoded. Empty input
// stays empty.
func (s *Sealer) SealString(v, code string) (string, error) {
	if v == "" {
		return "", nil
	}
	ct, err := s.Encrypt([]byte(v), code)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(v, code string) (string, error) {
	if v == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("decoding sealed field: %w", err)
	}
	pt, err := s.Decrypt(ct, code)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (s *Sealer) Encrypt(plaintext []byte, code string) ([]byte, error) {
	gcm, err := s.newGCM(code)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Decrypt(ciphertext []byte, code string) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	gcm, err := s.newGCM(code)
	if err != nil {
		return nil, err
	}

	nonce := ciphertext[:nonceSize]
	plaintext, err := gcm.Open(nil, nonce, ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *Sealer) newGCM(code string) (cipher.AEAD, error) {
	key, err := s.deriveKey(code)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return gcm, nil
}

// deriveKey salts HKDF with the server key.
func (s *Sealer) deriveKey(code string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(code), s.key, []byte(sealPrefix)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
