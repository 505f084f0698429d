// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertext is returned when stored text cannot be opened with the
// configured key.
var ErrCiphertext = errors.New("invalid ciphertext")

// TextCipher seals message text at rest with AES-GCM. Output format is
// base64(nonce || ciphertext); every call draws a fresh nonce.
type TextCipher struct {
	gcm cipher.AEAD
}

// NewTextCipher builds a cipher from key. A 16, 24 or 32 byte key is used as
// is (AES-128/192/256); any other non-empty key is stretched with SHA-256.
func NewTextCipher(key string) (*TextCipher, error) {
	k := []byte(key)
	switch len(k) {
	case 0:
		return nil, errors.New("encryption key is empty")
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(k)
		k = sum[:]
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &TextCipher{gcm: gcm}, nil
}

func (c *TextCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (c *TextCipher) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(pt), nil
}
