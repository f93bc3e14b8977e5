// Package encryption provides at-rest encryption for memory content.
//
// The service layer encrypts content before it reaches the store and
// decrypts on the way out; the store and the search engine only ever see
// ciphertext (embeddings are computed from plaintext before encryption, so
// semantic search keeps working).
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Provider encrypts and decrypts memory content.
type Provider interface {
	// Encrypt returns the ciphertext for plaintext.
	Encrypt(plaintext string) (string, error)

	// Decrypt returns the plaintext for ciphertext.
	Decrypt(ciphertext string) (string, error)

	// Enabled reports whether this provider actually transforms content.
	Enabled() bool
}

// Noop passes content through unchanged, for deployments that keep the
// store on an already-encrypted volume.
type Noop struct{}

// NewNoop returns a pass-through provider.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (n *Noop) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
func (n *Noop) Enabled() bool                             { return false }

// AESGCM encrypts content with AES-256-GCM. Output is base64 of
// nonce||ciphertext, so a fresh nonce travels with every value.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM creates a provider from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce.
func (a *AESGCM) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (a *AESGCM) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := a.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}
	plaintext, err := a.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Enabled reports true.
func (a *AESGCM) Enabled() bool {
	return true
}
