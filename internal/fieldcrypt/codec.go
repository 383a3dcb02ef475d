// Package fieldcrypt protects SSN and IP PIN values before they are stored.
//
// Tokens have the form base64(nonce) "." base64(tag) "." base64(ciphertext)
// using AES-256-GCM with a fresh 96-bit nonce per call. Nothing in this
// package turns a token back into plaintext for callers.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// KeySize is the required key length in bytes.
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
	separator = "."
)

// ErrConfiguration reports a missing or malformed encryption key.
var ErrConfiguration = errors.New("fieldcrypt: SSN_ENCRYPTION_KEY must be 32 bytes (base64)")

// Codec encrypts sensitive digit strings. Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a codec from a raw 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrConfiguration
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, eris.Wrap(ErrConfiguration, err.Error())
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, eris.Wrap(err, "fieldcrypt: init gcm")
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// FromBase64 decodes a standard base64 key and builds a codec.
func FromBase64(encoded string) (*Codec, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrConfiguration
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, eris.Wrap(ErrConfiguration, "decode key")
	}
	return New(key)
}

// Protect encrypts plaintext and returns the opaque token.
func (c *Codec) Protect(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrConfiguration
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", eris.Wrap(err, "fieldcrypt: read nonce")
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + separator +
		enc.EncodeToString(tag) + separator +
		enc.EncodeToString(ciphertext), nil
}

// ProtectOptional returns nil for an empty value so "not supplied" stays
// distinguishable from "supplied and encrypted".
func (c *Codec) ProtectOptional(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	token, err := c.Protect(plaintext)
	if err != nil {
		return nil, err
	}
	return &token, nil
}
