// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Cipher is the at-rest transform applied at the registry boundary. Ticket
// ids and serialized payloads are encoded before reaching the backing store
// and reversed on read, so a compromised store dump does not directly yield
// usable ticket ids. The transform is invisible to callers of Registry.
type Cipher interface {
	// EncodeID encodes a ticket id into its stored form. The encoding is
	// deterministic so the stored form can serve as a lookup key.
	EncodeID(id string) (string, error)

	// DecodeID reverses EncodeID.
	DecodeID(encoded string) (string, error)

	// EncodePayload encodes a serialized ticket payload.
	EncodePayload(data []byte) ([]byte, error)

	// DecodePayload reverses EncodePayload.
	DecodePayload(data []byte) ([]byte, error)
}

// NoOpCipher passes ids and payloads through unchanged. It is the default
// when at-rest encryption is not configured.
type NoOpCipher struct{}

// EncodeID implements Cipher.
func (NoOpCipher) EncodeID(id string) (string, error) { return id, nil }

// DecodeID implements Cipher.
func (NoOpCipher) DecodeID(encoded string) (string, error) { return encoded, nil }

// EncodePayload implements Cipher.
func (NoOpCipher) EncodePayload(data []byte) ([]byte, error) { return data, nil }

// DecodePayload implements Cipher.
func (NoOpCipher) DecodePayload(data []byte) ([]byte, error) { return data, nil }

const gcmNonceSize = 12

// AESCipher encrypts ids and payloads with AES-GCM.
//
// Ids use a synthetic nonce derived from an HMAC of the plaintext id, which
// makes the encoding deterministic: the same id always encodes to the same
// stored key, so lookups work without an index. Payloads use a random nonce.
type AESCipher struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewAESCipher builds a cipher from a 16-, 24-, or 32-byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid at-rest encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}

	// Separate key for nonce derivation so the AES key is never used as
	// an HMAC key directly.
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("ticket-id-nonce"))

	return &AESCipher{aead: aead, hmacKey: mac.Sum(nil)}, nil
}

// idNonce derives the deterministic nonce for a ticket id.
func (c *AESCipher) idNonce(id string) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(id))
	return mac.Sum(nil)[:gcmNonceSize]
}

// EncodeID implements Cipher.
func (c *AESCipher) EncodeID(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("cannot encode empty ticket id")
	}
	nonce := c.idNonce(id)
	sealed := c.aead.Seal(nil, nonce, []byte(id), nil)
	return base64.RawURLEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// DecodeID implements Cipher.
func (c *AESCipher) DecodeID(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ticket id: %w", err)
	}
	if len(raw) <= gcmNonceSize {
		return "", fmt.Errorf("encoded ticket id too short")
	}
	plain, err := c.aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt ticket id: %w", err)
	}
	return string(plain), nil
}

// EncodePayload implements Cipher.
func (c *AESCipher) EncodePayload(data []byte) ([]byte, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// DecodePayload implements Cipher.
func (c *AESCipher) DecodePayload(data []byte) ([]byte, error) {
	if len(data) <= gcmNonceSize {
		return nil, fmt.Errorf("encoded payload too short")
	}
	plain, err := c.aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plain, nil
}

// Compile-time interface compliance checks
var (
	_ Cipher = NoOpCipher{}
	_ Cipher = (*AESCipher)(nil)
)
