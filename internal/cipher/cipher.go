// Package cipher obfuscates text message bodies in transit. It is a transport
// wrapper, not a security boundary: every client shares the same key.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

type Cipher struct {
	key [32]byte
}

// New derives the box key from the shared secret.
func New(secret string) *Cipher {
	c := &Cipher{}
	c.key = sha256.Sum256([]byte(secret))
	return c
}

// Encrypt seals the text under a random nonce and returns base64. Empty input
// stays empty.
func (c *Cipher) Encrypt(text string) string {
	if text == "" {
		return ""
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return ""
	}
	sealed := secretbox.Seal(nonce[:], []byte(text), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt reverses Encrypt. Anything that does not decode or authenticate is
// returned unchanged so pre-cipher plaintext history still renders.
func (c *Cipher) Decrypt(ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize {
		return ciphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return ciphertext
	}
	return string(plain)
}
