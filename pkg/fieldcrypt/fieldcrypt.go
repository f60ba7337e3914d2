// Package fieldcrypt encrypts individual coupon fields before persistence and
// decrypts them after retrieval. Decryption is total: legacy plaintext rows
// coexist with encrypted ones, so anything that is not recognizable
// ciphertext is returned unchanged.
package fieldcrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ciphertextPrefix versions the wire form so decrypt can tell ciphertext from
// legacy plaintext.
const ciphertextPrefix = "cv1:"

// ErrInvalidKey is returned when the key material cannot be used.
var ErrInvalidKey = errors.New("invalid field key")

// Cipher performs deterministic authenticated field encryption. The nonce is
// derived from an HMAC of the plaintext, so equal inputs produce equal
// ciphertexts (SIV-style construction).
type Cipher struct {
	key []byte
}

// New builds a Cipher from arbitrary key material. The material is stretched
// to the 32 bytes XChaCha20-Poly1305 requires.
func New(material string) (*Cipher, error) {
	if strings.TrimSpace(material) == "" {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidKey)
	}
	derived := sha256.Sum256([]byte(material))
	return &Cipher{key: derived[:]}, nil
}

// Encrypt returns the versioned ciphertext for a field value. Empty input
// stays empty: optional fields are never encrypted.
func (cipher *Cipher) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	aead, err := chacha20poly1305.NewX(cipher.key)
	if err != nil {
		// Key length is fixed at construction; NewX cannot fail here.
		return plaintext
	}
	nonce := cipher.deriveNonce(plaintext)
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(payload)
}

// Decrypt reverses Encrypt. It never fails: values without the ciphertext
// prefix, with broken encoding, or failing authentication come back verbatim.
func (cipher *Cipher) Decrypt(value string) string {
	if !strings.HasPrefix(value, ciphertextPrefix) {
		return value
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, ciphertextPrefix))
	if err != nil {
		return value
	}
	if len(payload) <= chacha20poly1305.NonceSizeX {
		return value
	}
	aead, err := chacha20poly1305.NewX(cipher.key)
	if err != nil {
		return value
	}
	nonce := payload[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, payload[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return value
	}
	return string(plaintext)
}

func (cipher *Cipher) deriveNonce(plaintext string) []byte {
	mac := hmac.New(sha256.New, cipher.key)
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)[:chacha20poly1305.NonceSizeX]
}
