// Package secretbox implements the message body envelope: a symmetric key
// derived from the two participant identities plus a per-message salt, AES-256-GCM
// encryption, and a self-describing wire framing so legacy and plaintext bodies
// stay readable.
//
// The key is deterministic for a given identity pair, so this hides plaintext
// from the storage path but is not forward-secret end-to-end encryption. That
// is a deliberate scope limit, not an oversight.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// Tag marks the current envelope format.
	Tag = "SGV1"

	// FallbackPlaintext is returned whenever a tagged envelope cannot be
	// decrypted, so the UI never crashes on unreadable history.
	FallbackPlaintext = "[encrypted message]"

	saltBytes = 16
	separator = "|"
)

// Codec derives keys from identity pairs and an application secret.
// It is stateless and safe for concurrent use.
type Codec struct {
	secret    string
	legacyKey []byte
}

// New builds a Codec. legacySecret may be empty, in which case untagged input
// is passed through unchanged.
func New(secret, legacySecret string) *Codec {
	c := &Codec{secret: secret}
	if legacySecret != "" {
		key := sha256.Sum256([]byte(legacySecret))
		c.legacyKey = key[:]
	}
	return c
}

// DeriveKey produces the symmetric key for an identity pair and salt. The two
// identities are sorted first so sender and receiver derive the identical key
// regardless of role.
func (c *Codec) DeriveKey(idA, idB, saltHex string) []byte {
	if idB < idA {
		idA, idB = idB, idA
	}
	key := sha256.Sum256([]byte(idA + idB + c.secret + saltHex))
	return key[:]
}

// Encrypt seals plaintext for the identity pair with a fresh random salt and
// frames it as TAG|salt|ciphertext.
func (c *Codec) Encrypt(plaintext, idA, idB string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	sealed, err := seal(c.DeriveKey(idA, idB, saltHex), plaintext)
	if err != nil {
		return "", err
	}
	return Tag + separator + saltHex + separator + sealed, nil
}

// Decrypt reverses Encrypt. It never fails to the caller: tagged envelopes
// that cannot be parsed or decrypted yield FallbackPlaintext, untagged input
// is tried against the fixed legacy key and otherwise returned unchanged.
func (c *Codec) Decrypt(envelope, idA, idB string) string {
	if !strings.HasPrefix(envelope, Tag+separator) {
		return c.decryptLegacy(envelope)
	}

	parts := strings.SplitN(envelope, separator, 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return FallbackPlaintext
	}
	saltHex, ciphertext := parts[1], parts[2]
	if len(saltHex) != saltBytes*2 {
		return FallbackPlaintext
	}
	if _, err := hex.DecodeString(saltHex); err != nil {
		return FallbackPlaintext
	}

	plaintext, err := open(c.DeriveKey(idA, idB, saltHex), ciphertext)
	if err != nil {
		return FallbackPlaintext
	}
	return plaintext
}

// decryptLegacy handles bodies written before salted envelopes existed. They
// were sealed with a single fixed key and no framing, so the only signal is
// whether the legacy key opens them.
func (c *Codec) decryptLegacy(body string) string {
	if c.legacyKey == nil {
		return body
	}
	plaintext, err := open(c.legacyKey, body)
	if err != nil {
		return body
	}
	return plaintext
}

func seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func open(key []byte, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("plaintext is not valid utf-8")
	}

	return string(plaintext), nil
}
