package crypto

import (
	"encoding/base64"
	"sync"
)

// Cipher is the symmetric encrypt/decrypt capability used on record secrets.
// Sealed values are printable strings suitable for the key-value store.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// KeySource yields the current data key. Implementations return
// ErrKeyUnavailable when no key is loaded. The caller wipes the returned slice.
type KeySource interface {
	Key() ([]byte, error)
}

// StaticKey is a KeySource over an in-memory key, used in tests and tools.
type StaticKey []byte

// Key returns a copy of the key.
func (k StaticKey) Key() ([]byte, error) {
	if len(k) == 0 {
		return nil, ErrKeyUnavailable
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// AESCipher implements Cipher with AES-256-GCM.
// Sealed format: base64(nonce || ciphertext || tag), standard encoding.
type AESCipher struct {
	mu   sync.Mutex
	keys KeySource
}

// NewAESCipher returns a cipher drawing its key from keys.
func NewAESCipher(keys KeySource) *AESCipher {
	return &AESCipher{keys: keys}
}

// Encrypt implements Cipher.
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.keys.Key()
	if err != nil {
		return "", err
	}
	defer SecureWipe(key)

	ciphertext, nonce, err := Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt implements Cipher.
func (c *AESCipher) Decrypt(sealed string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(blob) < NonceLength {
		return "", ErrCiphertextTooShort
	}

	key, err := c.keys.Key()
	if err != nil {
		return "", err
	}
	defer SecureWipe(key)

	plaintext, err := Decrypt(key, blob[NonceLength:], blob[:NonceLength])
	if err != nil {
		return "", err
	}
	defer SecureWipe(plaintext)
	return string(plaintext), nil
}
