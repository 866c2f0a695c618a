package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/pinvault/pkg/crypto"
)

const (
	// SaltLength is the length of the per-backup salt in bytes.
	SaltLength = 32

	// HMACLength is the length of the trailing HMAC-SHA256.
	HMACLength = 32

	// maxKDFMemory caps the Argon2 memory cost accepted from a header (1 GiB).
	maxKDFMemory = 1 << 20
)

// HKDF info strings. Encryption and MAC keys never coincide.
const (
	infoEncryption = "pinvault-backup-enc"
	infoMAC        = "pinvault-backup-mac"
)

func generateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: failed to generate salt: %w", err)
	}
	return salt, nil
}

func defaultKDF(salt []byte) KDFParams {
	return KDFParams{
		Salt:        salt,
		Memory:      crypto.Argon2Memory,
		Iterations:  crypto.Argon2Time,
		Parallelism: crypto.Argon2Threads,
	}
}

// deriveKeys stretches the passphrase with Argon2id, then splits it into an
// encryption key and a MAC key with HKDF-SHA256.
func deriveKeys(passphrase []byte, kdf KDFParams) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}
	if len(kdf.Salt) < 16 || kdf.Iterations == 0 || kdf.Parallelism == 0 || kdf.Memory > maxKDFMemory {
		return nil, nil, fmt.Errorf("%w: invalid KDF parameters", ErrUnsupportedVersion)
	}

	master := argon2.IDKey(passphrase, kdf.Salt, kdf.Iterations, kdf.Memory, kdf.Parallelism, crypto.KeyLength)
	defer crypto.SecureWipe(master)

	encKey, err = expand(master, infoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = expand(master, infoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func expand(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// seal returns nonce || ciphertext.
func seal(plaintext, key []byte) ([]byte, error) {
	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

func open(data, key []byte) ([]byte, error) {
	if len(data) < crypto.NonceLength {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := crypto.Decrypt(key, data[crypto.NonceLength:], data[:crypto.NonceLength])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func computeMAC(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
