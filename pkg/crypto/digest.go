package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Digest algorithms accepted by Digest.
const (
	AlgorithmSHA256   = "sha256"
	AlgorithmSHA512   = "sha512"
	AlgorithmArgon2id = "argon2id"
)

// ErrUnknownAlgorithm is returned for an unsupported digest algorithm.
var ErrUnknownAlgorithm = errors.New("crypto: unknown digest algorithm")

// Digester turns a PIN into a comparable, irreversible hex value.
type Digester interface {
	Digest(algorithm, input string) (string, error)
}

// Digest returns the lowercase hex digest of input under algorithm.
// For argon2id, salt is the Argon2 salt; for the SHA family it is prepended
// to input. The result is deterministic for equal arguments.
func Digest(algorithm string, salt, input []byte) (string, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA256:
		h := sha256.New()
		h.Write(salt)
		h.Write(input)
		return hex.EncodeToString(h.Sum(nil)), nil
	case AlgorithmSHA512:
		h := sha512.New()
		h.Write(salt)
		h.Write(input)
		return hex.EncodeToString(h.Sum(nil)), nil
	case AlgorithmArgon2id:
		key := DeriveKey(input, salt)
		defer SecureWipe(key)
		return hex.EncodeToString(key), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// ValidAlgorithm reports whether algorithm is supported by Digest.
func ValidAlgorithm(algorithm string) bool {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA256, AlgorithmSHA512, AlgorithmArgon2id:
		return true
	}
	return false
}

// PepperedDigester digests input with a fixed application-wide pepper.
type PepperedDigester struct {
	Pepper []byte
}

// DefaultPepper is mixed into every PIN digest.
const DefaultPepper = "pinvault/gate/v1"

// NewDigester returns a PepperedDigester using DefaultPepper.
func NewDigester() *PepperedDigester {
	return &PepperedDigester{Pepper: []byte(DefaultPepper)}
}

// Digest implements Digester.
func (d *PepperedDigester) Digest(algorithm, input string) (string, error) {
	return Digest(algorithm, d.Pepper, []byte(input))
}
