// Package keystore holds the data key that seals record secrets.
//
// The key is random, independent of the PIN, and lives in a key file next to
// the database. In memory it is kept inside a memguard enclave and only
// decrypted for the duration of a single cipher operation. Resetting the PIN
// never touches the key, so records survive recovery.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/forest6511/pinvault/pkg/crypto"
)

const (
	// KeyFileName is the data key file inside the data directory.
	KeyFileName = "data.key"
	FileMode    = 0600
	DirMode     = 0700
)

// Errors
var (
	ErrKeyCorrupted = errors.New("keystore: key file is corrupted")
	ErrKeyExists    = errors.New("keystore: key file already exists")
)

// Keystore provides the data key. It implements crypto.KeySource.
type Keystore struct {
	mu      sync.Mutex
	path    string
	enclave *memguard.Enclave
	created bool
}

// Open loads the data key from dir, provisioning a new one on first use.
func Open(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	ks := &Keystore{path: filepath.Join(dir, KeyFileName)}

	key, err := os.ReadFile(ks.path)
	switch {
	case err == nil:
		if len(key) != crypto.KeyLength {
			memguard.WipeBytes(key)
			return nil, ErrKeyCorrupted
		}
	case os.IsNotExist(err):
		key, err = ks.provision()
		if err != nil {
			return nil, err
		}
		ks.created = true
	default:
		return nil, fmt.Errorf("keystore: failed to read key file: %w", err)
	}

	// NewEnclave wipes key.
	ks.enclave = memguard.NewEnclave(key)
	return ks, nil
}

// FromKey builds a Keystore over an existing key without touching disk.
// key is wiped.
func FromKey(key []byte) (*Keystore, error) {
	if len(key) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	return &Keystore{enclave: memguard.NewEnclave(key)}, nil
}

// Install writes key as the data key of dir, which must not have one yet.
// It is used when restoring a backup.
func Install(dir string, key []byte) error {
	if len(key) != crypto.KeyLength {
		return crypto.ErrInvalidKeyLength
	}
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("keystore: failed to create directory: %w", err)
	}
	path := filepath.Join(dir, KeyFileName)
	if _, err := os.Lstat(path); err == nil {
		return ErrKeyExists
	}
	return writeKeyFile(path, key)
}

// provision writes a fresh random key.
func (ks *Keystore) provision() ([]byte, error) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate key: %w", err)
	}
	if err := writeKeyFile(ks.path, key); err != nil {
		memguard.WipeBytes(key)
		return nil, err
	}
	return key, nil
}

// writeKeyFile installs key at path via a temp file and rename.
func writeKeyFile(path string, key []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, key, FileMode); err != nil {
		return fmt.Errorf("keystore: failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("keystore: failed to install key file: %w", err)
	}
	return nil
}

// Created reports whether Open provisioned a new key.
func (ks *Keystore) Created() bool {
	return ks.created
}

// Key returns a copy of the data key. The caller must wipe it.
func (ks *Keystore) Key() ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.enclave == nil {
		return nil, crypto.ErrKeyUnavailable
	}

	buf, err := ks.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrKeyUnavailable, err)
	}
	defer buf.Destroy()

	out := make([]byte, buf.Size())
	copy(out, buf.Bytes())
	return out, nil
}

// Cipher returns an AES-256-GCM cipher bound to this keystore.
func (ks *Keystore) Cipher() *crypto.AESCipher {
	return crypto.NewAESCipher(ks)
}

// Close releases the in-memory key. Later Key calls return crypto.ErrKeyUnavailable.
func (ks *Keystore) Close() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enclave = nil
}
