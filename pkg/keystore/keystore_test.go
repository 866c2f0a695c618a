package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forest6511/pinvault/pkg/crypto"
)

func TestOpenProvisionsKey(t *testing.T) {
	dir := t.TempDir()

	ks, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !ks.Created() {
		t.Error("expected first Open to provision a key")
	}

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Mode().Perm() != FileMode {
		t.Errorf("key file mode = %04o, want %04o", info.Mode().Perm(), FileMode)
	}
	if info.Size() != crypto.KeyLength {
		t.Errorf("key file size = %d, want %d", info.Size(), crypto.KeyLength)
	}

	first, err := ks.Key()
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Created() {
		t.Error("reopen should not provision a new key")
	}
	second, err := reopened.Key()
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("reopened keystore returned a different key")
	}
}

func TestCipherSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ks, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sealed, err := ks.Cipher().Encrypt("pw123")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	ks2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := ks2.Cipher().Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "pw123" {
		t.Errorf("Decrypt = %q, want pw123", got)
	}
}

func TestOpenCorruptedKey(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, KeyFileName), []byte("short"), FileMode); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); !errors.Is(err, ErrKeyCorrupted) {
		t.Errorf("Open error = %v, want %v", err, ErrKeyCorrupted)
	}
}

func TestCloseReleasesKey(t *testing.T) {
	ks, err := FromKey(make([]byte, crypto.KeyLength))
	if err != nil {
		t.Fatalf("FromKey failed: %v", err)
	}
	c := ks.Cipher()
	sealed, err := c.Encrypt("x")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	ks.Close()
	if _, err := ks.Key(); !errors.Is(err, crypto.ErrKeyUnavailable) {
		t.Errorf("Key after Close error = %v, want %v", err, crypto.ErrKeyUnavailable)
	}
	if _, err := c.Decrypt(sealed); !errors.Is(err, crypto.ErrKeyUnavailable) {
		t.Errorf("Decrypt after Close error = %v, want %v", err, crypto.ErrKeyUnavailable)
	}
}

func TestFromKeyInvalidLength(t *testing.T) {
	if _, err := FromKey([]byte("short")); !errors.Is(err, crypto.ErrInvalidKeyLength) {
		t.Errorf("FromKey error = %v, want %v", err, crypto.ErrInvalidKeyLength)
	}
}

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	key := bytes.Repeat([]byte{0x42}, crypto.KeyLength)

	if err := Install(dir, key); err != nil {
		t.Fatalf("Install error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != FileMode {
		t.Errorf("key file mode = %o, want %o", info.Mode().Perm(), FileMode)
	}

	ks, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ks.Close()
	if ks.Created() {
		t.Error("Open after Install should not provision a new key")
	}
	got, _ := ks.Key()
	if !bytes.Equal(got, key) {
		t.Error("Open returned a different key than installed")
	}

	if err := Install(dir, key); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Install error = %v, want %v", err, ErrKeyExists)
	}
	if err := Install(t.TempDir(), []byte("short")); !errors.Is(err, crypto.ErrInvalidKeyLength) {
		t.Errorf("Install short key error = %v", err)
	}
}
