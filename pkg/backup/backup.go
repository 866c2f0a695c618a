package backup

import (
	"bytes"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/kv"
)

// Snapshot is the plaintext content of a backup: the captured key-value
// entries and the data key that seals the record secrets in them.
//
// Layout on disk:
//
//	magic(8) | len(4) header JSON | len(4) nonce+ciphertext | HMAC-SHA256(32)
//
// The HMAC covers the header JSON and the sealed payload.
type Snapshot struct {
	Entries map[string]string
	DataKey []byte
}

// Wipe clears the data key.
func (s *Snapshot) Wipe() {
	if s != nil {
		crypto.SecureWipe(s.DataKey)
	}
}

// Capture reads keys from store. Absent keys are left out of the snapshot.
// dataKey is copied.
func Capture(store kv.Store, keys []string, dataKey []byte) (*Snapshot, error) {
	if len(dataKey) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	snap := &Snapshot{
		Entries: make(map[string]string, len(keys)),
		DataKey: append([]byte(nil), dataKey...),
	}
	for _, k := range keys {
		v, ok, err := store.Get(k)
		if err != nil {
			snap.Wipe()
			return nil, fmt.Errorf("backup: failed to read %q: %w", k, err)
		}
		if ok {
			snap.Entries[k] = v
		}
	}
	return snap, nil
}

// Apply writes the snapshot into store. Keys listed in keys but absent from
// the snapshot are removed, so the store ends up matching the snapshot.
func Apply(store kv.Store, snap *Snapshot, keys []string) error {
	names := make([]string, 0, len(snap.Entries))
	for k := range snap.Entries {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if err := store.Set(k, snap.Entries[k]); err != nil {
			return fmt.Errorf("backup: failed to restore %q: %w", k, err)
		}
	}
	for _, k := range keys {
		if _, ok := snap.Entries[k]; ok {
			continue
		}
		if err := store.Remove(k); err != nil {
			return fmt.Errorf("backup: failed to clear %q: %w", k, err)
		}
	}
	return nil
}

// Write encrypts snap under passphrase and writes it to w.
func Write(w io.Writer, snap *Snapshot, passphrase []byte, now time.Time) (*Header, error) {
	if snap == nil || len(snap.DataKey) == 0 {
		return nil, ErrEmptySnapshot
	}
	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	header := &Header{
		Version:      FormatVersion,
		CreatedAt:    now.UTC(),
		KDF:          defaultKDF(salt),
		EntryCount:   len(snap.Entries),
		ChecksumAlgo: "HMAC-SHA256",
	}

	encKey, macKey, err := deriveKeys(passphrase, header.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	plain, err := json.Marshal(payload{Entries: snap.Entries, DataKey: snap.DataKey})
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode payload: %w", err)
	}
	defer crypto.SecureWipe(plain)

	sealed, err := seal(plain, encKey)
	if err != nil {
		return nil, err
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(MagicNumber[:])
	if err := writeChunk(&buf, headerJSON); err != nil {
		return nil, err
	}
	if err := writeChunk(&buf, sealed); err != nil {
		return nil, err
	}
	buf.Write(computeMAC(macKey, headerJSON, sealed))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("backup: failed to write: %w", err)
	}
	return header, nil
}

// Read verifies and decrypts a backup. The caller must Wipe the snapshot.
func Read(r io.Reader, passphrase []byte) (*Header, *Snapshot, error) {
	header, headerJSON, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := readChunk(r, maxPayloadSize)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read payload: %w", err)
	}
	mac := make([]byte, HMACLength)
	if _, err := io.ReadFull(r, mac); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read HMAC: %w", err)
	}

	encKey, macKey, err := deriveKeys(passphrase, header.KDF)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !hmac.Equal(mac, computeMAC(macKey, headerJSON, sealed)) {
		return nil, nil, ErrIntegrityFailed
	}

	plain, err := open(sealed, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plain)

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(p.DataKey) != crypto.KeyLength {
		crypto.SecureWipe(p.DataKey)
		return nil, nil, ErrEmptySnapshot
	}
	if p.Entries == nil {
		p.Entries = map[string]string{}
	}
	return header, &Snapshot{Entries: p.Entries, DataKey: p.DataKey}, nil
}

// ReadHeader returns the header without a passphrase. It is not authenticated.
func ReadHeader(r io.Reader) (*Header, error) {
	h, _, err := readHeader(r)
	return h, err
}
