package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MagicNumber opens every backup file: "PVLT_BKP".
var MagicNumber = [8]byte{'P', 'V', 'L', 'T', '_', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// Upper bounds on the length prefixes read back from a file.
const (
	maxHeaderSize  = 1 << 20
	maxPayloadSize = 256 << 20
)

// KDFParams records the Argon2id parameters used for the passphrase.
type KDFParams struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// Header is the plaintext metadata in front of the encrypted payload.
// It is covered by the trailing HMAC.
type Header struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	KDF          KDFParams `json:"kdf"`
	EntryCount   int       `json:"entry_count"`
	ChecksumAlgo string    `json:"checksum_algorithm"`
}

// payload is the plaintext sealed inside a backup.
type payload struct {
	Entries map[string]string `json:"entries"`
	DataKey []byte            `json:"data_key"`
}

func writeChunk(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readChunk(r io.Reader, limit uint32) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("chunk too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// readHeader reads the magic number and header. The raw header JSON is
// returned alongside for MAC verification.
func readHeader(r io.Reader) (*Header, []byte, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read magic number: %w", err)
	}
	if magic != MagicNumber {
		return nil, nil, ErrInvalidMagic
	}

	raw, err := readChunk(r, maxHeaderSize)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read header: %w", err)
	}

	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to decode header: %w", err)
	}
	if h.Version > FormatVersion {
		return nil, nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, h.Version, FormatVersion)
	}
	return &h, raw, nil
}
