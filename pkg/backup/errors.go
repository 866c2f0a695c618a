// Package backup writes and reads passphrase-encrypted vault snapshots.
package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the file is not a pinvault backup.
	ErrInvalidMagic = errors.New("backup: invalid file, magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is newer than this build.
	ErrUnsupportedVersion = errors.New("backup: unsupported format version")

	// ErrIntegrityFailed indicates the HMAC did not match. Wrong passphrase or tampering.
	ErrIntegrityFailed = errors.New("backup: integrity check failed")

	// ErrDecryptionFailed indicates the payload could not be opened.
	ErrDecryptionFailed = errors.New("backup: decryption failed")

	// ErrEmptyPassphrase indicates an empty passphrase was provided.
	ErrEmptyPassphrase = errors.New("backup: passphrase cannot be empty")

	// ErrEmptySnapshot indicates a snapshot without a data key.
	ErrEmptySnapshot = errors.New("backup: snapshot has no data key")
)
