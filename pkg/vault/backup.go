package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/backup"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/keystore"
	"github.com/forest6511/pinvault/pkg/kv"
	"github.com/forest6511/pinvault/pkg/record"
)

// ErrVaultExists is returned by Restore when the target directory already
// holds a data key or database.
var ErrVaultExists = errors.New("vault: data directory already holds a vault")

// snapshotKeys are the entries a backup carries. The failed-attempt counter
// is not one of them.
var snapshotKeys = []string{
	record.CollectionKey,
	gate.KeyCredential,
	gate.KeyAlgorithm,
	gate.KeyPINLength,
	gate.KeyBiometric,
	gate.KeyOnboardingShown,
	gate.KeyFirstLaunchDone,
}

// Backup writes an encrypted snapshot of the vault to w. The gate must be
// Unlocked.
func (v *Vault) Backup(w io.Writer, passphrase []byte) (*backup.Header, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	if err := v.gate.Guard(); err != nil {
		return nil, err
	}

	key, err := v.keys.Key()
	if err != nil {
		return nil, err
	}
	snap, err := backup.Capture(v.kv, snapshotKeys, key)
	crypto.SecureWipe(key)
	if err != nil {
		return nil, err
	}
	defer snap.Wipe()

	header, err := backup.Write(w, snap, passphrase, time.Now())
	if err != nil {
		v.audit.LogError(audit.OpVaultBackup, v.source, "", "backup_failed", err.Error())
		return nil, err
	}
	v.audit.LogSuccess(audit.OpVaultBackup, v.source, "")
	v.log.Info("vault backed up", zap.Int("entries", header.EntryCount))
	return header, nil
}

// Restore rebuilds the data directory named by opts.Config.DataDir from a
// backup and opens it. The directory must not already hold a vault. The
// restored vault starts Locked under the PIN that was current at backup time.
func Restore(opts Options, r io.Reader, passphrase []byte) (*Vault, *backup.Header, error) {
	if opts.Config == nil {
		return nil, nil, fmt.Errorf("vault: config is required")
	}
	dir := opts.Config.DataDir
	if opts.KV == nil && exists(filepath.Join(dir, kv.DBFileName)) {
		return nil, nil, ErrVaultExists
	}
	if exists(filepath.Join(dir, keystore.KeyFileName)) {
		return nil, nil, ErrVaultExists
	}

	header, snap, err := backup.Read(r, passphrase)
	if err != nil {
		return nil, nil, err
	}
	defer snap.Wipe()

	if err := keystore.Install(dir, snap.DataKey); err != nil {
		return nil, nil, err
	}

	if err := applySnapshot(dir, opts.KV, snap); err != nil {
		return nil, nil, err
	}

	v, err := Open(opts)
	if err != nil {
		return nil, nil, err
	}
	v.audit.LogSuccess(audit.OpVaultRestore, v.source, "")
	v.log.Info("vault restored", zap.Int("entries", header.EntryCount),
		zap.Time("created_at", header.CreatedAt))
	return v, header, nil
}

func applySnapshot(dir string, store kv.Store, snap *backup.Snapshot) error {
	if store == nil {
		db, err := kv.OpenSQLite(dir)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	}
	keys := append(append([]string(nil), snapshotKeys...), gate.KeyAttempts)
	return backup.Apply(store, snap, keys)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
