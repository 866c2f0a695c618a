// Package vault opens a pinvault data directory and wires its parts together:
// the SQLite key-value store, the data keystore, the audit log, the access
// controller and the encrypted record store.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/forest6511/pinvault/internal/config"
	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/biometric"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/keystore"
	"github.com/forest6511/pinvault/pkg/kv"
	"github.com/forest6511/pinvault/pkg/record"
)

// Disk capacity thresholds
const (
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// Errors
var (
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
	ErrClosed           = errors.New("vault: vault is closed")
)

// Options configure Open.
type Options struct {
	Config *config.Config
	// Source is the audit source recorded for every operation (audit.SourceCLI, ...).
	Source   string
	Logger   *zap.Logger
	Feedback gate.Feedback
	// Biometric overrides the authenticator built from Config.Biometric.
	Biometric biometric.Authenticator
	// KV overrides the SQLite store. The caller keeps ownership.
	KV kv.Store
}

// Vault is an open data directory.
type Vault struct {
	mu      sync.Mutex
	path    string
	kv      kv.Store
	db      *kv.SQLStore
	keys    *keystore.Keystore
	audit   *audit.Logger
	gate    *gate.Controller
	records *record.Store
	log     *zap.Logger
	source  string
	closed  bool
}

// Open opens (provisioning on first use) the data directory named by
// opts.Config.DataDir. The controller starts Locked when a PIN exists.
func Open(opts Options) (*Vault, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("vault: config is required")
	}
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	v := &Vault{path: cfg.DataDir, log: log, source: opts.Source}
	if err := v.checkDiskSpaceForWrite(0); err != nil {
		return nil, err
	}

	store := opts.KV
	if store == nil {
		db, err := kv.OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		v.db = db
		store = db
	}

	keys, err := keystore.Open(cfg.DataDir)
	if err != nil {
		v.closeDB()
		return nil, err
	}
	v.kv = store
	v.keys = keys
	if keys.Created() {
		log.Info("provisioned new data key", zap.String("dir", cfg.DataDir))
	}

	if cfg.Audit.Enabled {
		if err := v.openAudit(cfg.AuditDir()); err != nil {
			v.Close()
			return nil, err
		}
	}

	bio := opts.Biometric
	if bio == nil {
		bio = authenticatorFor(cfg.Biometric)
	}

	v.gate, err = gate.New(gate.Config{
		KV:                store,
		Digest:            crypto.NewDigester(),
		Biometric:         bio,
		PINLength:         cfg.Gate.PINLength,
		Algorithm:         cfg.Gate.DigestAlgorithm,
		CooldownThreshold: cfg.Gate.CooldownThreshold,
		Cooldown:          cfg.Gate.Cooldown,
		Logger:            log.Named("gate"),
		Audit:             v.audit,
		Source:            opts.Source,
		Feedback:          opts.Feedback,
	})
	if err != nil {
		v.Close()
		return nil, err
	}

	v.records = record.New(store, keys.Cipher(),
		record.WithLogger(log.Named("record")),
		record.WithAudit(v.audit, opts.Source),
	)

	v.checkAndWarnPermissions()
	return v, nil
}

func (v *Vault) openAudit(dir string) error {
	key, err := v.keys.Key()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)

	l := audit.NewLogger(dir)
	if err := l.SetHMACKey(key); err != nil {
		return fmt.Errorf("vault: failed to open audit log: %w", err)
	}
	v.audit = l
	return nil
}

func authenticatorFor(c config.BiometricConfig) biometric.Authenticator {
	if c.Command == "" {
		return biometric.Unavailable{}
	}
	return biometric.Command{Path: c.Command, Args: c.Args}
}

// Path returns the data directory.
func (v *Vault) Path() string {
	return v.path
}

// Gate returns the access controller.
func (v *Vault) Gate() *gate.Controller {
	return v.gate
}

// Records returns the record store once the gate is Unlocked.
// The collection is loaded on first access of the session.
func (v *Vault) Records() (*record.Store, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := v.gate.Guard(); err != nil {
		return nil, err
	}
	if err := v.records.Load(); err != nil {
		return nil, err
	}
	return v.records, nil
}

// AuditLogger returns the audit logger, nil when auditing is disabled.
func (v *Vault) AuditLogger() *audit.Logger {
	return v.audit
}

// Close locks the gate and releases the key and database.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	if v.gate != nil && holdsSession(v.gate.State()) {
		if err := v.gate.Lock(); err != nil {
			v.log.Warn("failed to lock on close", zap.Error(err))
		}
	}
	if v.keys != nil {
		v.keys.Close()
	}
	return v.closeDB()
}

func holdsSession(s gate.State) bool {
	return s == gate.StateUnlocked || s == gate.StateAwaitingCurrentPinForChange
}

func (v *Vault) closeDB() error {
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	return err
}

// checkAndWarnPermissions prints a warning for group or world accessible files.
// Advisory only.
func (v *Vault) checkAndWarnPermissions() {
	for _, f := range v.permissionIssues() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", f)
	}
}
