package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/keystore"
	"github.com/forest6511/pinvault/pkg/kv"
	"github.com/forest6511/pinvault/pkg/record"
)

// IntegrityCheckResult contains the results of an integrity check
type IntegrityCheckResult struct {
	Valid            bool     `json:"valid" yaml:"valid"`
	DBExists         bool     `json:"db_exists" yaml:"db_exists"`
	KeyFileValid     bool     `json:"key_file_valid" yaml:"key_file_valid"`
	RecordsReadable  bool     `json:"records_readable" yaml:"records_readable"`
	GateConsistent   bool     `json:"gate_consistent" yaml:"gate_consistent"`
	PermissionsValid bool     `json:"permissions_valid" yaml:"permissions_valid"`
	Errors           []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (r *IntegrityCheckResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// CheckIntegrity inspects the data directory without unlocking anything:
// 1. Database and key file exist with the expected size
// 2. The record collection decodes
// 3. Gate keys are consistent (digest is hex, algorithm known, biometric
//    flag only alongside a credential)
// 4. File permissions are 0700 for the directory and 0600 for files
func (v *Vault) CheckIntegrity() (*IntegrityCheckResult, error) {
	result := &IntegrityCheckResult{
		Valid:            true,
		RecordsReadable:  true,
		GateConsistent:   true,
		PermissionsValid: true,
	}

	if v.db != nil {
		if _, err := os.Stat(filepath.Join(v.path, kv.DBFileName)); err == nil {
			result.DBExists = true
		} else {
			result.fail("database file not found: %s", kv.DBFileName)
		}
	} else {
		result.DBExists = true
	}

	keyPath := filepath.Join(v.path, keystore.KeyFileName)
	if info, err := os.Stat(keyPath); err != nil {
		result.fail("key file not found: %s", keystore.KeyFileName)
	} else if info.Size() != crypto.KeyLength {
		result.fail("key file has incorrect size: expected %d, got %d", crypto.KeyLength, info.Size())
	} else {
		result.KeyFileValid = true
	}

	if err := v.records.Load(); err != nil {
		result.RecordsReadable = false
		if errors.Is(err, record.ErrCorrupted) {
			result.fail("record collection is corrupted")
		} else {
			result.fail("failed to read record collection: %v", err)
		}
	}

	issues, err := v.gateIssues()
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		result.GateConsistent = false
		result.fail("%s", issue)
	}

	for _, issue := range v.permissionIssues() {
		result.PermissionsValid = false
		result.fail("%s", issue)
	}

	return result, nil
}

func (v *Vault) gateIssues() ([]string, error) {
	var issues []string

	cred, hasCred, err := v.kv.Get(gate.KeyCredential)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read credential: %w", err)
	}
	if hasCred {
		if _, err := hex.DecodeString(cred); err != nil || cred == "" {
			issues = append(issues, "stored credential is not a hex digest")
		}
	}

	alg, hasAlg, err := v.kv.Get(gate.KeyAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read digest algorithm: %w", err)
	}
	if hasAlg && !crypto.ValidAlgorithm(alg) {
		issues = append(issues, fmt.Sprintf("stored digest algorithm %q is not supported", alg))
	}

	_, hasBio, err := v.kv.Get(gate.KeyBiometric)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read biometric flag: %w", err)
	}
	if hasBio && !hasCred {
		issues = append(issues, "biometric unlock is enabled without a PIN")
	}

	return issues, nil
}

func (v *Vault) permissionIssues() []string {
	var issues []string

	if info, err := os.Stat(v.path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			issues = append(issues, fmt.Sprintf("data directory has insecure permissions %04o (expected 0700)", perm))
		}
	}

	for _, name := range []string{kv.DBFileName, keystore.KeyFileName} {
		info, err := os.Stat(filepath.Join(v.path, name))
		if err != nil {
			continue
		}
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			issues = append(issues, fmt.Sprintf("%s has insecure permissions %04o (expected 0600)", name, perm))
		}
	}
	return issues
}
