package gate

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrAuthMismatch is what Result.Err reports for an incorrect PIN or a
	// failed confirmation. Operations themselves return nil for a mismatch.
	ErrAuthMismatch         = errors.New("gate: PIN does not match")
	ErrInvalidTransition    = errors.New("gate: operation not allowed in current state")
	ErrInvalidCode          = errors.New("gate: code must be a fixed number of digits")
	ErrLocked               = errors.New("gate: vault is locked")
	ErrCooldownActive       = errors.New("gate: cooldown period active")
	ErrBiometricUnavailable = errors.New("gate: biometric unlock unavailable")
	ErrInvalidConfig        = errors.New("gate: invalid configuration")
)

// CapabilityError reports a failure of the key-value store, the digest or
// the biometric capability. The session is left as it was before the
// operation, with the entry buffer cleared.
type CapabilityError struct {
	Op  string
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("gate: %s failed: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
