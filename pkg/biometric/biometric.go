// Package biometric adapts platform biometric prompts to a small interface.
//
// The gate never talks to hardware directly. Command delegates to an external
// helper (for example a fingerprint or Touch ID wrapper) whose exit status is
// the verdict.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// ErrNotConfigured is returned by Command when no helper path is set.
var ErrNotConfigured = errors.New("biometric: no helper command configured")

// Authenticator is a platform biometric capability.
type Authenticator interface {
	// IsAvailable reports whether a biometric prompt can be shown.
	IsAvailable(ctx context.Context) (bool, error)
	// Authenticate shows the prompt and reports whether the user passed.
	// A declined or failed scan is (false, nil).
	Authenticate(ctx context.Context, prompt string) (bool, error)
}

// Unavailable is the authenticator for platforms without biometrics.
type Unavailable struct{}

// IsAvailable implements Authenticator.
func (Unavailable) IsAvailable(context.Context) (bool, error) { return false, nil }

// Authenticate implements Authenticator.
func (Unavailable) Authenticate(context.Context, string) (bool, error) { return false, nil }

// Command runs an external helper. The prompt is appended as the last
// argument. Exit status 0 means the scan succeeded, 1 means it was declined;
// anything else is an error.
type Command struct {
	Path string
	Args []string
}

// IsAvailable reports whether the helper can be found.
func (c Command) IsAvailable(context.Context) (bool, error) {
	if c.Path == "" {
		return false, nil
	}
	if _, err := exec.LookPath(c.Path); err != nil {
		return false, nil
	}
	return true, nil
}

// Authenticate runs the helper.
func (c Command) Authenticate(ctx context.Context, prompt string) (bool, error) {
	if c.Path == "" {
		return false, ErrNotConfigured
	}
	args := append(append([]string{}, c.Args...), prompt)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	return false, fmt.Errorf("biometric: helper failed: %w", err)
}

// Fake is a scripted Authenticator for tests and demos.
type Fake struct {
	mu        sync.Mutex
	Available bool
	AvailErr  error
	// Results are consumed in order; when empty, Authenticate returns Default.
	Results []bool
	Default bool
	AuthErr error
	Prompts []string
}

// IsAvailable implements Authenticator.
func (f *Fake) IsAvailable(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Available, f.AvailErr
}

// Authenticate implements Authenticator.
func (f *Fake) Authenticate(_ context.Context, prompt string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.AuthErr != nil {
		return false, f.AuthErr
	}
	if len(f.Results) > 0 {
		r := f.Results[0]
		f.Results = f.Results[1:]
		return r, nil
	}
	return f.Default, nil
}
