// Package gate implements the vault access controller: PIN onboarding,
// verification, biometric unlock, PIN change and recovery.
//
// Transition is the pure state machine. Controller feeds it digit entry,
// reads and writes the gate keys in the key-value store and applies the
// effects Transition asks for.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/biometric"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/kv"
)

// Well-known keys.
const (
	KeyCredential      = "pinvault.gate.credential"
	KeyAlgorithm       = "pinvault.gate.algorithm"
	KeyPINLength       = "pinvault.gate.pin_length"
	KeyBiometric       = "pinvault.gate.biometric"
	KeyOnboardingShown = "pinvault.onboarding.shown"
	KeyFirstLaunchDone = "pinvault.first_launch_done"
	KeyAttempts        = "pinvault.gate.attempts"
)

// PIN length bounds.
const (
	DefaultPINLength = 6
	MinPINLength     = 4
	MaxPINLength     = 12
)

const (
	flagTrue        = "true"
	biometricPrompt = "Unlock pinvault"
	enrollPrompt    = "Enable biometric unlock for pinvault"
)

// Feedback receives every signal other than SignalNone.
type Feedback interface {
	Signal(Signal)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(Signal)

// Signal implements Feedback.
func (f FeedbackFunc) Signal(s Signal) { f(s) }

// Config holds the controller's collaborators.
type Config struct {
	KV        kv.Store
	Digest    crypto.Digester
	Biometric biometric.Authenticator
	// PINLength is the length for new PINs, defaulting to DefaultPINLength.
	// An existing credential keeps the length it was created with.
	PINLength int
	// Algorithm for new credentials, defaults to crypto.AlgorithmSHA256.
	Algorithm string
	// CooldownThreshold enables the cooldown after that many consecutive
	// failures. Zero disables it.
	CooldownThreshold int
	Cooldown          time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
	Audit             *audit.Logger
	Source            string
	Feedback          Feedback
}

// Result describes the controller after an operation.
type Result struct {
	State  State
	Signal Signal
	// Entered is the number of digits in the entry buffer.
	Entered int
	// Submitted is set when the operation submitted a full code.
	Submitted bool
	// OfferBiometric is set after onboarding when the platform can enroll.
	OfferBiometric bool
}

// Err returns ErrAuthMismatch when the operation ended in an incorrect PIN
// or a confirmation mismatch, nil otherwise.
func (r Result) Err() error {
	switch r.Signal {
	case SignalIncorrectPin, SignalPinsDoNotMatch:
		return ErrAuthMismatch
	}
	return nil
}

// Status is a snapshot of the gate for display.
type Status struct {
	State             State         `json:"state" yaml:"state"`
	Initialized       bool          `json:"initialized" yaml:"initialized"`
	BiometricEnabled  bool          `json:"biometric_enabled" yaml:"biometric_enabled"`
	OnboardingShown   bool          `json:"onboarding_shown" yaml:"onboarding_shown"`
	FirstLaunchDone   bool          `json:"first_launch_done" yaml:"first_launch_done"`
	FailedAttempts    int           `json:"failed_attempts" yaml:"failed_attempts"`
	CooldownRemaining time.Duration `json:"cooldown_remaining" yaml:"cooldown_remaining"`
	PINLength         int           `json:"pin_length" yaml:"pin_length"`
	Algorithm         string        `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

// Controller gates access to the record store. It is safe for concurrent
// use; operations are serialized.
type Controller struct {
	mu      sync.Mutex
	session Session

	kv                kv.Store
	digest            crypto.Digester
	bio               biometric.Authenticator
	pinLength         int
	storedLength      int
	algorithm         string
	cooldownThreshold int
	cooldown          time.Duration
	now               func() time.Time
	log               *zap.Logger
	audit             *audit.Logger
	source            string
	feedback          Feedback
}

// New builds a controller and decides the launch state: Locked when a
// credential exists, Uninitialized otherwise.
func New(cfg Config) (*Controller, error) {
	if cfg.KV == nil || cfg.Digest == nil {
		return nil, fmt.Errorf("%w: key-value store and digest are required", ErrInvalidConfig)
	}
	if cfg.PINLength == 0 {
		cfg.PINLength = DefaultPINLength
	}
	if cfg.PINLength < MinPINLength || cfg.PINLength > MaxPINLength {
		return nil, fmt.Errorf("%w: PIN length must be between %d and %d", ErrInvalidConfig, MinPINLength, MaxPINLength)
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = crypto.AlgorithmSHA256
	}
	if !crypto.ValidAlgorithm(cfg.Algorithm) {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidConfig, crypto.ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if cfg.CooldownThreshold < 0 {
		return nil, fmt.Errorf("%w: cooldown threshold must not be negative", ErrInvalidConfig)
	}
	if cfg.Biometric == nil {
		cfg.Biometric = biometric.Unavailable{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = audit.SourceLib
	}

	c := &Controller{
		kv:                cfg.KV,
		digest:            cfg.Digest,
		bio:               cfg.Biometric,
		pinLength:         cfg.PINLength,
		algorithm:         cfg.Algorithm,
		cooldownThreshold: cfg.CooldownThreshold,
		cooldown:          cfg.Cooldown,
		now:               cfg.Clock,
		log:               cfg.Logger,
		audit:             cfg.Audit,
		source:            cfg.Source,
		feedback:          cfg.Feedback,
	}

	credential, err := c.credential()
	if err != nil {
		return nil, &CapabilityError{Op: "read credential", Err: err}
	}
	if credential == "" {
		c.session = Session{State: StateUninitialized}
		// A flag left behind by an interrupted reset is meaningless.
		if enabled, err := c.biometricFlag(); err == nil && enabled {
			c.log.Warn("removing biometric flag without credential")
			if err := c.kv.Remove(KeyBiometric); err != nil {
				return nil, &CapabilityError{Op: "clear biometric flag", Err: err}
			}
		}
	} else {
		c.session = Session{State: StateLocked}
		if c.storedLength, err = c.credentialLength(); err != nil {
			return nil, &CapabilityError{Op: "read PIN length", Err: err}
		}
	}

	c.log.Debug("gate ready", zap.Stringer("state", c.session.State))
	return c, nil
}

// PINLength returns the number of digits the next code must have: the
// stored credential's length while verifying, the configured length while
// onboarding.
func (c *Controller) PINLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLength()
}

// entryLength is PINLength for callers holding the lock.
func (c *Controller) entryLength() int {
	switch c.session.State {
	case StateLocked, StateAwaitingCurrentPinForChange, StateUnlocked:
		if c.storedLength > 0 {
			return c.storedLength
		}
	}
	return c.pinLength
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Guard returns ErrLocked unless the vault is unlocked.
func (c *Controller) Guard() error {
	if c.State() != StateUnlocked {
		return ErrLocked
	}
	return nil
}

// PressDigit appends d to the entry buffer and submits it once full.
func (c *Controller) PressDigit(d rune) (Result, error) {
	return c.run(func() (Result, error) {
		if d < '0' || d > '9' {
			return c.result(SignalNone), ErrInvalidCode
		}
		if !c.acceptsEntry() {
			return c.result(SignalInvalid), ErrInvalidTransition
		}
		if c.session.State == StateUninitialized {
			c.session.State = StateAwaitingFirstPin
		}
		c.session.Entry += string(d)
		if len(c.session.Entry) < c.entryLength() {
			return c.result(SignalNone), nil
		}
		code := c.session.Entry
		res, err := c.submit(code)
		res.Submitted = true
		return res, err
	})
}

// Backspace removes the last entered digit.
func (c *Controller) Backspace() Result {
	res, _ := c.run(func() (Result, error) {
		if n := len(c.session.Entry); n > 0 {
			c.session.Entry = c.session.Entry[:n-1]
		}
		if c.session.State == StateAwaitingFirstPin && c.session.Entry == "" {
			c.session.State = StateUninitialized
		}
		return c.result(SignalNone), nil
	})
	return res
}

// Cancel clears the buffers. It restarts onboarding during setup and leaves
// the PIN change flow.
func (c *Controller) Cancel() Result {
	res, _ := c.run(func() (Result, error) {
		out := Transition(c.session, Input{Event: EventCancel})
		if out.Valid() {
			c.session = out.Session
		}
		return c.result(out.Signal), nil
	})
	return res
}

// Submit submits a whole code, bypassing digit entry.
func (c *Controller) Submit(code string) (Result, error) {
	return c.run(func() (Result, error) {
		if !c.validCode(code) {
			c.session.Entry = ""
			return c.result(SignalNone), ErrInvalidCode
		}
		if !c.acceptsEntry() {
			return c.result(SignalInvalid), ErrInvalidTransition
		}
		res, err := c.submit(code)
		res.Submitted = true
		return res, err
	})
}

// UnlockWithBiometric unlocks through the platform prompt. A declined scan
// leaves the vault locked with no error.
func (c *Controller) UnlockWithBiometric(ctx context.Context) (Result, error) {
	return c.run(func() (Result, error) {
		if c.session.State != StateLocked {
			return c.result(SignalInvalid), ErrInvalidTransition
		}
		credential, err := c.credential()
		if err != nil {
			return c.abort("read credential", err)
		}
		enabled, err := c.biometricFlag()
		if err != nil {
			return c.abort("read biometric flag", err)
		}
		if !enabled || credential == "" {
			return c.result(SignalNone), ErrBiometricUnavailable
		}
		available, err := c.bio.IsAvailable(ctx)
		if err != nil {
			return c.abort("biometric availability", err)
		}
		if !available {
			return c.result(SignalNone), ErrBiometricUnavailable
		}
		ok, err := c.bio.Authenticate(ctx, biometricPrompt)
		if err != nil {
			return c.abort("biometric prompt", err)
		}
		if !ok {
			c.session.Entry = ""
			c.log.Info("biometric unlock declined")
			return c.result(SignalNone), nil
		}

		in := Input{Event: EventBiometricSuccess, Credential: credential, BiometricEnabled: enabled}
		res, err := c.apply(in, Transition(c.session, in))
		if err == nil {
			c.logAudit(audit.OpGateUnlockBiometric, audit.ResultSuccess)
		}
		return res, err
	})
}

// EnableBiometric enrolls the biometric shortcut after a successful scan.
// It reports false when the user declines the scan.
func (c *Controller) EnableBiometric(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateUnlocked {
		return false, ErrLocked
	}
	available, err := c.bio.IsAvailable(ctx)
	if err != nil {
		return false, &CapabilityError{Op: "biometric availability", Err: err}
	}
	if !available {
		return false, ErrBiometricUnavailable
	}
	ok, err := c.bio.Authenticate(ctx, enrollPrompt)
	if err != nil {
		return false, &CapabilityError{Op: "biometric prompt", Err: err}
	}
	if !ok {
		return false, nil
	}
	// Unlocked implies a credential, but a concurrent reset from another
	// process could have removed it.
	credential, err := c.credential()
	if err != nil {
		return false, &CapabilityError{Op: "read credential", Err: err}
	}
	if credential == "" {
		return false, ErrInvalidTransition
	}
	if err := c.kv.Set(KeyBiometric, flagTrue); err != nil {
		return false, &CapabilityError{Op: "store biometric flag", Err: err}
	}
	c.log.Info("biometric unlock enabled")
	c.logAuditCtx(audit.OpGateBiometricSet, audit.ResultSuccess, map[string]string{"enabled": "true"})
	return true, nil
}

// DisableBiometric removes the biometric shortcut.
func (c *Controller) DisableBiometric() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Remove(KeyBiometric); err != nil {
		return &CapabilityError{Op: "clear biometric flag", Err: err}
	}
	c.log.Info("biometric unlock disabled")
	c.logAuditCtx(audit.OpGateBiometricSet, audit.ResultSuccess, map[string]string{"enabled": "false"})
	return nil
}

// RequestPinChange starts the PIN change flow from Unlocked.
func (c *Controller) RequestPinChange() (Result, error) {
	return c.run(func() (Result, error) {
		return c.apply(Input{Event: EventRequestChange}, Transition(c.session, Input{Event: EventRequestChange}))
	})
}

// Recover destroys the gate credential, the biometric flag, the onboarding
// markers and the failure bookkeeping. Records are left untouched. The
// controller ends in Uninitialized.
func (c *Controller) Recover() (Result, error) {
	return c.run(func() (Result, error) {
		in := Input{Event: EventRecover}
		res, err := c.apply(in, Transition(c.session, in))
		if err == nil {
			c.log.Info("gate reset")
			c.logAudit(audit.OpGateReset, audit.ResultSuccess)
		}
		return res, err
	})
}

// Lock ends the session.
func (c *Controller) Lock() error {
	_, err := c.run(func() (Result, error) {
		was := c.session.State
		in := Input{Event: EventLock}
		res, err := c.apply(in, Transition(c.session, in))
		if err == nil && was != StateLocked {
			c.logAudit(audit.OpGateLock, audit.ResultSuccess)
		}
		return res, err
	})
	return err
}

// BiometricEnabled reports the stored flag. Storage errors read as false.
func (c *Controller) BiometricEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	enabled, err := c.biometricFlag()
	if err != nil {
		c.log.Warn("failed to read biometric flag", zap.Error(err))
		return false
	}
	return enabled
}

// OnboardingShown reports whether onboarding has completed at least once
// since the last recovery.
func (c *Controller) OnboardingShown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok, err := c.kv.Get(KeyOnboardingShown)
	if err != nil {
		c.log.Warn("failed to read onboarding marker", zap.Error(err))
		return false
	}
	return ok && v == flagTrue
}

// Status returns a snapshot of the gate.
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.session.State, PINLength: c.entryLength()}

	credential, err := c.credential()
	if err != nil {
		return st, &CapabilityError{Op: "read credential", Err: err}
	}
	st.Initialized = credential != ""
	if st.Initialized {
		st.Algorithm, err = c.credentialAlgorithm()
		if err != nil {
			return st, &CapabilityError{Op: "read algorithm", Err: err}
		}
	}
	if st.BiometricEnabled, err = c.biometricFlag(); err != nil {
		return st, &CapabilityError{Op: "read biometric flag", Err: err}
	}
	for key, dst := range map[string]*bool{KeyOnboardingShown: &st.OnboardingShown, KeyFirstLaunchDone: &st.FirstLaunchDone} {
		v, ok, err := c.kv.Get(key)
		if err != nil {
			return st, &CapabilityError{Op: "read marker", Err: err}
		}
		*dst = ok && v == flagTrue
	}
	a, err := c.loadAttempts()
	if err != nil {
		return st, &CapabilityError{Op: "read attempts", Err: err}
	}
	st.FailedAttempts = a.FailedAttempts
	if st.CooldownRemaining, err = c.cooldownRemaining(); err != nil {
		return st, &CapabilityError{Op: "read attempts", Err: err}
	}
	return st, nil
}

// run executes fn under the lock and delivers the signal afterwards, so a
// Feedback implementation may call back into the controller.
func (c *Controller) run(fn func() (Result, error)) (Result, error) {
	c.mu.Lock()
	res, err := fn()
	c.mu.Unlock()

	if res.Signal != SignalNone && c.feedback != nil {
		c.feedback.Signal(res.Signal)
	}
	return res, err
}

func (c *Controller) acceptsEntry() bool {
	switch c.session.State {
	case StateUninitialized, StateAwaitingFirstPin, StateAwaitingPinConfirmation,
		StateLocked, StateAwaitingCurrentPinForChange:
		return true
	}
	return false
}

func (c *Controller) validCode(code string) bool {
	if len(code) != c.entryLength() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// submit runs EventSubmit for code. Caller holds the lock.
func (c *Controller) submit(code string) (Result, error) {
	in := Input{Event: EventSubmit, Code: code}
	state := c.session.State

	switch state {
	case StateLocked, StateAwaitingCurrentPinForChange:
		if state == StateLocked {
			remaining, err := c.cooldownRemaining()
			if err != nil {
				return c.abort("read attempts", err)
			}
			if remaining > 0 {
				c.session.Entry = ""
				return c.result(SignalNone), fmt.Errorf("%w: retry in %s", ErrCooldownActive, remaining.Round(time.Second))
			}
		}
		credential, err := c.credential()
		if err != nil {
			return c.abort("read credential", err)
		}
		algorithm, err := c.credentialAlgorithm()
		if err != nil {
			return c.abort("read algorithm", err)
		}
		in.Credential = credential
		if in.Digest, err = c.digest.Digest(algorithm, code); err != nil {
			return c.abort("digest", err)
		}
	case StateAwaitingPinConfirmation:
		var err error
		if in.Digest, err = c.digest.Digest(c.algorithm, code); err != nil {
			return c.abort("digest", err)
		}
	}

	out := Transition(c.session, in)
	res, err := c.apply(in, out)
	if err != nil {
		return res, err
	}

	switch out.Signal {
	case SignalOnboarded:
		c.log.Info("onboarding complete")
		c.logAudit(audit.OpGateOnboard, audit.ResultSuccess)
	case SignalUnlocked:
		c.log.Info("vault unlocked")
		c.logAudit(audit.OpGateUnlock, audit.ResultSuccess)
	case SignalIncorrectPin:
		c.log.Info("incorrect PIN", zap.Stringer("state", state))
		op := audit.OpGateUnlockFailed
		if state == StateAwaitingCurrentPinForChange {
			op = audit.OpGatePinChange
		}
		if c.audit != nil {
			if err := c.audit.LogError(op, c.source, "", "incorrect_pin", "incorrect PIN"); err != nil {
				c.log.Warn("audit log failed", zap.String("op", op), zap.Error(err))
			}
		}
	case SignalChangeVerified:
		c.log.Info("PIN change verified, credential cleared")
		c.logAudit(audit.OpGatePinChange, audit.ResultSuccess)
	case SignalPinsDoNotMatch:
		c.log.Info("onboarding confirmation mismatch")
	}
	return res, nil
}

// apply runs the effects of out in order and commits the session. A failed
// credential or biometric effect aborts with a CapabilityError and keeps the
// previous session. Bookkeeping effects only warn. Caller holds the lock.
func (c *Controller) apply(in Input, out Outcome) (Result, error) {
	if !out.Valid() {
		return c.result(SignalInvalid), ErrInvalidTransition
	}

	var offer bool
	for _, e := range out.Effects {
		var err error
		critical := true
		switch e {
		case EffectStoreCredential:
			err = c.storeCredential(in.Digest, len(in.Code))
		case EffectClearBiometric:
			err = c.kv.Remove(KeyBiometric)
		case EffectClearCredential:
			if err = c.kv.Remove(KeyCredential); err == nil {
				c.storedLength = 0
				if rmErr := errors.Join(c.kv.Remove(KeyAlgorithm), c.kv.Remove(KeyPINLength)); rmErr != nil {
					c.log.Warn("failed to remove credential metadata", zap.Error(rmErr))
				}
			}
		case EffectClearMarkers:
			critical = false
			err = errors.Join(c.kv.Remove(KeyOnboardingShown), c.kv.Remove(KeyFirstLaunchDone))
		case EffectMarkOnboarded:
			critical = false
			err = errors.Join(c.kv.Set(KeyOnboardingShown, flagTrue), c.kv.Set(KeyFirstLaunchDone, flagTrue))
		case EffectOfferBiometric:
			critical = false
			offer, err = c.bio.IsAvailable(context.Background())
		case EffectRecordFailure:
			critical = false
			err = c.recordFailure()
		case EffectClearFailures:
			critical = false
			err = c.clearFailures()
		}
		if err == nil {
			continue
		}
		if critical {
			return c.abort(e.String(), err)
		}
		c.log.Warn("gate effect failed", zap.Stringer("effect", e), zap.Error(err))
	}

	c.session = out.Session
	if c.session.State == StateReset {
		c.session = Session{State: StateUninitialized}
	}

	res := c.result(out.Signal)
	res.OfferBiometric = offer
	return res, nil
}

// storeCredential writes the algorithm and length first so the credential
// is never readable without them.
func (c *Controller) storeCredential(digest string, length int) error {
	if digest == "" {
		return errors.New("empty digest")
	}
	if err := c.kv.Set(KeyAlgorithm, c.algorithm); err != nil {
		return err
	}
	if err := c.kv.Set(KeyPINLength, strconv.Itoa(length)); err != nil {
		return err
	}
	if err := c.kv.Set(KeyCredential, digest); err != nil {
		return err
	}
	c.storedLength = length
	return nil
}

// abort keeps the current session with a cleared entry buffer.
func (c *Controller) abort(op string, err error) (Result, error) {
	c.session.Entry = ""
	c.log.Error("gate capability failed", zap.String("op", op), zap.Error(err))
	if c.audit != nil {
		aerr := c.audit.Log(audit.Entry{
			Operation: audit.OpGateError,
			Source:    c.source,
			Result:    audit.ResultError,
			Error:     &audit.ErrorInfo{Code: "capability_error", Message: err.Error()},
			Context:   map[string]string{"op": op},
		})
		if aerr != nil {
			c.log.Warn("audit log failed", zap.Error(aerr))
		}
	}
	return c.result(SignalNone), &CapabilityError{Op: op, Err: err}
}

func (c *Controller) result(sig Signal) Result {
	return Result{State: c.session.State, Signal: sig, Entered: len(c.session.Entry)}
}

func (c *Controller) credential() (string, error) {
	v, ok, err := c.kv.Get(KeyCredential)
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}

// credentialAlgorithm is the algorithm the stored credential was created
// with. Credentials without one predate the key and use SHA-256.
func (c *Controller) credentialAlgorithm() (string, error) {
	v, ok, err := c.kv.Get(KeyAlgorithm)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return crypto.AlgorithmSHA256, nil
	}
	return v, nil
}

// credentialLength is the length the stored credential was created with.
// Zero means the credential predates the key; the configured length applies.
func (c *Controller) credentialLength() (int, error) {
	v, ok, err := c.kv.Get(KeyPINLength)
	if err != nil || !ok || v == "" {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < MinPINLength || n > MaxPINLength {
		c.log.Warn("ignoring invalid stored PIN length", zap.String("value", v))
		return 0, nil
	}
	return n, nil
}

func (c *Controller) biometricFlag() (bool, error) {
	v, ok, err := c.kv.Get(KeyBiometric)
	if err != nil {
		return false, err
	}
	return ok && v == flagTrue, nil
}

func (c *Controller) logAudit(op, result string) {
	c.logAuditCtx(op, result, nil)
}

func (c *Controller) logAuditCtx(op, result string, ctx map[string]string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(audit.Entry{Operation: op, Source: c.source, Result: result, Context: ctx}); err != nil {
		c.log.Warn("audit log failed", zap.String("op", op), zap.Error(err))
	}
}
