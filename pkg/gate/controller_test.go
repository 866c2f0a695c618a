package gate

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/biometric"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/kv"
	"github.com/forest6511/pinvault/pkg/record"
)

type recorder struct {
	signals []Signal
}

func (r *recorder) Signal(s Signal) { r.signals = append(r.signals, s) }

func newController(t *testing.T, store kv.Store, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{KV: store, Digest: crypto.NewDigester()}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func typeCode(t *testing.T, c *Controller, code string) Result {
	t.Helper()
	var res Result
	for i, d := range code {
		var err error
		res, err = c.PressDigit(d)
		require.NoError(t, err)
		if i < len(code)-1 {
			assert.False(t, res.Submitted, "must not submit before the buffer is full")
		}
	}
	assert.True(t, res.Submitted, "full buffer must auto-submit")
	return res
}

func onboard(t *testing.T, c *Controller, pin string) {
	t.Helper()
	typeCode(t, c, pin)
	res := typeCode(t, c, pin)
	require.Equal(t, StateUnlocked, res.State)
}

func TestInitialState(t *testing.T) {
	mem := kv.NewMemory()
	c := newController(t, mem)
	assert.Equal(t, StateUninitialized, c.State())
	assert.ErrorIs(t, c.Guard(), ErrLocked)

	require.NoError(t, mem.Set(KeyCredential, "abc"))
	c = newController(t, mem)
	assert.Equal(t, StateLocked, c.State())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	mem := kv.NewMemory()
	_, err = New(Config{KV: mem, Digest: crypto.NewDigester(), PINLength: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{KV: mem, Digest: crypto.NewDigester(), PINLength: 13})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{KV: mem, Digest: crypto.NewDigester(), Algorithm: "md5"})
	assert.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)
}

func TestNewRemovesOrphanBiometricFlag(t *testing.T) {
	mem := kv.NewMemory()
	require.NoError(t, mem.Set(KeyBiometric, "true"))
	c := newController(t, mem)
	assert.False(t, c.BiometricEnabled())
	_, ok, _ := mem.Get(KeyBiometric)
	assert.False(t, ok)
}

func TestDigestDeterministicAndDistinct(t *testing.T) {
	d := crypto.NewDigester()
	a1, err := d.Digest(crypto.AlgorithmSHA256, "000000")
	require.NoError(t, err)
	a2, err := d.Digest(crypto.AlgorithmSHA256, "000000")
	require.NoError(t, err)
	b, err := d.Digest(crypto.AlgorithmSHA256, "000001")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.NotContains(t, a1, "000000")
}

func TestOnboardingMismatchThenSuccess(t *testing.T) {
	mem := kv.NewMemory()
	fb := &recorder{}
	c := newController(t, mem, func(cfg *Config) { cfg.Feedback = fb })

	res := typeCode(t, c, "123456")
	assert.Equal(t, StateAwaitingPinConfirmation, res.State)
	assert.Equal(t, 0, res.Entered)

	res = typeCode(t, c, "654321")
	assert.Equal(t, StateUninitialized, res.State)
	assert.Equal(t, SignalPinsDoNotMatch, res.Signal)
	assert.ErrorIs(t, res.Err(), ErrAuthMismatch)
	_, ok, err := mem.Get(KeyCredential)
	require.NoError(t, err)
	assert.False(t, ok, "no credential may be stored after a mismatch")

	typeCode(t, c, "123456")
	res = typeCode(t, c, "123456")
	assert.Equal(t, StateUnlocked, res.State)
	assert.Equal(t, SignalOnboarded, res.Signal)
	assert.NoError(t, res.Err())
	assert.NoError(t, c.Guard())

	stored, ok, err := mem.Get(KeyCredential)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "123456", stored)
	assert.NotContains(t, stored, "123456")
	assert.True(t, c.OnboardingShown())

	assert.Equal(t, []Signal{SignalPinsDoNotMatch, SignalOnboarded}, fb.signals)
}

func TestIncorrectPinNeverLeavesLocked(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem), "111111")
	before, _, _ := mem.Get(KeyCredential)

	fb := &recorder{}
	c := newController(t, mem, func(cfg *Config) { cfg.Feedback = fb })
	require.Equal(t, StateLocked, c.State())

	for i := 0; i < 3; i++ {
		res := typeCode(t, c, "222222")
		assert.Equal(t, StateLocked, res.State)
		assert.Equal(t, SignalIncorrectPin, res.Signal)
		assert.ErrorIs(t, res.Err(), ErrAuthMismatch)
		assert.Equal(t, 0, res.Entered)
		assert.Equal(t, StateLocked, c.State())

		after, _, _ := mem.Get(KeyCredential)
		assert.Equal(t, before, after)
	}
	assert.Equal(t, []Signal{SignalIncorrectPin, SignalIncorrectPin, SignalIncorrectPin}, fb.signals)

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 3, st.FailedAttempts)
	assert.Zero(t, st.CooldownRemaining)

	res := typeCode(t, c, "111111")
	assert.Equal(t, StateUnlocked, res.State)
	st, err = c.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, st.FailedAttempts)
}

func TestRecoveryPreservesRecords(t *testing.T) {
	mem := kv.NewMemory()
	key := make([]byte, crypto.KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	records := record.New(mem, crypto.NewAESCipher(crypto.StaticKey(key)))

	bio := &biometric.Fake{Available: true, Default: true}
	c := newController(t, mem, func(cfg *Config) { cfg.Biometric = bio })
	onboard(t, c, "111111")
	enabled, err := c.EnableBiometric(context.Background())
	require.NoError(t, err)
	require.True(t, enabled)

	_, err = records.Create(record.Fields{Title: "one", Secret: "s1"})
	require.NoError(t, err)
	_, err = records.Create(record.Fields{Title: "two", Secret: "s2"})
	require.NoError(t, err)
	before, err := records.List()
	require.NoError(t, err)

	c = newController(t, mem, func(cfg *Config) { cfg.Biometric = bio })
	res, err := c.Recover()
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, res.State)
	assert.Equal(t, SignalReset, res.Signal)
	assert.Equal(t, StateUninitialized, c.State())

	for _, k := range []string{KeyCredential, KeyBiometric, KeyOnboardingShown, KeyFirstLaunchDone, KeyAttempts} {
		_, ok, err := mem.Get(k)
		require.NoError(t, err)
		assert.False(t, ok, "%s must be cleared", k)
	}
	assert.False(t, c.BiometricEnabled())

	reloaded := record.New(mem, crypto.NewAESCipher(crypto.StaticKey(key)))
	require.NoError(t, reloaded.Load())
	after, err := reloaded.List()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	c = newController(t, mem)
	assert.Equal(t, StateUninitialized, c.State())
}

func TestRestartLocksAgain(t *testing.T) {
	mem := kv.NewMemory()
	c := newController(t, mem)
	typeCode(t, c, "482913")
	res := typeCode(t, c, "482913")
	require.Equal(t, StateUnlocked, res.State)

	c = newController(t, mem)
	assert.Equal(t, StateLocked, c.State())
	res = typeCode(t, c, "482913")
	assert.Equal(t, StateUnlocked, res.State)
	assert.Equal(t, SignalUnlocked, res.Signal)
}

func TestLock(t *testing.T) {
	mem := kv.NewMemory()
	c := newController(t, mem)
	onboard(t, c, "111111")

	require.NoError(t, c.Lock())
	assert.Equal(t, StateLocked, c.State())
	require.NoError(t, c.Lock())

	fresh := newController(t, kv.NewMemory())
	assert.ErrorIs(t, fresh.Lock(), ErrInvalidTransition)
}

func TestPinChangeResetsThenReonboards(t *testing.T) {
	mem := kv.NewMemory()
	bio := &biometric.Fake{Available: true, Default: true}
	c := newController(t, mem, func(cfg *Config) { cfg.Biometric = bio })
	onboard(t, c, "111111")
	_, err := c.EnableBiometric(context.Background())
	require.NoError(t, err)

	res, err := c.RequestPinChange()
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCurrentPinForChange, res.State)
	assert.ErrorIs(t, c.Guard(), ErrLocked)

	res = typeCode(t, c, "999999")
	assert.Equal(t, StateAwaitingCurrentPinForChange, res.State)
	assert.Equal(t, SignalIncorrectPin, res.Signal)

	res = typeCode(t, c, "111111")
	assert.Equal(t, StateUninitialized, res.State)
	assert.Equal(t, SignalChangeVerified, res.Signal)
	_, ok, _ := mem.Get(KeyCredential)
	assert.False(t, ok)
	assert.False(t, c.BiometricEnabled())
	assert.True(t, c.OnboardingShown(), "PIN change keeps onboarding markers")

	onboard(t, c, "222222")
	c = newController(t, mem)
	assert.Equal(t, SignalIncorrectPin, typeCode(t, c, "111111").Signal)
	assert.Equal(t, StateUnlocked, typeCode(t, c, "222222").State)
}

func TestCancelChangeReturnsToUnlocked(t *testing.T) {
	c := newController(t, kv.NewMemory())
	onboard(t, c, "111111")
	_, err := c.RequestPinChange()
	require.NoError(t, err)

	_, err = c.PressDigit('1')
	require.NoError(t, err)
	res := c.Cancel()
	assert.Equal(t, StateUnlocked, res.State)
	assert.Equal(t, 0, res.Entered)
}

func TestCancelDuringOnboarding(t *testing.T) {
	c := newController(t, kv.NewMemory())
	typeCode(t, c, "123456")
	_, err := c.PressDigit('1')
	require.NoError(t, err)

	res := c.Cancel()
	assert.Equal(t, StateUninitialized, res.State)

	// Onboarding restarts: the next full code is a first entry again.
	res = typeCode(t, c, "654321")
	assert.Equal(t, StateAwaitingPinConfirmation, res.State)
}

func TestDigitEntry(t *testing.T) {
	c := newController(t, kv.NewMemory(), func(cfg *Config) { cfg.PINLength = 4 })

	_, err := c.PressDigit('x')
	assert.ErrorIs(t, err, ErrInvalidCode)

	res, err := c.PressDigit('1')
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFirstPin, res.State)
	assert.Equal(t, 1, res.Entered)

	res = c.Backspace()
	assert.Equal(t, StateUninitialized, res.State)
	assert.Equal(t, 0, res.Entered)
	res = c.Backspace()
	assert.Equal(t, 0, res.Entered)

	res = typeCode(t, c, "1234")
	assert.Equal(t, StateAwaitingPinConfirmation, res.State)
	res = typeCode(t, c, "1234")
	assert.Equal(t, StateUnlocked, res.State)

	_, err = c.PressDigit('1')
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitValidatesCode(t *testing.T) {
	c := newController(t, kv.NewMemory())
	for _, code := range []string{"", "12345", "1234567", "12345a", "١٢٣٤٥٦"} {
		_, err := c.Submit(code)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
	}
	res, err := c.Submit("123456")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPinConfirmation, res.State)
}

func TestInvalidTransitions(t *testing.T) {
	fb := &recorder{}
	c := newController(t, kv.NewMemory(), func(cfg *Config) { cfg.Feedback = fb })

	_, err := c.RequestPinChange()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.Recover()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.UnlockWithBiometric(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateUninitialized, c.State())
	assert.Contains(t, fb.signals, SignalInvalid)
}

func TestBiometricUnlock(t *testing.T) {
	mem := kv.NewMemory()
	bio := &biometric.Fake{Available: true, Results: []bool{true}}
	c := newController(t, mem, func(cfg *Config) { cfg.Biometric = bio })

	typeCode(t, c, "111111")
	res := typeCode(t, c, "111111")
	assert.True(t, res.OfferBiometric)

	enabled, err := c.EnableBiometric(context.Background())
	require.NoError(t, err)
	require.True(t, enabled)
	assert.True(t, c.BiometricEnabled())

	c = newController(t, mem, func(cfg *Config) { cfg.Biometric = bio })
	bio.Results = []bool{false, true}

	res, err = c.UnlockWithBiometric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLocked, res.State, "declined scan stays locked")

	res, err = c.UnlockWithBiometric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, res.State)
	assert.Equal(t, SignalUnlocked, res.Signal)
}

func TestBiometricUnavailable(t *testing.T) {
	mem := kv.NewMemory()
	c := newController(t, mem)
	typeCode(t, c, "111111")
	res := typeCode(t, c, "111111")
	assert.False(t, res.OfferBiometric)

	_, err := c.EnableBiometric(context.Background())
	assert.ErrorIs(t, err, ErrBiometricUnavailable)

	// Flag set, but the platform lost its capability.
	require.NoError(t, mem.Set(KeyBiometric, "true"))
	c = newController(t, mem, func(cfg *Config) { cfg.Biometric = &biometric.Fake{Available: false} })
	_, err = c.UnlockWithBiometric(context.Background())
	assert.ErrorIs(t, err, ErrBiometricUnavailable)
	assert.Equal(t, StateLocked, c.State())

	// Capability present, flag not set.
	require.NoError(t, c.DisableBiometric())
	c = newController(t, mem, func(cfg *Config) { cfg.Biometric = &biometric.Fake{Available: true, Default: true} })
	_, err = c.UnlockWithBiometric(context.Background())
	assert.ErrorIs(t, err, ErrBiometricUnavailable)
}

func TestEnableBiometricRequiresUnlocked(t *testing.T) {
	c := newController(t, kv.NewMemory(), func(cfg *Config) {
		cfg.Biometric = &biometric.Fake{Available: true, Default: true}
	})
	_, err := c.EnableBiometric(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestBiometricCapabilityError(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem), "111111")
	require.NoError(t, mem.Set(KeyBiometric, "true"))

	sensor := errors.New("sensor failure")
	c := newController(t, mem, func(cfg *Config) {
		cfg.Biometric = &biometric.Fake{Available: true, AuthErr: sensor}
	})
	_, err := c.UnlockWithBiometric(context.Background())
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, sensor)
	assert.Equal(t, StateLocked, c.State())
}

// flakyKV fails operations on selected keys.
type flakyKV struct {
	*kv.Memory
	failGet    map[string]bool
	failSet    map[string]bool
	failRemove map[string]bool
}

var errStorage = errors.New("storage unavailable")

func newFlaky() *flakyKV {
	return &flakyKV{
		Memory:     kv.NewMemory(),
		failGet:    map[string]bool{},
		failSet:    map[string]bool{},
		failRemove: map[string]bool{},
	}
}

func (f *flakyKV) Get(key string) (string, bool, error) {
	if f.failGet[key] {
		return "", false, errStorage
	}
	return f.Memory.Get(key)
}

func (f *flakyKV) Set(key, value string) error {
	if f.failSet[key] {
		return errStorage
	}
	return f.Memory.Set(key, value)
}

func (f *flakyKV) Remove(key string) error {
	if f.failRemove[key] {
		return errStorage
	}
	return f.Memory.Remove(key)
}

func TestCapabilityErrorOnStoreCredential(t *testing.T) {
	store := newFlaky()
	store.failSet[KeyCredential] = true
	c := newController(t, store)

	typeCode(t, c, "123456")
	for i, d := range "123456" {
		res, err := c.PressDigit(d)
		if i < 5 {
			require.NoError(t, err)
			continue
		}
		var capErr *CapabilityError
		require.ErrorAs(t, err, &capErr)
		assert.ErrorIs(t, err, errStorage)
		assert.Equal(t, StateAwaitingPinConfirmation, res.State, "previous state is kept")
		assert.Equal(t, 0, res.Entered)
	}

	_, ok, _ := store.Memory.Get(KeyCredential)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Guard(), ErrLocked)

	store.failSet[KeyCredential] = false
	res := typeCode(t, c, "123456")
	assert.Equal(t, StateUnlocked, res.State)
}

func TestCapabilityErrorOnUnlockRead(t *testing.T) {
	store := newFlaky()
	onboard(t, newController(t, store), "111111")

	c := newController(t, store)
	store.failGet[KeyCredential] = true
	for i, d := range "111111" {
		_, err := c.PressDigit(d)
		if i == 5 {
			var capErr *CapabilityError
			assert.ErrorAs(t, err, &capErr)
		}
	}
	assert.Equal(t, StateLocked, c.State())

	store.failGet[KeyCredential] = false
	assert.Equal(t, StateUnlocked, typeCode(t, c, "111111").State)
}

func TestCapabilityErrorOnRecoverKeepsState(t *testing.T) {
	store := newFlaky()
	onboard(t, newController(t, store), "111111")
	c := newController(t, store)

	store.failRemove[KeyCredential] = true
	_, err := c.Recover()
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, StateLocked, c.State())
	_, ok, _ := store.Memory.Get(KeyCredential)
	assert.True(t, ok)

	store.failRemove[KeyCredential] = false
	res, err := c.Recover()
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, res.State)
}

func TestNewFailsOnUnreadableStore(t *testing.T) {
	store := newFlaky()
	store.failGet[KeyCredential] = true
	_, err := New(Config{KV: store, Digest: crypto.NewDigester()})
	var capErr *CapabilityError
	assert.ErrorAs(t, err, &capErr)
}

func TestBookkeepingFailureDoesNotBlockUnlock(t *testing.T) {
	store := newFlaky()
	onboard(t, newController(t, store), "111111")
	c := newController(t, store)

	store.failRemove[KeyAttempts] = true
	assert.Equal(t, StateUnlocked, typeCode(t, c, "111111").State)
}

func TestCooldown(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem), "111111")

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := newController(t, mem, func(cfg *Config) {
		cfg.CooldownThreshold = 2
		cfg.Cooldown = 30 * time.Second
		cfg.Clock = func() time.Time { return now }
	})

	typeCode(t, c, "222222")
	typeCode(t, c, "222222")

	_, err := c.Submit("111111")
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, StateLocked, c.State())

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, st.CooldownRemaining)

	now = now.Add(31 * time.Second)
	res, err := c.Submit("111111")
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, res.State)
}

func TestStoredAlgorithmIsUsedForVerification(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem, func(cfg *Config) { cfg.Algorithm = crypto.AlgorithmSHA512 }), "111111")

	algo, _, _ := mem.Get(KeyAlgorithm)
	assert.Equal(t, crypto.AlgorithmSHA512, algo)

	// Default algorithm changed in config afterwards.
	c := newController(t, mem)
	assert.Equal(t, StateUnlocked, typeCode(t, c, "111111").State)
	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, crypto.AlgorithmSHA512, st.Algorithm)
}

func TestStoredPINLengthSurvivesConfigChange(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem), "482913")

	n, _, _ := mem.Get(KeyPINLength)
	assert.Equal(t, "6", n)

	// Configured length lowered after onboarding.
	short := func(cfg *Config) { cfg.PINLength = 4 }
	c := newController(t, mem, short)
	assert.Equal(t, 6, c.PINLength())

	res, err := c.PressDigit('4')
	require.NoError(t, err)
	for _, d := range "829" {
		res, err = c.PressDigit(d)
		require.NoError(t, err)
	}
	assert.False(t, res.Submitted, "a prefix of the stored length must not submit")
	a, err := c.loadAttempts()
	require.NoError(t, err)
	assert.Zero(t, a.FailedAttempts)
	c.Cancel()

	assert.Equal(t, StateUnlocked, typeCode(t, c, "482913").State)

	c = newController(t, mem, short)
	res, err = c.Submit("482913")
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, res.State)
	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 6, st.PINLength)

	// A new PIN after recovery uses the configured length.
	_, err = c.Recover()
	require.NoError(t, err)
	_, ok, _ := mem.Get(KeyPINLength)
	assert.False(t, ok)
	assert.Equal(t, 4, c.PINLength())
	onboard(t, c, "1357")

	c = newController(t, mem)
	assert.Equal(t, 4, c.PINLength())
	assert.Equal(t, StateUnlocked, typeCode(t, c, "1357").State)
}

func TestPINLengthWithoutStoredLength(t *testing.T) {
	mem := kv.NewMemory()
	onboard(t, newController(t, mem), "246802")
	require.NoError(t, mem.Remove(KeyPINLength))

	c := newController(t, mem)
	assert.Equal(t, DefaultPINLength, c.PINLength())
	assert.Equal(t, StateUnlocked, typeCode(t, c, "246802").State)
}

func TestAuditTrail(t *testing.T) {
	al := audit.NewLogger(t.TempDir())
	require.NoError(t, al.SetHMACKey([]byte("0123456789abcdef0123456789abcdef")))

	mem := kv.NewMemory()
	withAudit := func(cfg *Config) { cfg.Audit = al; cfg.Source = audit.SourceCLI }
	onboard(t, newController(t, mem, withAudit), "111111")

	c := newController(t, mem, withAudit)
	typeCode(t, c, "000000")
	typeCode(t, c, "111111")
	require.NoError(t, c.Lock())
	_, err := c.Recover()
	require.NoError(t, err)

	events, err := al.ListEvents(0, time.Time{})
	require.NoError(t, err)
	var ops []string
	for _, e := range events {
		ops = append(ops, e.Operation)
	}
	assert.Equal(t, []string{
		audit.OpGateOnboard,
		audit.OpGateUnlockFailed,
		audit.OpGateUnlock,
		audit.OpGateLock,
		audit.OpGateReset,
	}, ops)

	res, err := al.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestFeedbackMayReenterController(t *testing.T) {
	var c *Controller
	var seen State
	fb := FeedbackFunc(func(s Signal) {
		if s == SignalOnboarded {
			seen = c.State()
		}
	})
	c = newController(t, kv.NewMemory(), func(cfg *Config) { cfg.Feedback = fb })
	onboard(t, c, "123456")
	assert.Equal(t, StateUnlocked, seen)
}
