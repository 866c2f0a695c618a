package gate

import "crypto/subtle"

// State is the controller mode.
type State int

const (
	// StateUninitialized means no credential exists.
	StateUninitialized State = iota
	// StateAwaitingFirstPin means the first onboarding entry is being typed.
	StateAwaitingFirstPin
	// StateAwaitingPinConfirmation means the first entry is buffered.
	StateAwaitingPinConfirmation
	StateLocked
	StateUnlocked
	// StateAwaitingCurrentPinForChange means the old PIN must be re-entered.
	StateAwaitingCurrentPinForChange
	// StateReset is transient; the controller settles in StateUninitialized
	// once the reset effects are applied.
	StateReset
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingFirstPin:
		return "awaiting_first_pin"
	case StateAwaitingPinConfirmation:
		return "awaiting_pin_confirmation"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateAwaitingCurrentPinForChange:
		return "awaiting_current_pin_for_change"
	case StateReset:
		return "reset"
	default:
		return "unknown"
	}
}

// MarshalText encodes s by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Onboarding reports whether s belongs to the two-step PIN setup.
func (s State) Onboarding() bool {
	return s == StateUninitialized || s == StateAwaitingFirstPin || s == StateAwaitingPinConfirmation
}

// Event is an input to Transition.
type Event int

const (
	EventSubmit Event = iota
	EventBiometricSuccess
	EventRequestChange
	EventRecover
	EventCancel
	EventLock
)

func (e Event) String() string {
	switch e {
	case EventSubmit:
		return "submit"
	case EventBiometricSuccess:
		return "biometric_success"
	case EventRequestChange:
		return "request_change"
	case EventRecover:
		return "recover"
	case EventCancel:
		return "cancel"
	case EventLock:
		return "lock"
	default:
		return "unknown"
	}
}

// Effect is a side effect the controller applies, in order, after a
// transition.
type Effect int

const (
	// EffectStoreCredential persists Input.Digest as the credential.
	EffectStoreCredential Effect = iota
	EffectClearCredential
	EffectClearBiometric
	// EffectClearMarkers removes the onboarding-shown and first-launch markers.
	EffectClearMarkers
	EffectMarkOnboarded
	// EffectOfferBiometric asks the caller to offer biometric enrollment.
	EffectOfferBiometric
	EffectRecordFailure
	EffectClearFailures
)

func (e Effect) String() string {
	switch e {
	case EffectStoreCredential:
		return "store_credential"
	case EffectClearCredential:
		return "clear_credential"
	case EffectClearBiometric:
		return "clear_biometric"
	case EffectClearMarkers:
		return "clear_markers"
	case EffectMarkOnboarded:
		return "mark_onboarded"
	case EffectOfferBiometric:
		return "offer_biometric"
	case EffectRecordFailure:
		return "record_failure"
	case EffectClearFailures:
		return "clear_failures"
	default:
		return "unknown"
	}
}

// Signal is the user-visible result of a transition.
type Signal int

const (
	SignalNone Signal = iota
	SignalPinsDoNotMatch
	SignalIncorrectPin
	SignalUnlocked
	SignalOnboarded
	SignalChangeVerified
	SignalReset
	SignalInvalid
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalPinsDoNotMatch:
		return "pins_do_not_match"
	case SignalIncorrectPin:
		return "incorrect_pin"
	case SignalUnlocked:
		return "unlocked"
	case SignalOnboarded:
		return "onboarded"
	case SignalChangeVerified:
		return "change_verified"
	case SignalReset:
		return "reset"
	case SignalInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user for s.
func (s Signal) Message() string {
	switch s {
	case SignalPinsDoNotMatch:
		return "PINs do not match. Start again."
	case SignalIncorrectPin:
		return "Incorrect PIN."
	case SignalUnlocked:
		return "Vault unlocked."
	case SignalOnboarded:
		return "PIN set. Vault unlocked."
	case SignalChangeVerified:
		return "Current PIN verified. Choose a new PIN."
	case SignalReset:
		return "Vault access reset. Set a new PIN."
	case SignalInvalid:
		return "That action is not available right now."
	default:
		return ""
	}
}

// Failure reports whether s should be presented as an error cue.
func (s Signal) Failure() bool {
	return s == SignalPinsDoNotMatch || s == SignalIncorrectPin || s == SignalInvalid
}

// Session is the transient controller state. It is never persisted.
type Session struct {
	State      State
	Entry      string
	FirstEntry string
}

// Input is one event plus the values the reducer needs to decide it.
type Input struct {
	Event Event
	// Code is the submitted PIN for EventSubmit.
	Code string
	// Digest is the digest of Code.
	Digest string
	// Credential is the stored credential digest, empty if none.
	Credential string
	// BiometricEnabled is the stored biometric flag.
	BiometricEnabled bool
}

// Outcome is the result of Transition.
type Outcome struct {
	Session Session
	Effects []Effect
	Signal  Signal
}

// Valid reports whether the event was accepted.
func (o Outcome) Valid() bool { return o.Signal != SignalInvalid }

// Has reports whether e is among the effects.
func (o Outcome) Has(e Effect) bool {
	for _, x := range o.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Transition computes the next session for in. It is pure: no I/O, and the
// same arguments always yield the same outcome. Events that are not valid in
// the current state return the session unchanged with SignalInvalid.
func Transition(s Session, in Input) Outcome {
	switch in.Event {
	case EventSubmit:
		return submit(s, in)
	case EventBiometricSuccess:
		if s.State != StateLocked || !in.BiometricEnabled || in.Credential == "" {
			return invalid(s)
		}
		return Outcome{
			Session: Session{State: StateUnlocked},
			Effects: []Effect{EffectClearFailures},
			Signal:  SignalUnlocked,
		}
	case EventRequestChange:
		if s.State != StateUnlocked {
			return invalid(s)
		}
		return Outcome{Session: Session{State: StateAwaitingCurrentPinForChange}}
	case EventRecover:
		if s.State != StateLocked && s.State != StateUnlocked {
			return invalid(s)
		}
		// Biometric flag goes before the credential so it is never set
		// without one.
		return Outcome{
			Session: Session{State: StateReset},
			Effects: []Effect{EffectClearBiometric, EffectClearCredential, EffectClearMarkers, EffectClearFailures},
			Signal:  SignalReset,
		}
	case EventCancel:
		return cancel(s)
	case EventLock:
		switch s.State {
		case StateUnlocked, StateAwaitingCurrentPinForChange:
			return Outcome{Session: Session{State: StateLocked}}
		case StateLocked:
			return Outcome{Session: Session{State: StateLocked}}
		}
		return invalid(s)
	}
	return invalid(s)
}

func submit(s Session, in Input) Outcome {
	switch s.State {
	case StateUninitialized, StateAwaitingFirstPin:
		return Outcome{Session: Session{State: StateAwaitingPinConfirmation, FirstEntry: in.Code}}

	case StateAwaitingPinConfirmation:
		if !equal(in.Code, s.FirstEntry) {
			return Outcome{Session: Session{State: StateUninitialized}, Signal: SignalPinsDoNotMatch}
		}
		return Outcome{
			Session: Session{State: StateUnlocked},
			Effects: []Effect{EffectStoreCredential, EffectMarkOnboarded, EffectOfferBiometric},
			Signal:  SignalOnboarded,
		}

	case StateLocked:
		if !matches(in) {
			return Outcome{
				Session: Session{State: StateLocked},
				Effects: []Effect{EffectRecordFailure},
				Signal:  SignalIncorrectPin,
			}
		}
		return Outcome{
			Session: Session{State: StateUnlocked},
			Effects: []Effect{EffectClearFailures},
			Signal:  SignalUnlocked,
		}

	case StateAwaitingCurrentPinForChange:
		if !matches(in) {
			return Outcome{Session: Session{State: StateAwaitingCurrentPinForChange}, Signal: SignalIncorrectPin}
		}
		return Outcome{
			Session: Session{State: StateUninitialized},
			Effects: []Effect{EffectClearBiometric, EffectClearCredential},
			Signal:  SignalChangeVerified,
		}
	}
	return invalid(s)
}

func cancel(s Session) Outcome {
	switch s.State {
	case StateAwaitingFirstPin, StateAwaitingPinConfirmation:
		return Outcome{Session: Session{State: StateUninitialized}}
	case StateAwaitingCurrentPinForChange:
		return Outcome{Session: Session{State: StateUnlocked}}
	case StateReset:
		return invalid(s)
	}
	return Outcome{Session: Session{State: s.State}}
}

func invalid(s Session) Outcome {
	return Outcome{Session: s, Signal: SignalInvalid}
}

func matches(in Input) bool {
	return in.Credential != "" && in.Digest != "" && equal(in.Digest, in.Credential)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
