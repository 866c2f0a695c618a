package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/kv"
)

func newGate(t *testing.T, fb gate.Feedback) *gate.Controller {
	t.Helper()
	g, err := gate.New(gate.Config{
		KV:        kv.NewMemory(),
		Digest:    crypto.NewDigester(),
		PINLength: 4,
		Feedback:  fb,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return g
}

func TestPinPad_Onboard(t *testing.T) {
	g := newGate(t, nil)
	var out bytes.Buffer
	pad := NewPinPadReader(strings.NewReader("1234\n1234\n"), &out)

	res, err := pad.Enter(g, "New PIN")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if !res.Submitted || res.State != gate.StateAwaitingPinConfirmation {
		t.Fatalf("unexpected result after first PIN: %+v", res)
	}

	res, err = pad.Enter(g, "Confirm PIN")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if res.State != gate.StateUnlocked || res.Signal != gate.SignalOnboarded {
		t.Errorf("unexpected result after confirmation: %+v", res)
	}
	if !strings.Contains(out.String(), "New PIN (4 digits): ") {
		t.Errorf("prompt not written: %q", out.String())
	}
}

func TestPinPad_BackspaceAndBlankLines(t *testing.T) {
	g := newGate(t, nil)
	pad := NewPinPadReader(strings.NewReader("\n\r\n129\b34\n"), &bytes.Buffer{})

	res, err := pad.Enter(g, "PIN")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if res.State != gate.StateAwaitingPinConfirmation {
		t.Errorf("expected confirmation state, got %s", res.State)
	}

	// "1234" is the effective PIN
	if _, err := g.Submit("1234"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if g.State() != gate.StateUnlocked {
		t.Errorf("backspace not applied, state %s", g.State())
	}
}

func TestPinPad_InvalidLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "too short", input: "123\n"},
		{name: "too long", input: "12345\n"},
		{name: "letters", input: "12a4\n"},
		{name: "backspaced away", input: "1234\b\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newGate(t, nil)
			pad := NewPinPadReader(strings.NewReader(tc.input), &bytes.Buffer{})

			_, err := pad.Enter(g, "PIN")
			if !errors.Is(err, gate.ErrInvalidCode) {
				t.Errorf("expected ErrInvalidCode, got %v", err)
			}
			if g.State() != gate.StateUninitialized {
				t.Errorf("controller should be untouched, state %s", g.State())
			}
		})
	}
}

func TestPinPad_NoInput(t *testing.T) {
	g := newGate(t, nil)
	pad := NewPinPadReader(strings.NewReader("\n"), &bytes.Buffer{})

	if _, err := pad.Enter(g, "PIN"); !errors.Is(err, ErrNoInput) {
		t.Errorf("expected ErrNoInput, got %v", err)
	}
}

func TestPinPad_LastLineWithoutNewline(t *testing.T) {
	g := newGate(t, nil)
	pad := NewPinPadReader(strings.NewReader("4321"), &bytes.Buffer{})

	res, err := pad.Enter(g, "PIN")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if !res.Submitted {
		t.Error("expected submission")
	}
}
