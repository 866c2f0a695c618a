package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/forest6511/pinvault/pkg/gate"
)

const (
	keyBackspace = '\b'
	keyDelete    = 0x7f
)

// ErrNoInput is returned when the input ends before a PIN was entered.
var ErrNoInput = errors.New("no PIN entered")

// PinPad reads PIN lines and types them into a gate controller one digit at
// a time, the way a keypad would.
type PinPad struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

// NewPinPad reads from f, hiding input when f is a terminal.
func NewPinPad(f *os.File, out io.Writer) *PinPad {
	fd := int(f.Fd())
	return &PinPad{in: bufio.NewReader(f), out: out, fd: fd, tty: term.IsTerminal(fd)}
}

// NewPinPadReader reads newline separated PINs from r.
func NewPinPadReader(r io.Reader, out io.Writer) *PinPad {
	return &PinPad{in: bufio.NewReader(r), out: out}
}

// Enter prompts for one PIN and presses its digits on g. Backspace and
// delete characters remove the previous digit. The line must leave exactly
// g.PINLength() digits; otherwise g is not touched and the error wraps
// gate.ErrInvalidCode.
func (p *PinPad) Enter(g *gate.Controller, prompt string) (gate.Result, error) {
	fmt.Fprintf(p.out, "%s (%d digits): ", prompt, g.PINLength())
	line, err := p.readLine()
	if err != nil {
		return gate.Result{}, err
	}

	code, ok := effectiveCode(line)
	if !ok || len(code) != g.PINLength() {
		return gate.Result{}, fmt.Errorf("%w: PIN must be %d digits", gate.ErrInvalidCode, g.PINLength())
	}

	var res gate.Result
	for _, d := range code {
		if res, err = g.PressDigit(d); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *PinPad) readLine() (string, error) {
	if p.tty {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out) // Add newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}
		return string(b), nil
	}

	for {
		line, err := p.in.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", ErrNoInput
		}
	}
}

// effectiveCode applies backspaces to line and reports whether what is left
// is all digits.
func effectiveCode(line string) (string, bool) {
	var b []rune
	for _, r := range line {
		switch {
		case r == keyBackspace || r == keyDelete:
			if len(b) > 0 {
				b = b[:len(b)-1]
			}
		case r >= '0' && r <= '9':
			b = append(b, r)
		default:
			return "", false
		}
	}
	return string(b), true
}
