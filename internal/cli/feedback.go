package cli

import (
	"fmt"
	"io"

	"github.com/forest6511/pinvault/pkg/gate"
)

const bell = "\a"

// Feedback prints gate signals. Failure signals ring the terminal bell.
type Feedback struct {
	Out io.Writer
	// Quiet suppresses success messages.
	Quiet bool
	// NoBell disables the bell.
	NoBell bool
}

// Signal implements gate.Feedback.
func (f *Feedback) Signal(s gate.Signal) {
	msg := s.Message()
	if msg == "" {
		return
	}
	if s.Failure() {
		if !f.NoBell {
			fmt.Fprint(f.Out, bell)
		}
		fmt.Fprintln(f.Out, msg)
		return
	}
	if !f.Quiet {
		fmt.Fprintln(f.Out, msg)
	}
}
