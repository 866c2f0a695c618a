package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/forest6511/pinvault/internal/cli"
	"github.com/forest6511/pinvault/internal/config"
	"github.com/forest6511/pinvault/internal/logger"
	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/vault"
)

// maxPINAttempts bounds PIN prompts per command.
const maxPINAttempts = 3

var (
	cfg *config.Config
	v   *vault.Vault

	// stdin is shared by every prompt so piped input is consumed in order.
	stdin  = bufio.NewReader(os.Stdin)
	stdinF = os.Stdin
)

// Global flags
var (
	flagDataDir     string
	flagConfigFile  string
	flagLogLevel    string
	flagNoBell      bool
	flagNoBiometric bool
)

var rootCmd = &cobra.Command{
	Use:   "pinvault",
	Short: "pinvault is a PIN-protected local password vault",
	Long: `A local password vault unlocked with a numeric PIN or biometrics.

Records are encrypted with a data key kept outside the database, so
resetting a forgotten PIN with 'pinvault recover' keeps every record.`,
	SilenceUsage: true,
	// PersistentPreRunE loads configuration and the logger for every command.
	// Commands open the vault themselves.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(config.Options{DataDir: flagDataDir, ConfigFile: flagConfigFile})
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			c.Log.Level = flagLogLevel
		}
		if err := logger.Init(c.Log.Level, c.Log.Format); err != nil {
			return err
		}
		cfg = c
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		_ = logger.Sync()
		return closeVault()
	},
}

// execute runs the root command. cobra skips PersistentPostRunE when RunE
// fails, so the vault is closed here as well.
func execute() error {
	err := rootCmd.Execute()
	if cerr := closeVault(); cerr != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close vault: %v\n", cerr)
		if err == nil {
			err = cerr
		}
	}
	_ = logger.Sync()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (default ~/.pinvault)")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagNoBell, "no-bell", false, "Do not ring the terminal bell on errors")
	rootCmd.PersistentFlags().BoolVar(&flagNoBiometric, "no-biometric", false, "Always ask for the PIN")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
}

// openVault opens the vault for the current command.
func openVault() error {
	if v != nil {
		return nil
	}
	opened, err := vault.Open(vaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	v = opened
	return nil
}

func vaultOptions() vault.Options {
	return vault.Options{
		Config:   cfg,
		Source:   audit.SourceCLI,
		Logger:   logger.L(),
		Feedback: &cli.Feedback{Out: os.Stderr, NoBell: flagNoBell},
	}
}

func closeVault() error {
	if v == nil {
		return nil
	}
	err := v.Close()
	v = nil
	return err
}

func pinPad() *cli.PinPad {
	if stdinF != nil && term.IsTerminal(int(stdinF.Fd())) {
		return cli.NewPinPad(stdinF, os.Stderr)
	}
	return cli.NewPinPadReader(stdin, os.Stderr)
}

// ensureUnlocked opens the vault and unlocks it, trying biometrics first
// when enabled.
func ensureUnlocked(cmd *cobra.Command) error {
	if err := openVault(); err != nil {
		return err
	}
	g := v.Gate()

	switch g.State() {
	case gate.StateUnlocked:
		return nil
	case gate.StateLocked:
	default:
		return errors.New("vault has no PIN yet: run 'pinvault init' first")
	}

	if !flagNoBiometric && g.BiometricEnabled() {
		res, err := g.UnlockWithBiometric(cmd.Context())
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "warning: biometric unlock failed: %v\n", err)
		case res.State == gate.StateUnlocked:
			return nil
		}
	}

	pad := pinPad()
	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		res, err := pad.Enter(g, "Enter PIN")
		if err != nil {
			if errors.Is(err, gate.ErrInvalidCode) {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			return err
		}
		if res.State == gate.StateUnlocked {
			return nil
		}
	}
	return errors.New("too many incorrect PINs")
}

// choosePIN runs onboarding: a new PIN entered twice. It repeats on a
// mismatch and offers biometric unlock once the PIN is set.
func choosePIN(cmd *cobra.Command) error {
	g := v.Gate()
	pad := pinPad()

	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		if _, err := pad.Enter(g, "Choose a PIN"); err != nil {
			if errors.Is(err, gate.ErrInvalidCode) {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			return err
		}

		res, err := pad.Enter(g, "Confirm PIN")
		if err != nil {
			g.Cancel()
			if errors.Is(err, gate.ErrInvalidCode) {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			return err
		}
		if res.State != gate.StateUnlocked {
			continue
		}

		if res.OfferBiometric && !flagNoBiometric {
			offerBiometric(cmd)
		}
		return nil
	}
	return errors.New("PIN was not set")
}

func offerBiometric(cmd *cobra.Command) {
	if !confirm("Enable biometric unlock?") {
		return
	}
	ok, err := v.Gate().EnableBiometric(cmd.Context())
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "warning: could not enable biometric unlock: %v\n", err)
	case ok:
		fmt.Println("Biometric unlock enabled.")
	default:
		fmt.Println("Biometric unlock was not enabled.")
	}
}

// readLine reads a single line from stdin, trimming trailing newline
func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if err == io.EOF && line == "" {
		return "", io.ErrUnexpectedEOF
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// readSecret reads a value without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	if stdinF != nil && term.IsTerminal(int(stdinF.Fd())) {
		b, err := term.ReadPassword(int(stdinF.Fd()))
		fmt.Fprintln(os.Stderr) // Add newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(b), nil
	}
	return readLine()
}

// confirm asks a yes/no question. Anything but y or yes is no.
func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	answer, err := readLine()
	if err != nil {
		// Treat read error as "no"
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// initCmd sets the first PIN
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the vault and choose a PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault(); err != nil {
			return err
		}
		if v.Gate().State() != gate.StateUninitialized {
			return errors.New("vault is already initialized: use 'pinvault pin change' to change the PIN")
		}
		if err := choosePIN(cmd); err != nil {
			return err
		}
		logger.L().Info("vault initialized", zap.String("dir", v.Path()))
		fmt.Printf("Vault ready at %s\n", v.Path())
		return nil
	},
}
