package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/pinvault/pkg/gate"
)

// Output format flags
var (
	statusOutput string
	doctorOutput string
	recoverForce bool
)

func init() {
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(biometricCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(configCmd)

	pinCmd.AddCommand(pinChangeCmd)
	biometricCmd.AddCommand(biometricEnableCmd)
	biometricCmd.AddCommand(biometricDisableCmd)
	configCmd.AddCommand(configShowCmd)

	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json, yaml")
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", "text", "Output format: text, json, yaml")
	recoverCmd.Flags().BoolVarP(&recoverForce, "force", "f", false, "Skip confirmation prompt")
}

// printStructured writes value as JSON or YAML. It reports false for text.
func printStructured(format string, value any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return true, enc.Encode(value)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(value)
	case "text", "":
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q: must be text, json or yaml", format)
	}
}

// statusCmd shows the gate state without unlocking
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault(); err != nil {
			return err
		}
		status, err := v.Gate().Status()
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		if done, err := printStructured(statusOutput, status); done || err != nil {
			return err
		}

		fmt.Printf("Data directory:    %s\n", v.Path())
		fmt.Printf("State:             %s\n", status.State)
		fmt.Printf("PIN set:           %t\n", status.Initialized)
		fmt.Printf("PIN length:        %d\n", status.PINLength)
		if status.Algorithm != "" {
			fmt.Printf("Digest algorithm:  %s\n", status.Algorithm)
		}
		fmt.Printf("Biometric unlock:  %t\n", status.BiometricEnabled)
		if status.FailedAttempts > 0 {
			fmt.Printf("Failed attempts:   %d\n", status.FailedAttempts)
		}
		if status.CooldownRemaining > 0 {
			fmt.Printf("Cooldown:          %s\n", status.CooldownRemaining)
		}
		return nil
	},
}

// doctorCmd checks the data directory
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the data directory for problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault(); err != nil {
			return err
		}
		result, err := v.CheckIntegrity()
		if err != nil {
			return fmt.Errorf("integrity check failed: %w", err)
		}
		disk, diskErr := v.CheckDiskSpace()

		report := struct {
			Integrity any `json:"integrity" yaml:"integrity"`
			Disk      any `json:"disk,omitempty" yaml:"disk,omitempty"`
		}{Integrity: result}
		if diskErr == nil {
			report.Disk = disk
		}
		if done, err := printStructured(doctorOutput, report); done || err != nil {
			return err
		}

		if diskErr == nil {
			fmt.Printf("Disk: %d MB available (%d%% used)\n", disk.Available/(1024*1024), disk.UsedPct)
		} else {
			fmt.Fprintf(os.Stderr, "warning: %v\n", diskErr)
		}
		if result.Valid {
			fmt.Println("✓ No problems found")
			return nil
		}
		fmt.Println("✗ Problems found:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("integrity check failed")
	},
}

// pinCmd is the parent command for PIN operations
var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "PIN operations",
}

// pinChangeCmd changes the PIN
var pinChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the PIN",
	Long: `Change the PIN. The current PIN is checked first, then a new PIN is
chosen the same way as during 'pinvault init'. Biometric unlock is turned
off and can be enabled again afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		g := v.Gate()

		if _, err := g.RequestPinChange(); err != nil {
			return err
		}
		pad := pinPad()
		for attempt := 0; ; attempt++ {
			if attempt == maxPINAttempts {
				g.Cancel()
				return errors.New("too many incorrect PINs")
			}
			res, err := pad.Enter(g, "Current PIN")
			if err != nil {
				if errors.Is(err, gate.ErrInvalidCode) {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				g.Cancel()
				return err
			}
			if res.Signal == gate.SignalChangeVerified {
				break
			}
		}

		if err := choosePIN(cmd); err != nil {
			return fmt.Errorf("%w: the old PIN was removed, run 'pinvault init' to set one", err)
		}
		fmt.Println("PIN changed.")
		return nil
	},
}

// recoverCmd resets a forgotten PIN
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset a forgotten PIN",
	Long: `Remove the PIN and biometric settings so a new PIN can be chosen.
Records are kept: they are encrypted with a data key that does not depend
on the PIN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openVault(); err != nil {
			return err
		}
		g := v.Gate()
		if g.State() == gate.StateUninitialized {
			return errors.New("vault has no PIN: run 'pinvault init'")
		}

		if !recoverForce {
			fmt.Println("This removes the PIN and biometric unlock. Records are kept.")
			if !confirm("Continue?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		if _, err := g.Recover(); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
		if err := choosePIN(cmd); err != nil {
			return fmt.Errorf("%w: run 'pinvault init' to set one", err)
		}
		return nil
	},
}

// biometricCmd is the parent command for biometric unlock
var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Biometric unlock settings",
}

var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		ok, err := v.Gate().EnableBiometric(cmd.Context())
		if errors.Is(err, gate.ErrBiometricUnavailable) {
			return errors.New("no biometric helper available: set biometric.command in config.yaml")
		}
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("biometric scan was not accepted")
		}
		fmt.Println("Biometric unlock enabled.")
		return nil
	},
}

var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		if err := v.Gate().DisableBiometric(); err != nil {
			return err
		}
		fmt.Println("Biometric unlock disabled.")
		return nil
	},
}

// configCmd is the parent command for configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
