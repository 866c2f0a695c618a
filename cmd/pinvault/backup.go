package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/pinvault/pkg/backup"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/vault"
)

// Backup flags
var (
	backupOutput string
	backupForce  bool
)

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path (required)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
	_ = backupCmd.MarkFlagRequired("output")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an encrypted backup of the vault",
	Long: `Write the records, PIN credential and data key to a file encrypted
with a separate backup passphrase.

Examples:
  pinvault backup -o vault.pvbk
  pinvault backup -o vault.pvbk --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !backupForce {
			if _, err := os.Stat(backupOutput); err == nil {
				return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
			}
		}
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}

		pass, err := promptBackupPassphrase(true)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(pass)

		out, err := os.OpenFile(backupOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		header, err := v.Backup(out, pass)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(backupOutput)
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backup written to %s (%d entries)\n", backupOutput, header.EntryCount)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore the vault from an encrypted backup",
	Long: `Rebuild an empty data directory from a backup file. The restored vault
is unlocked with the PIN that was current when the backup was taken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open backup: %w", err)
		}
		defer f.Close()

		pass, err := promptBackupPassphrase(false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(pass)

		restored, header, err := vault.Restore(vaultOptions(), f, pass)
		switch {
		case errors.Is(err, vault.ErrVaultExists):
			return fmt.Errorf("%s already holds a vault: restore into an empty --data-dir", cfg.DataDir)
		case errors.Is(err, backup.ErrIntegrityFailed):
			return errors.New("wrong passphrase or corrupted backup")
		case err != nil:
			return fmt.Errorf("restore failed: %w", err)
		}
		v = restored

		fmt.Printf("Restored %d entries from backup of %s\n",
			header.EntryCount, header.CreatedAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func promptBackupPassphrase(confirmIt bool) ([]byte, error) {
	p1, err := readSecret("Backup passphrase")
	if err != nil {
		return nil, err
	}
	if p1 == "" {
		return nil, backup.ErrEmptyPassphrase
	}
	if confirmIt {
		p2, err := readSecret("Confirm backup passphrase")
		if err != nil {
			return nil, err
		}
		if p1 != p2 {
			return nil, errors.New("passphrases do not match")
		}
	}
	return []byte(p1), nil
}
