package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/pinvault/pkg/importer"
	"github.com/forest6511/pinvault/pkg/record"
)

// maxImportSize bounds export files read into memory.
const maxImportSize = 50 * 1024 * 1024

// Import flags
var (
	importCategory string
	importDryRun   bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVarP(&importCategory, "category", "c", "", "Category for imported records without one")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and report without importing")
}

var importCmd = &cobra.Command{
	Use:   "import <source> <file>",
	Short: "Import records from another password manager",
	Long: `Import records from an unencrypted export.

Sources:
  lastpass    LastPass CSV export
  bitwarden   Bitwarden JSON export (login items)
  1password   1Password CSV export`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser, err := importer.GetParser(importer.Source(strings.ToLower(args[0])))
		if err != nil {
			return fmt.Errorf("invalid source '%s': must be one of %v", args[0], importer.ValidSources())
		}

		data, err := readImportFile(args[1])
		if err != nil {
			return err
		}

		result, err := parser.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s file: %w", parser.Source(), err)
		}

		for _, warning := range result.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
		for _, skipped := range result.Skipped {
			fmt.Fprintf(os.Stderr, "Skipped: %s (%s)\n", skipped.OriginalName, skipped.Reason)
		}

		if len(result.Items) == 0 {
			fmt.Println("No records found in file")
			return nil
		}
		fmt.Printf("Found %d records to import\n", len(result.Items))

		fields := make([]record.Fields, len(result.Items))
		for i, item := range result.Items {
			fields[i] = item.Fields
			if fields[i].Category == "" {
				fields[i].Category = importCategory
			}
		}

		if importDryRun {
			for _, f := range fields {
				fmt.Printf("  %s\n", f.Title)
			}
			fmt.Println("Dry run: nothing imported")
			return nil
		}

		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}
		created, rejected, err := store.CreateMany(fields)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		for i, rerr := range rejected {
			fmt.Fprintf(os.Stderr, "Rejected: %s (%v)\n", result.Items[i].OriginalName, describeError(rerr))
		}
		fmt.Printf("Imported %d records\n", len(created))
		return nil
	},
}

// readImportFile reads an export file, refusing symlinks and oversized files.
func readImportFile(filePath string) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}

	// Security check: reject symlinks
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", absPath)
	}
	if info.Size() > maxImportSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxImportSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
