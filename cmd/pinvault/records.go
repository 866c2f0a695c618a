package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/pinvault/internal/cli"
	"github.com/forest6511/pinvault/pkg/record"
)

// Record flags
var (
	recUsername string
	recURL      string
	recCategory string
	recTitle    string
	recSecret   bool

	listCategory string
	listOutput   string
	showReveal   bool
	rmForce      bool
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(searchCmd)

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVarP(&recUsername, "username", "u", "", "Username or login")
		c.Flags().StringVar(&recURL, "url", "", "Website URL (http or https)")
		c.Flags().StringVarP(&recCategory, "category", "c", "", "Category")
	}
	editCmd.Flags().StringVarP(&recTitle, "title", "t", "", "New title")
	editCmd.Flags().BoolVarP(&recSecret, "secret", "s", false, "Prompt for a new secret")

	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "Filter by category (glob pattern, e.g. 'work*')")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format: text, json, yaml")
	searchCmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format: text, json, yaml")
	showCmd.Flags().BoolVar(&showReveal, "reveal", false, "Print the secret in plain text")
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Skip confirmation prompt")
}

// unlockedRecords unlocks the vault and returns the record store.
func unlockedRecords(cmd *cobra.Command) (*record.Store, error) {
	if err := ensureUnlocked(cmd); err != nil {
		return nil, err
	}
	return v.Records()
}

// recordView is the listing form of a record. It never carries the secret.
type recordView struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	URL       string    `json:"url,omitempty" yaml:"url,omitempty"`
	Category  string    `json:"category,omitempty" yaml:"category,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func printRecords(records []record.Record, format string) error {
	views := make([]recordView, len(records))
	for i, r := range records {
		views[i] = recordView{
			ID:        r.ID,
			Title:     r.Title,
			Username:  r.Username,
			URL:       r.URL,
			Category:  r.Category,
			UpdatedAt: r.UpdatedAt,
		}
	}
	if done, err := printStructured(format, views); done || err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records found")
		return nil
	}
	fmt.Printf("%-8s  %-30s  %-24s  %s\n", "ID", "TITLE", "USERNAME", "CATEGORY")
	for _, r := range views {
		fmt.Printf("%-8s  %-30s  %-24s  %s\n", cli.ShortID(r.ID), clip(r.Title, 30), clip(r.Username, 24), r.Category)
	}
	return nil
}

// clip shortens s to n runes for table output.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// resolveOne resolves ref to exactly one record.
func resolveOne(store *record.Store, ref string) (record.Record, error) {
	records, err := store.List()
	if err != nil {
		return record.Record{}, err
	}
	matches, err := cli.ExpandPattern(ref, records)
	if err != nil {
		return record.Record{}, err
	}
	if len(matches) > 1 {
		return record.Record{}, fmt.Errorf("%w: '%s' matches %d records", cli.ErrAmbiguous, ref, len(matches))
	}
	return matches[0], nil
}

// describeError turns validation errors into field-level messages.
func describeError(err error) error {
	var ve *record.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("invalid %s: %s", ve.Field, ve.Reason)
	}
	return err
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a record",
	Long: `Add a record. The secret is read from the terminal without echo,
or from the first line of stdin when piped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}

		secret, err := readSecret("Secret")
		if err != nil {
			return err
		}

		r, err := store.Create(record.Fields{
			Title:    args[0],
			Username: recUsername,
			Secret:   secret,
			URL:      recURL,
			Category: recCategory,
		})
		if err != nil {
			return describeError(err)
		}
		fmt.Printf("Added %s (%s)\n", r.Title, cli.ShortID(r.ID))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}

		var records []record.Record
		if listCategory != "" {
			records, err = store.ListByCategory(listCategory)
		} else {
			records, err = store.List()
		}
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		return printRecords(records, listOutput)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search records by title, username, URL and category",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}
		records, err := store.Search(strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("failed to search records: %w", err)
		}
		return printRecords(records, listOutput)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id|title>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}
		r, err := resolveOne(store, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", r.ID)
		fmt.Printf("Title:    %s\n", r.Title)
		if r.Username != "" {
			fmt.Printf("Username: %s\n", r.Username)
		}
		if r.URL != "" {
			fmt.Printf("URL:      %s\n", r.URL)
		}
		if r.Category != "" {
			fmt.Printf("Category: %s\n", r.Category)
		}
		fmt.Printf("Created:  %s\n", r.CreatedAt.Local().Format(time.RFC3339))
		fmt.Printf("Updated:  %s\n", r.UpdatedAt.Local().Format(time.RFC3339))

		if !showReveal {
			fmt.Println("Secret:   ******** (use --reveal to show)")
			return nil
		}
		secret, err := store.DecryptSecret(r)
		if err != nil {
			return err
		}
		fmt.Printf("Secret:   %s\n", secret)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id|title>",
	Short: "Edit a record",
	Long: `Edit a record. Only the fields given as flags change; pass an empty
value (e.g. --url "") to clear an optional field.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}
		r, err := resolveOne(store, args[0])
		if err != nil {
			return err
		}

		var u record.Update
		flags := cmd.Flags()
		if flags.Changed("title") {
			u.Title = &recTitle
		}
		if flags.Changed("username") {
			u.Username = &recUsername
		}
		if flags.Changed("url") {
			u.URL = &recURL
		}
		if flags.Changed("category") {
			u.Category = &recCategory
		}
		if recSecret {
			secret, err := readSecret("New secret")
			if err != nil {
				return err
			}
			u.Secret = &secret
		}
		if u.Empty() {
			return errors.New("nothing to change: pass --title, --username, --url, --category or --secret")
		}

		updated, err := store.Update(r.ID, u)
		if err != nil {
			return describeError(err)
		}
		fmt.Printf("Updated %s (%s)\n", updated.Title, cli.ShortID(updated.ID))
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id|title|pattern>...",
	Short: "Delete records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := unlockedRecords(cmd)
		if err != nil {
			return err
		}
		records, err := store.List()
		if err != nil {
			return err
		}
		targets, err := cli.ExpandPatterns(args, records)
		if err != nil {
			return err
		}

		if !rmForce {
			for _, r := range targets {
				fmt.Printf("  %s  %s\n", cli.ShortID(r.ID), r.Title)
			}
			if !confirm(fmt.Sprintf("Delete %d record(s)?", len(targets))) {
				fmt.Println("Aborted")
				return nil
			}
		}

		for _, r := range targets {
			if err := store.Delete(r.ID); err != nil {
				return fmt.Errorf("failed to delete %s: %w", r.Title, err)
			}
		}
		fmt.Fprintf(os.Stdout, "Deleted %d record(s)\n", len(targets))
		return nil
	},
}
