// Package importer converts password manager exports into records.
// Supported formats are LastPass CSV, Bitwarden JSON and 1Password CSV.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/pinvault/pkg/record"
)

// Source is an export format.
type Source string

const (
	SourceLastPass  Source = "lastpass"
	SourceBitwarden Source = "bitwarden"
	Source1Password Source = "1password"
)

// ErrUnsupportedSource is returned by GetParser for an unknown format.
var ErrUnsupportedSource = errors.New("importer: unsupported import source")

// Item is one importable entry.
type Item struct {
	// OriginalName is the entry name as exported.
	OriginalName string
	Fields       record.Fields
}

// Result is the outcome of parsing an export.
type Result struct {
	Items    []Item
	Warnings []string
	Skipped  []SkippedItem
}

// SkippedItem is an entry that was not imported.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser parses one export format.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// GetParser returns the parser for source.
func GetParser(source Source) (Parser, error) {
	switch Source(strings.ToLower(string(source))) {
	case SourceLastPass:
		return &LastPassParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case Source1Password:
		return &OnePasswordParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
}

// ValidSources lists the supported format names.
func ValidSources() []string {
	return []string{string(SourceLastPass), string(SourceBitwarden), string(Source1Password)}
}

func newResult() *Result {
	return &Result{Items: []Item{}, Warnings: []string{}, Skipped: []SkippedItem{}}
}

// entry is a format-neutral row before it becomes an Item.
type entry struct {
	name     string
	username string
	password string
	url      string
	category string
}

// add converts e into an Item, or records why it was skipped.
func (r *Result) add(e entry, counter *int, where string) {
	if e.password == "" {
		r.Skipped = append(r.Skipped, SkippedItem{OriginalName: e.name, Reason: "no password"})
		return
	}

	title := NormalizeTitle(e.name)
	if title == "" {
		title = FallbackTitle(e.url, *counter)
		*counter++
	}

	f := record.Fields{
		Title:    title,
		Username: truncate(NormalizeValue(e.username), record.MaxUsernameLength),
		Secret:   e.password,
		URL:      e.url,
		Category: truncate(NormalizeValue(e.category), record.MaxCategoryLength),
	}

	if err := f.Validate(); err != nil {
		var verr *record.ValidationError
		if errors.As(err, &verr) && verr.Field == "url" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: dropped url: %s", where, verr.Reason))
			f.URL = ""
			err = f.Validate()
		}
		if err != nil {
			r.Skipped = append(r.Skipped, SkippedItem{OriginalName: e.name, Reason: err.Error()})
			return
		}
	}

	r.Items = append(r.Items, Item{OriginalName: e.name, Fields: f})
}

// NormalizeTitle trims, NFC-normalizes and truncates a title.
func NormalizeTitle(name string) string {
	return truncate(NormalizeValue(name), record.MaxTitleLength)
}

// NormalizeValue trims whitespace and normalizes Unicode to NFC.
func NormalizeValue(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FallbackTitle names an entry without a title: the URL host when there is
// one, otherwise "Imported item N".
func FallbackTitle(rawURL string, counter int) string {
	if host := extractHostname(rawURL); host != "" {
		return host
	}
	return fmt.Sprintf("Imported item %d", counter)
}

func extractHostname(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// DecodeHTMLEntities decodes the entities LastPass writes into exports.
func DecodeHTMLEntities(s string) string {
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
	)
	return r.Replace(s)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// readCSV reads a header-based CSV export. key maps a header cell to the
// lookup key; fn receives each well-formed row.
func readCSV(data []byte, key func(string) string, required string, res *Result, fn func(get func(string) string, rowNum int)) error {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("importer: failed to read CSV header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[key(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex[required]; !ok {
		return fmt.Errorf("importer: missing required column: %s", required)
	}

	rowNum := 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)",
				rowNum, len(header), len(row)))
			continue
		}
		fn(func(col string) string {
			if idx, ok := colIndex[col]; ok {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}, rowNum)
	}
}
