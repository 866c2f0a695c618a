// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/forest6511/pinvault/pkg/record"
)

// MinIDPrefix is the shortest ID prefix accepted as a record reference.
const MinIDPrefix = 8

// Errors
var (
	ErrNoMatch   = errors.New("no record matches")
	ErrAmbiguous = errors.New("reference matches more than one record")
)

// ExpandPattern resolves a record reference against records.
//
// A reference is tried, in order, as:
// 1. an exact ID
// 2. a unique ID prefix of at least MinIDPrefix characters
// 3. a title; glob characters (*?[) select every matching title, otherwise
//    the title must match exactly (case-insensitive) and be unique
func ExpandPattern(ref string, records []record.Record) ([]record.Record, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNoMatch)
	}

	for _, r := range records {
		if r.ID == ref {
			return []record.Record{r}, nil
		}
	}

	if len(ref) >= MinIDPrefix {
		var byPrefix []record.Record
		for _, r := range records {
			if strings.HasPrefix(r.ID, ref) {
				byPrefix = append(byPrefix, r)
			}
		}
		switch len(byPrefix) {
		case 0:
		case 1:
			return byPrefix, nil
		default:
			return nil, fmt.Errorf("%w: ID prefix '%s'", ErrAmbiguous, ref)
		}
	}

	if !strings.ContainsAny(ref, "*?[") {
		var matches []record.Record
		for _, r := range records {
			if strings.EqualFold(r.Title, ref) {
				matches = append(matches, r)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("%w: '%s'", ErrNoMatch, ref)
		case 1:
			return matches, nil
		default:
			return nil, fmt.Errorf("%w: title '%s' (use the ID)", ErrAmbiguous, ref)
		}
	}

	// Validate pattern syntax
	if _, err := path.Match(ref, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", ref, err)
	}

	var matches []record.Record
	pattern := strings.ToLower(ref)
	for _, r := range records {
		if ok, _ := path.Match(pattern, strings.ToLower(r.Title)); ok {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pattern '%s'", ErrNoMatch, ref)
	}
	return matches, nil
}

// ExpandPatterns resolves several references.
// Returns unique records preserving order of first match.
func ExpandPatterns(refs []string, records []record.Record) ([]record.Record, error) {
	seen := make(map[string]bool)
	var result []record.Record

	for _, ref := range refs {
		matches, err := ExpandPattern(ref, records)
		if err != nil {
			return nil, err
		}
		for _, r := range matches {
			if !seen[r.ID] {
				seen[r.ID] = true
				result = append(result, r)
			}
		}
	}

	return result, nil
}

// ShortID abbreviates a record ID for display.
func ShortID(id string) string {
	if len(id) <= MinIDPrefix {
		return id
	}
	return id[:MinIDPrefix]
}
