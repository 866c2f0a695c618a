package record

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Search returns records whose title, username, URL or category fuzzily
// match query, case-insensitively, best match first. An empty query returns
// every record.
func (s *Store) Search(query string) ([]Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return records, nil
	}

	type hit struct {
		r    Record
		rank int
	}
	var hits []hit
	for _, r := range records {
		best := -1
		for _, field := range []string{r.Title, r.Username, r.URL, r.Category} {
			if field == "" {
				continue
			}
			if rank := fuzzy.RankMatchFold(query, field); rank >= 0 && (best < 0 || rank < best) {
				best = rank
			}
		}
		if best >= 0 {
			hits = append(hits, hit{r: r, rank: best})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.r
	}
	return out, nil
}

// ListByCategory returns records whose category matches the glob pattern.
// Without glob characters the match is exact and case-insensitive.
func (s *Store) ListByCategory(pattern string) ([]Record, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("record: invalid category pattern %q: %w", pattern, err)
	}
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	glob := strings.ContainsAny(pattern, "*?[")
	var out []Record
	for _, r := range records {
		var ok bool
		if glob {
			ok, _ = path.Match(pattern, r.Category)
		} else {
			ok = strings.EqualFold(pattern, r.Category)
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Categories returns the distinct non-empty categories, sorted.
func (s *Store) Categories() ([]string, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		if r.Category != "" && !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}
