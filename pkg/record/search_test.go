package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s, _ := newTestStore(t, WithIDGenerator(seqIDs()))
	for _, f := range []Fields{
		{Title: "GitHub", Username: "octo", Secret: "pw", URL: "https://github.com", Category: "work"},
		{Title: "Gmail", Username: "me@gmail.com", Secret: "pw", Category: "personal"},
		{Title: "Bank of Earth", Secret: "pw", Category: "finance"},
		{Title: "GitLab", Secret: "pw", Category: "work-legacy"},
	} {
		_, err := s.Create(f)
		require.NoError(t, err)
	}
	return s
}

func titles(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Title
	}
	return out
}

func TestSearch(t *testing.T) {
	s := seedStore(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"github", []string{"GitHub"}},
		{"GIT", []string{"GitHub", "GitLab"}},
		{"gml", []string{"Gmail"}},
		{"finance", []string{"Bank of Earth"}},
		{"octo", []string{"GitHub"}},
		{"zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.Search(tt.query)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, titles(got))
		})
	}
}

func TestSearchEmptyQueryReturnsAll(t *testing.T) {
	s := seedStore(t)
	got, err := s.Search("  ")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSearchRanksCloserMatchFirst(t *testing.T) {
	s := seedStore(t)
	got, err := s.Search("gitlab")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "GitLab", got[0].Title)
}

func TestListByCategory(t *testing.T) {
	s := seedStore(t)

	got, err := s.ListByCategory("work*")
	require.NoError(t, err)
	assert.Equal(t, []string{"GitHub", "GitLab"}, titles(got))

	got, err = s.ListByCategory("WORK")
	require.NoError(t, err)
	assert.Equal(t, []string{"GitHub"}, titles(got))

	_, err = s.ListByCategory("[")
	assert.Error(t, err)
}

func TestCategories(t *testing.T) {
	s := seedStore(t)
	got, err := s.Categories()
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "personal", "work", "work-legacy"}, got)
}
