package importer

import (
	"errors"
	"strings"
	"testing"

	"github.com/forest6511/pinvault/pkg/record"
)

func TestGetParser(t *testing.T) {
	tests := []struct {
		source Source
		want   Source
		err    bool
	}{
		{SourceLastPass, SourceLastPass, false},
		{SourceBitwarden, SourceBitwarden, false},
		{Source1Password, Source1Password, false},
		{"BitWarden", SourceBitwarden, false},
		{"keepass", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			p, err := GetParser(tt.source)
			if tt.err {
				if !errors.Is(err, ErrUnsupportedSource) {
					t.Errorf("GetParser(%q) error = %v, want ErrUnsupportedSource", tt.source, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetParser(%q) error = %v", tt.source, err)
			}
			if p.Source() != tt.want {
				t.Errorf("Source() = %q, want %q", p.Source(), tt.want)
			}
		})
	}
	if got := len(ValidSources()); got != 3 {
		t.Errorf("ValidSources() len = %d, want 3", got)
	}
}

func TestNormalizeTitle(t *testing.T) {
	// "e" + combining acute accent composes to a single code point.
	decomposed := "Cafe\u0301"
	if got := NormalizeTitle("  " + decomposed + " "); got != "Caf\u00e9" {
		t.Errorf("NormalizeTitle() = %q, want NFC form", got)
	}

	long := strings.Repeat("é", record.MaxTitleLength)
	got := NormalizeTitle(long)
	if len(got) > record.MaxTitleLength {
		t.Errorf("NormalizeTitle() len = %d, want <= %d", len(got), record.MaxTitleLength)
	}
	if !strings.HasPrefix(long, got) {
		t.Error("NormalizeTitle() must cut on a rune boundary")
	}
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		url     string
		counter int
		want    string
	}{
		{"https://www.example.com/login", 1, "example.com"},
		{"http://host.test:8080", 2, "host.test"},
		{"", 3, "Imported item 3"},
		{"not a url", 4, "Imported item 4"},
	}
	for _, tt := range tests {
		if got := FallbackTitle(tt.url, tt.counter); got != tt.want {
			t.Errorf("FallbackTitle(%q, %d) = %q, want %q", tt.url, tt.counter, got, tt.want)
		}
	}
}

func TestDecodeHTMLEntities(t *testing.T) {
	in := "a &amp; b &lt;c&gt; &quot;d&quot; &#39;e&apos;"
	want := `a & b <c> "d" 'e'`
	if got := DecodeHTMLEntities(in); got != want {
		t.Errorf("DecodeHTMLEntities() = %q, want %q", got, want)
	}
}

func TestItemsAreValidRecords(t *testing.T) {
	data := `url,username,password,totp,extra,name,grouping,fav
ftp://files.example.com,u,pw1,,,FTP,,0
https://example.com,u,pw2,,,Web,,0`

	res, err := (&LastPassParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(res.Items))
	}
	for _, it := range res.Items {
		if err := it.Fields.Validate(); err != nil {
			t.Errorf("item %q invalid: %v", it.OriginalName, err)
		}
	}
	if res.Items[0].Fields.URL != "" {
		t.Errorf("non-http url kept: %q", res.Items[0].Fields.URL)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one dropped-url warning", res.Warnings)
	}
}
