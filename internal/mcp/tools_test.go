package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/record"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{name: "empty value", value: "", expected: ""},
		{name: "1 character", value: "a", expected: "*"},
		{name: "4 characters", value: "abcd", expected: "****"},
		{name: "7 characters", value: "abcdefg", expected: "*******"},
		{name: "8 characters", value: "abcdefgh", expected: "****efgh"},
		{name: "long value", value: "sk-proj-1234567890abcdef", expected: "****cdef"},
		{name: "multibyte", value: "pässwörter", expected: "****rter"},
		{name: "multibyte short", value: "日本語", expected: "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskValue(tt.value); got != tt.expected {
				t.Errorf("maskValue(%q) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}

func TestHandleVaultStatus(t *testing.T) {
	server := testServer(t)
	addTestRecord(t, server, record.Fields{Title: "GitHub", Secret: "ghp_secret", Category: "work"})
	addTestRecord(t, server, record.Fields{Title: "Bank", Secret: "bank-secret", Category: "finance"})

	ctx := context.Background()
	_, output, err := server.handleVaultStatus(ctx, nil, VaultStatusInput{})
	if err != nil {
		t.Fatalf("handleVaultStatus failed: %v", err)
	}
	if !output.Unlocked {
		t.Error("expected unlocked")
	}
	if output.State != gate.StateUnlocked.String() {
		t.Errorf("unexpected state %q", output.State)
	}
	if output.RecordCount != 2 {
		t.Errorf("expected 2 records, got %d", output.RecordCount)
	}
	if strings.Join(output.Categories, ",") != "finance,work" {
		t.Errorf("unexpected categories %v", output.Categories)
	}
}

func TestHandleVaultStatus_Locked(t *testing.T) {
	server := testServer(t)
	if err := server.vault.Gate().Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	_, output, err := server.handleVaultStatus(context.Background(), nil, VaultStatusInput{})
	if err != nil {
		t.Fatalf("handleVaultStatus failed: %v", err)
	}
	if output.Unlocked {
		t.Error("expected locked")
	}
	if output.RecordCount != 0 {
		t.Errorf("record count must not be reported while locked, got %d", output.RecordCount)
	}
}

func TestHandleRecordList_Empty(t *testing.T) {
	server := testServer(t)

	_, output, err := server.handleRecordList(context.Background(), nil, RecordListInput{})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 0 {
		t.Errorf("expected 0 records, got %d", len(output.Records))
	}
}

func TestHandleRecordList_WithRecords(t *testing.T) {
	server := testServer(t)
	first := addTestRecord(t, server, record.Fields{
		Title:    "GitHub",
		Username: "octo",
		Secret:   "ghp_supersecret",
		URL:      "https://github.com",
		Category: "work",
	})
	addTestRecord(t, server, record.Fields{Title: "Bank", Secret: "bank-secret", Category: "finance"})

	_, output, err := server.handleRecordList(context.Background(), nil, RecordListInput{})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(output.Records))
	}

	got := output.Records[0]
	if got.ID != first.ID || got.Title != "GitHub" || got.Username != "octo" ||
		got.URL != "https://github.com" || got.Category != "work" {
		t.Errorf("unexpected record info: %+v", got)
	}
	if got.UpdatedAt == "" {
		t.Error("updated_at should be set")
	}
}

func TestHandleRecordList_ByCategory(t *testing.T) {
	server := testServer(t)
	addTestRecord(t, server, record.Fields{Title: "Jira", Secret: "s1", Category: "work-tools"})
	addTestRecord(t, server, record.Fields{Title: "Slack", Secret: "s2", Category: "work"})
	addTestRecord(t, server, record.Fields{Title: "Bank", Secret: "s3", Category: "finance"})

	_, output, err := server.handleRecordList(context.Background(), nil, RecordListInput{Category: "work*"})
	if err != nil {
		t.Fatalf("handleRecordList failed: %v", err)
	}
	if len(output.Records) != 2 {
		t.Errorf("expected 2 work records, got %d", len(output.Records))
	}
}

func TestHandleRecordList_Locked(t *testing.T) {
	server := testServer(t)
	if err := server.vault.Gate().Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	_, _, err := server.handleRecordList(context.Background(), nil, RecordListInput{})
	if !errors.Is(err, gate.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestHandleRecordSearch(t *testing.T) {
	server := testServer(t)
	addTestRecord(t, server, record.Fields{Title: "GitHub", Secret: "s1"})
	addTestRecord(t, server, record.Fields{Title: "GitLab", Secret: "s2"})
	addTestRecord(t, server, record.Fields{Title: "Bank", Secret: "s3"})

	_, output, err := server.handleRecordSearch(context.Background(), nil, RecordSearchInput{Query: "git"})
	if err != nil {
		t.Fatalf("handleRecordSearch failed: %v", err)
	}
	if len(output.Records) != 2 {
		t.Errorf("expected 2 matches, got %d", len(output.Records))
	}
	for _, r := range output.Records {
		if !strings.HasPrefix(r.Title, "Git") {
			t.Errorf("unexpected match %q", r.Title)
		}
	}
}

func TestHandleRecordSearch_EmptyQuery(t *testing.T) {
	server := testServer(t)

	_, _, err := server.handleRecordSearch(context.Background(), nil, RecordSearchInput{Query: "  "})
	if err == nil {
		t.Error("expected error for empty query")
	}
}

func TestHandleRecordGetMasked_Success(t *testing.T) {
	server := testServer(t)
	secret := "sk-1234567890abcd"
	r := addTestRecord(t, server, record.Fields{Title: "API", Secret: secret})

	_, output, err := server.handleRecordGetMasked(context.Background(), nil, RecordGetMaskedInput{ID: r.ID})
	if err != nil {
		t.Fatalf("handleRecordGetMasked failed: %v", err)
	}
	if output.ID != r.ID || output.Title != "API" {
		t.Errorf("unexpected output: %+v", output)
	}
	if output.SecretLength != len(secret) {
		t.Errorf("expected secret length %d, got %d", len(secret), output.SecretLength)
	}
	if output.MaskedSecret != "****abcd" {
		t.Errorf("unexpected masked secret %q", output.MaskedSecret)
	}
}

func TestHandleRecordGetMasked_NotFound(t *testing.T) {
	server := testServer(t)

	_, _, err := server.handleRecordGetMasked(context.Background(), nil, RecordGetMaskedInput{ID: "missing"})
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleRecordGetMasked_EmptyID(t *testing.T) {
	server := testServer(t)

	_, _, err := server.handleRecordGetMasked(context.Background(), nil, RecordGetMaskedInput{})
	if err == nil {
		t.Error("expected error for empty id")
	}
}
