package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/pinvault/pkg/record"
)

// VaultStatusInput represents input for vault_status tool.
type VaultStatusInput struct{}

// VaultStatusOutput represents output for vault_status tool.
type VaultStatusOutput struct {
	State            string   `json:"state"`
	Unlocked         bool     `json:"unlocked"`
	BiometricEnabled bool     `json:"biometric_enabled"`
	RecordCount      int      `json:"record_count"`
	Categories       []string `json:"categories,omitempty"`
}

// RecordListInput represents input for record_list tool.
type RecordListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Glob pattern or exact name matched against the record category"`
}

// RecordListOutput represents output for record_list tool.
type RecordListOutput struct {
	Records []RecordInfo `json:"records"`
}

// RecordInfo is the metadata exposed for a record.
type RecordInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Username  string `json:"username,omitempty"`
	URL       string `json:"url,omitempty"`
	Category  string `json:"category,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// RecordSearchInput represents input for record_search tool.
type RecordSearchInput struct {
	Query string `json:"query" jsonschema:"Text to fuzzy match, case-insensitive"`
}

// RecordGetMaskedInput represents input for record_get_masked tool.
type RecordGetMaskedInput struct {
	ID string `json:"id" jsonschema:"Record ID as returned by record_list"`
}

// RecordGetMaskedOutput represents output for record_get_masked tool.
type RecordGetMaskedOutput struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MaskedSecret string `json:"masked_secret"`
	SecretLength int    `json:"secret_length"`
}

// handleVaultStatus handles the vault_status tool call.
func (s *Server) handleVaultStatus(_ context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	g := s.vault.Gate()
	output := VaultStatusOutput{
		State:            g.State().String(),
		BiometricEnabled: g.BiometricEnabled(),
	}

	store, err := s.vault.Records()
	if err != nil {
		// Locked is a valid status, not a tool error
		return nil, output, nil
	}
	output.Unlocked = true

	records, err := store.List()
	if err != nil {
		return nil, VaultStatusOutput{}, fmt.Errorf("failed to list records: %w", err)
	}
	output.RecordCount = len(records)

	if output.Categories, err = store.Categories(); err != nil {
		return nil, VaultStatusOutput{}, fmt.Errorf("failed to list categories: %w", err)
	}
	return nil, output, nil
}

// handleRecordList handles the record_list tool call.
func (s *Server) handleRecordList(_ context.Context, _ *mcp.CallToolRequest, input RecordListInput) (*mcp.CallToolResult, RecordListOutput, error) {
	store, err := s.vault.Records()
	if err != nil {
		return nil, RecordListOutput{}, err
	}

	var records []record.Record
	if input.Category != "" {
		records, err = store.ListByCategory(input.Category)
	} else {
		records, err = store.List()
	}
	if err != nil {
		return nil, RecordListOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	return nil, RecordListOutput{Records: toInfo(records)}, nil
}

// handleRecordSearch handles the record_search tool call.
func (s *Server) handleRecordSearch(_ context.Context, _ *mcp.CallToolRequest, input RecordSearchInput) (*mcp.CallToolResult, RecordListOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RecordListOutput{}, errors.New("query is required")
	}

	store, err := s.vault.Records()
	if err != nil {
		return nil, RecordListOutput{}, err
	}

	records, err := store.Search(input.Query)
	if err != nil {
		return nil, RecordListOutput{}, fmt.Errorf("failed to search records: %w", err)
	}
	return nil, RecordListOutput{Records: toInfo(records)}, nil
}

// handleRecordGetMasked handles the record_get_masked tool call.
func (s *Server) handleRecordGetMasked(_ context.Context, _ *mcp.CallToolRequest, input RecordGetMaskedInput) (*mcp.CallToolResult, RecordGetMaskedOutput, error) {
	if input.ID == "" {
		return nil, RecordGetMaskedOutput{}, errors.New("id is required")
	}

	store, err := s.vault.Records()
	if err != nil {
		return nil, RecordGetMaskedOutput{}, err
	}

	r, err := store.Get(input.ID)
	if err != nil {
		return nil, RecordGetMaskedOutput{}, fmt.Errorf("failed to get record: %w", err)
	}

	secret, err := store.DecryptSecret(r)
	if err != nil {
		return nil, RecordGetMaskedOutput{}, fmt.Errorf("failed to decrypt record: %w", err)
	}

	return nil, RecordGetMaskedOutput{
		ID:           r.ID,
		Title:        r.Title,
		MaskedSecret: maskValue(secret),
		SecretLength: len([]rune(secret)),
	}, nil
}

// maskValue masks a secret value.
// | Length | Format              | Example   |
// |--------|---------------------|-----------|
// | 1-7    | All *               | *******   |
// | 8+     | **** + last 4       | ****WXYZ  |
func maskValue(value string) string {
	runes := []rune(value)
	switch n := len(runes); {
	case n == 0:
		return ""
	case n < 8:
		return strings.Repeat("*", n)
	default:
		return "****" + string(runes[n-4:])
	}
}

func toInfo(records []record.Record) []RecordInfo {
	out := make([]RecordInfo, 0, len(records))
	for _, r := range records {
		out = append(out, RecordInfo{
			ID:        r.ID,
			Title:     r.Title,
			Username:  r.Username,
			URL:       r.URL,
			Category:  r.Category,
			UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out
}
