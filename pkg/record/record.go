// Package record implements the encrypted record store.
//
// All records live in one JSON document under a single key-value entry. Every
// mutation re-reads that document, applies the change and writes it back in
// one Set, so readers never observe a partial write. The Secret field is
// ciphertext everywhere except the return value of DecryptSecret.
package record

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CollectionKey is the key-value entry holding the record collection.
const CollectionKey = "pinvault.records"

// Field limits.
const (
	MaxTitleLength    = 256
	MaxUsernameLength = 256
	MaxSecretSize     = 64 * 1024
	MaxURLLength      = 2048
	MaxCategoryLength = 64
)

// Errors
var (
	ErrValidation = errors.New("record: validation failed")
	ErrNotFound   = errors.New("record: not found")
	ErrDecryption = errors.New("record: decryption failed")
	ErrCorrupted  = errors.New("record: stored collection is corrupted")
)

// ValidationError names the field that failed validation. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Record is a stored secret entry. Secret holds ciphertext.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username,omitempty"`
	Secret    string    `json:"secret"`
	URL       string    `json:"url,omitempty"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields are the caller-supplied values for a new record. Secret is plaintext.
type Fields struct {
	Title    string
	Username string
	Secret   string
	URL      string
	Category string
}

// Update is a partial update; nil fields are left unchanged. Secret is
// plaintext and is re-encrypted when set.
type Update struct {
	Title    *string
	Username *string
	Secret   *string
	URL      *string
	Category *string
}

// Empty reports whether the update changes no fields.
func (u Update) Empty() bool {
	return u.Title == nil && u.Username == nil && u.Secret == nil && u.URL == nil && u.Category == nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if len(title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("exceeds %d bytes", MaxTitleLength)}
	}
	return nil
}

func validateSecret(secret string) error {
	if secret == "" {
		return &ValidationError{Field: "secret", Reason: "required"}
	}
	if len(secret) > MaxSecretSize {
		return &ValidationError{Field: "secret", Reason: fmt.Sprintf("exceeds %d bytes", MaxSecretSize)}
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Reason: fmt.Sprintf("exceeds %d bytes", MaxUsernameLength)}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > MaxURLLength {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("exceeds %d bytes", MaxURLLength)}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "only http and https schemes are allowed"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must have a host"}
	}
	return nil
}

func validateCategory(category string) error {
	if len(category) > MaxCategoryLength {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("exceeds %d bytes", MaxCategoryLength)}
	}
	return nil
}

// Validate checks the fields of a record to be created.
func (f Fields) Validate() error {
	if err := validateTitle(f.Title); err != nil {
		return err
	}
	if err := validateSecret(f.Secret); err != nil {
		return err
	}
	if err := validateUsername(f.Username); err != nil {
		return err
	}
	if err := validateURL(f.URL); err != nil {
		return err
	}
	return validateCategory(f.Category)
}
