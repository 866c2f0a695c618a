// Package audit records gate and record operations in an append-only JSONL
// log. Each record carries an HMAC over its content and the previous record's
// HMAC, so edits, deletions or reordering are detectable with Verify.
//
// Secrets, PINs and digests are never logged. Record titles are HMACed; record
// IDs are stored as-is.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinAuditDiskSpace is the free space required before appending.
const MinAuditDiskSpace = 1024 * 1024

// Gate operations.
const (
	OpGateOnboard         = "gate.onboard"
	OpGateUnlock          = "gate.unlock"
	OpGateUnlockFailed    = "gate.unlock_failed"
	OpGateUnlockBiometric = "gate.unlock_biometric"
	OpGateBiometricSet    = "gate.biometric"
	OpGatePinChange       = "gate.pin_change"
	OpGateReset           = "gate.reset"
	OpGateLock            = "gate.lock"
	OpGateError           = "gate.error"
)

// Record operations.
const (
	OpRecordCreate  = "record.create"
	OpRecordUpdate  = "record.update"
	OpRecordDelete  = "record.delete"
	OpRecordDecrypt = "record.decrypt"
	OpRecordImport  = "record.import"
)

// Vault operations.
const (
	OpVaultBackup  = "vault.backup"
	OpVaultRestore = "vault.restore"
)

// Sources.
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
	SourceLib = "lib"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	genesis      = "genesis"
	metaFileName = "audit.meta"
	hkdfInfo     = "pinvault-audit-v1"
)

// ErrKeyNotSet is returned when logging before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	Subject   string `json:"subject,omitempty"` // record ID, if any
	LabelHMAC string `json:"label_hmac,omitempty"`

	Source    string `json:"source"`
	SessionID string `json:"session_id"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Entry describes an operation to log. Label is HMACed, never stored.
type Entry struct {
	Operation string
	Source    string
	Subject   string
	Label     string
	Result    string
	Error     *ErrorInfo
	Context   map[string]string
}

// Logger appends chained events. A nil *Logger discards everything.
type Logger struct {
	path      string
	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// NewLogger returns a logger writing into dir.
func NewLogger(dir string) *Logger {
	return &Logger{
		path:      dir,
		prevHash:  genesis,
		sessionID: randomHex(16),
		now:       time.Now,
	}
}

// Path returns the audit log directory.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// SetHMACKey derives the chain key from the data key with HKDF-SHA256 and
// resumes the chain from disk.
func (l *Logger) SetHMACKey(dataKey []byte) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, dataKey, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := r.Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Log appends an event.
func (l *Logger) Log(e Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	source := e.Source
	if source == "" {
		source = SourceLib
	}

	now := l.now()
	event := Event{
		Version:   1,
		ID:        newEventID(now),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Operation: e.Operation,
		Subject:   e.Subject,
		Source:    source,
		SessionID: l.sessionID,
		Result:    e.Result,
		Error:     e.Error,
		Context:   e.Context,
	}
	if e.Label != "" {
		event.LabelHMAC = l.mac([]byte(e.Label))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(recordData(&event))

	if err := l.writeEvent(now, &event); err != nil {
		l.sequence--
		return err
	}
	l.prevHash = event.Chain.HMAC

	return l.saveChainState()
}

// LogSuccess logs a successful operation on subject.
func (l *Logger) LogSuccess(op, source, subject string) error {
	return l.Log(Entry{Operation: op, Source: source, Subject: subject, Result: ResultSuccess})
}

// LogError logs a failed operation with a machine-readable code.
func (l *Logger) LogError(op, source, subject, code, msg string) error {
	return l.Log(Entry{
		Operation: op,
		Source:    source,
		Subject:   subject,
		Result:    ResultError,
		Error:     &ErrorInfo{Code: code, Message: msg},
	})
}

// LogDenied logs an operation refused by the gate.
func (l *Logger) LogDenied(op, source, reason string) error {
	return l.Log(Entry{
		Operation: op,
		Source:    source,
		Result:    ResultDenied,
		Context:   map[string]string{"reason": reason},
	})
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical byte form covered by the chain HMAC.
func recordData(e *Event) []byte {
	var errData string
	if e.Error != nil {
		errData = e.Error.Code + "|" + e.Error.Message
	}

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var ctx strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%s|", k, e.Context[k])
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.ID, e.Timestamp, e.Operation, e.Subject, e.LabelHMAC,
		e.Source, e.SessionID, e.Result, errData, ctx.String(),
		e.Chain.Sequence, e.Chain.PrevHash,
	))
}

// writeEvent appends to the current month's file.
func (l *Logger) writeEvent(now time.Time, e *Event) error {
	name := now.UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, metaFileName))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports chain verification.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence, links and HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	if l == nil {
		return &VerifyResult{Valid: true}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	prev := genesis
	var seq int64 = 1

	for i := range events {
		e := &events[i]
		result.RecordsTotal++

		if e.Chain.Sequence != seq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", e.ID, seq, e.Chain.Sequence))
		}
		if e.Chain.PrevHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", e.ID))
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.mac(recordData(e)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", e.ID))
		} else {
			result.RecordsVerified++
		}

		prev = e.Chain.HMAC
		seq = e.Chain.Sequence + 1
	}

	return result, nil
}

// ListEvents returns events after since (zero = all), at most limit of the
// most recent ones (0 = all).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically.
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("audit: failed to parse %s: %w", file, err)
			}
			events = append(events, e)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("audit: failed to scan %s: %w", file, err)
		}
	}
	return events, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// newEventID is a time-sortable ID: 48-bit millisecond timestamp + 80 random bits.
func newEventID(now time.Time) string {
	ms := now.UnixMilli()
	id := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		id[i] = byte(ms & 0xFF)
		ms >>= 8
	}
	if _, err := rand.Read(id[6:]); err != nil {
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return hex.EncodeToString(id)
}
