package record

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/kv"
)

// Store is the encrypted record store. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	kv      kv.Store
	cipher  crypto.Cipher
	now     func() time.Time
	newID   func() string
	log     *zap.Logger
	audit   *audit.Logger
	source  string
	records []Record
	loaded  bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAudit records mutations and decryptions in the audit log, attributed
// to source.
func WithAudit(l *audit.Logger, source string) Option {
	return func(s *Store) {
		s.audit = l
		s.source = source
	}
}

// New returns a store over kv, encrypting secrets with c.
func New(store kv.Store, c crypto.Cipher, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		cipher: c,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    zap.NewNop(),
		source: audit.SourceLib,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the collection into memory.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	records, err := s.read()
	if err != nil {
		return err
	}
	s.records = records
	s.loaded = true
	s.log.Debug("records loaded", zap.Int("count", len(records)))
	return nil
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

// read fetches the persisted collection. A missing key is an empty vault.
func (s *Store) read() ([]Record, error) {
	raw, ok, err := s.kv.Get(CollectionKey)
	if err != nil {
		return nil, fmt.Errorf("record: failed to read collection: %w", err)
	}
	if !ok || raw == "" {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return records, nil
}

// write persists the full collection in one Set and only then replaces the
// in-memory copy.
func (s *Store) write(records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("record: failed to encode collection: %w", err)
	}
	if err := s.kv.Set(CollectionKey, string(data)); err != nil {
		return fmt.Errorf("record: failed to write collection: %w", err)
	}
	s.records = records
	s.loaded = true
	return nil
}

// List returns every record in creation order. Secrets are ciphertext.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Get returns the record with id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return Record{}, err
	}
	if i := indexOf(s.records, id); i >= 0 {
		return s.records[i], nil
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create validates f, encrypts the secret and appends a new record.
func (s *Store) Create(f Fields) (Record, error) {
	if err := f.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return Record{}, err
	}

	ciphertext, err := s.cipher.Encrypt(f.Secret)
	if err != nil {
		return Record{}, fmt.Errorf("record: failed to encrypt secret: %w", err)
	}

	now := s.now().UTC()
	r := Record{
		ID:        s.newID(),
		Title:     f.Title,
		Username:  f.Username,
		Secret:    ciphertext,
		URL:       f.URL,
		Category:  f.Category,
		CreatedAt: now,
		UpdatedAt: now,
	}

	next := append(records[:len(records):len(records)], r)
	if err := s.write(next); err != nil {
		return Record{}, err
	}

	s.log.Debug("record created", zap.String("id", r.ID))
	s.logAudit(audit.Entry{Operation: audit.OpRecordCreate, Subject: r.ID, Label: r.Title, Result: audit.ResultSuccess})
	return r, nil
}

// Update applies u to the record with id. UpdatedAt always advances, even
// when u is empty.
func (s *Store) Update(id string, u Update) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return Record{}, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r := records[i]
	if u.Title != nil {
		if err := validateTitle(*u.Title); err != nil {
			return Record{}, err
		}
		r.Title = *u.Title
	}
	if u.Username != nil {
		if err := validateUsername(*u.Username); err != nil {
			return Record{}, err
		}
		r.Username = *u.Username
	}
	if u.URL != nil {
		if err := validateURL(*u.URL); err != nil {
			return Record{}, err
		}
		r.URL = *u.URL
	}
	if u.Category != nil {
		if err := validateCategory(*u.Category); err != nil {
			return Record{}, err
		}
		r.Category = *u.Category
	}
	if u.Secret != nil {
		if err := validateSecret(*u.Secret); err != nil {
			return Record{}, err
		}
		ciphertext, err := s.cipher.Encrypt(*u.Secret)
		if err != nil {
			return Record{}, fmt.Errorf("record: failed to encrypt secret: %w", err)
		}
		r.Secret = ciphertext
	}
	r.UpdatedAt = advance(r.UpdatedAt, s.now().UTC())

	next := make([]Record, len(records))
	copy(next, records)
	next[i] = r
	if err := s.write(next); err != nil {
		return Record{}, err
	}

	s.log.Debug("record updated", zap.String("id", id), zap.Bool("secret_changed", u.Secret != nil))
	s.logAudit(audit.Entry{Operation: audit.OpRecordUpdate, Subject: id, Label: r.Title, Result: audit.ResultSuccess})
	return r, nil
}

// Delete removes the record with id. Unknown ids are a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	i := indexOf(records, id)
	if i < 0 {
		s.log.Debug("delete of unknown record ignored", zap.String("id", id))
		// Keep memory in sync with storage even when nothing changes.
		s.records = records
		s.loaded = true
		return nil
	}

	next := make([]Record, 0, len(records)-1)
	next = append(next, records[:i]...)
	next = append(next, records[i+1:]...)
	if err := s.write(next); err != nil {
		return err
	}

	s.log.Debug("record deleted", zap.String("id", id))
	s.logAudit(audit.Entry{Operation: audit.OpRecordDelete, Subject: id, Result: audit.ResultSuccess})
	return nil
}

// DecryptSecret returns the plaintext secret of r.
func (s *Store) DecryptSecret(r Record) (string, error) {
	plaintext, err := s.cipher.Decrypt(r.Secret)
	if err != nil {
		s.logAudit(audit.Entry{
			Operation: audit.OpRecordDecrypt,
			Subject:   r.ID,
			Result:    audit.ResultError,
			Error:     &audit.ErrorInfo{Code: "decryption_failed"},
		})
		return "", fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	s.logAudit(audit.Entry{Operation: audit.OpRecordDecrypt, Subject: r.ID, Result: audit.ResultSuccess})
	return plaintext, nil
}

// CreateMany creates records from fs in one write. Entries failing validation
// are skipped and reported by index; nothing is written if encryption fails.
func (s *Store) CreateMany(fs []Fields) ([]Record, map[int]error, error) {
	skipped := make(map[int]error)

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	next := records[:len(records):len(records)]
	var created []Record
	for i, f := range fs {
		if err := f.Validate(); err != nil {
			skipped[i] = err
			continue
		}
		ciphertext, err := s.cipher.Encrypt(f.Secret)
		if err != nil {
			return nil, nil, fmt.Errorf("record: failed to encrypt secret: %w", err)
		}
		r := Record{
			ID:        s.newID(),
			Title:     f.Title,
			Username:  f.Username,
			Secret:    ciphertext,
			URL:       f.URL,
			Category:  f.Category,
			CreatedAt: now,
			UpdatedAt: now,
		}
		next = append(next, r)
		created = append(created, r)
	}

	if len(created) == 0 {
		return nil, skipped, nil
	}
	if err := s.write(next); err != nil {
		return nil, nil, err
	}

	s.logAudit(audit.Entry{
		Operation: audit.OpRecordImport,
		Result:    audit.ResultSuccess,
		Context:   map[string]string{"created": fmt.Sprint(len(created)), "skipped": fmt.Sprint(len(skipped))},
	})
	return created, skipped, nil
}

func (s *Store) logAudit(e audit.Entry) {
	if s.audit == nil {
		return
	}
	e.Source = s.source
	if err := s.audit.Log(e); err != nil {
		s.log.Warn("audit log failed", zap.String("op", e.Operation), zap.Error(err))
	}
}

func indexOf(records []Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// advance returns now, or prev+1ns when the clock has not moved past prev.
func advance(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
