// Package store provides the persisted key-value store shared by the
// poller, broker, and UI surfaces. Keys and values are strings, mirroring
// the flat storage model of the hosting browser.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/logging"
)

// Well-known keys.
const (
	KeyLinksOff     = "linksOff"
	KeySelectOff    = "selectOff"
	KeyAlertOff     = "alertOff"
	KeyNotifyOff    = "notifyOff"
	KeyDefault      = "default"
	KeyAccount      = "account"
	KeyData         = "data"
	KeyTimestamp    = "timestamp"
	KeyLoggedOut    = "loggedOut"
	KeyIsClient     = "isClient"
	KeyPollInterval = "pollInterval"
	KeyUnreadCount  = "unreadCount"
	KeyPhone        = "phone"
	KeyTab          = "tab"
	KeySmsTo        = "smsTo"
	KeySmsText      = "smsText"
	KeyLastPopup    = "lastPopup"
)

// Store is a string-keyed, string-valued store with an in-memory cache and
// optional write-through file persistence.
type Store struct {
	path string
	log  *logging.Logger

	mu          sync.RWMutex
	values      map[string]string
	flushFailed bool
}

// New creates a store persisted at path. An empty path keeps the store in
// memory only.
func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		log:    logging.NewDefault(),
		values: make(map[string]string),
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &s.values); err != nil {
			return nil, fmt.Errorf("failed to parse store: %w", err)
		}
	}
	return s, nil
}

// WithLogger attaches a logger for flush failures.
func (s *Store) WithLogger(log *logging.Logger) *Store {
	if log != nil {
		s.log = log
	}
	return s
}

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Set stores value under key and persists.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// Delete removes key and persists.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.flushLocked()
}

// Clear removes every key. Used when the account identity changes.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return s.flushLocked()
}

// Keys returns all stored keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// GetInt parses the value for key as an integer, returning fallback on any
// miss or parse failure. Counts are stored as strings, so magnitude
// comparisons go through this.
func (s *Store) GetInt(key string, fallback int) int {
	v := s.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// IsSet reports whether key holds a non-empty value. The store follows the
// truthiness convention of the original flat storage: "" is off, anything
// else is on.
func (s *Store) IsSet(key string) bool {
	return s.Get(key) != ""
}

// SetJSON serializes v and stores it under key.
func (s *Store) SetJSON(key string, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	return s.Set(key, string(data))
}

// GetJSON deserializes the value under key into v.
func (s *Store) GetJSON(key string, v interface{}) error {
	raw := s.Get(key)
	if raw == "" {
		return fmt.Errorf("key %q not set", key)
	}
	if err := sonic.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to deserialize %q: %w", key, err)
	}
	return nil
}

// flushLocked writes the store file. Callers often discard the returned
// error, so failures are logged here: one line per outage, not one per
// write.
func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}

	err := s.writeFile()
	if err != nil {
		if !s.flushFailed {
			s.flushFailed = true
			s.log.Error("store flush failed",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return err
	}

	if s.flushFailed {
		s.flushFailed = false
		s.log.Info("store flush recovered", zap.String("path", s.path))
	}
	return nil
}

func (s *Store) writeFile() error {
	data, err := sonic.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to serialize store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return os.Rename(tmp, s.path)
}
