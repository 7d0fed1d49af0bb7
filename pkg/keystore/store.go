package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EnvReplicateToken is consulted when no Replicate key has been saved.
const EnvReplicateToken = "REPLICATE_API_TOKEN"

// ErrMissingKey is returned when no API key is configured.
var ErrMissingKey = errors.New("api key not configured")

// Keys holds the credentials the app talks to remote services with.
type Keys struct {
	Replicate string `json:"replicate"`
	Gemini    string `json:"gemini"`
}

// MaskedKeys is the API-safe view of Keys.
type MaskedKeys struct {
	Replicate    string `json:"replicate"`
	Gemini       string `json:"gemini"`
	HasReplicate bool   `json:"hasReplicate"`
	HasGemini    bool   `json:"hasGemini"`
}

// Masked hides all but the last four characters of each key.
func (k Keys) Masked() MaskedKeys {
	return MaskedKeys{
		Replicate:    mask(k.Replicate),
		Gemini:       mask(k.Gemini),
		HasReplicate: k.Replicate != "",
		HasGemini:    k.Gemini != "",
	}
}

// Store persists Keys as a JSON file readable only by the owner.
type Store struct {
	path   string
	lookup func(string) (string, bool)

	mu   sync.RWMutex
	keys Keys
}

// Option customises a Store.
type Option func(*Store)

// WithEnvLookup overrides how environment fallbacks are resolved.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(s *Store) { s.lookup = fn }
}

// Open loads the key file at path. A missing file is an empty store; an empty
// path keeps keys in memory only.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read key store: %w", err)
	}
	if err := json.Unmarshal(data, &s.keys); err != nil {
		return fmt.Errorf("parse key store: %w", err)
	}
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(s.keys, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Keys returns the stored keys without environment fallbacks applied.
func (s *Store) Keys() Keys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

// Save replaces the stored keys. Surrounding whitespace is trimmed.
func (s *Store) Save(keys Keys) error {
	keys.Replicate = strings.TrimSpace(keys.Replicate)
	keys.Gemini = strings.TrimSpace(keys.Gemini)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.keys
	s.keys = keys
	if err := s.save(); err != nil {
		s.keys = prev
		return fmt.Errorf("save key store: %w", err)
	}
	return nil
}

// ReplicateKey returns the saved key, falling back to REPLICATE_API_TOKEN.
func (s *Store) ReplicateKey() (string, error) {
	s.mu.RLock()
	key := s.keys.Replicate
	s.mu.RUnlock()
	if key != "" {
		return key, nil
	}
	if s.lookup != nil {
		if v, ok := s.lookup(EnvReplicateToken); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", ErrMissingKey
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
