package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"image-stitcher/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
	// Update applies fn to the stored settings as one read-modify-write.
	Update(fn func(*domain.Settings) error) error
}

// TOMLStore persists settings in a single TOML file guarded by a lock file, so
// two running instances never interleave writes.
type TOMLStore struct {
	// mu serializes writers sharing this store; the file lock does not
	// exclude goroutines holding the same *flock.Flock.
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewTOMLStore creates a TOML-backed settings store.
func NewTOMLStore(path string) *TOMLStore {
	return &TOMLStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the settings file location.
func (s *TOMLStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing. Keys absent
// from the file keep their default values.
func (s *TOMLStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return domain.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	cfg := DefaultSettings()
	decoder := toml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	return Normalize(cfg), nil
}

// Save writes settings atomically under an exclusive file lock.
func (s *TOMLStore) Save(cfg domain.Settings) error {
	return s.locked(func() error {
		return s.write(cfg)
	})
}

// Update loads, mutates and saves settings while holding the file lock, so
// concurrent writers never drop each other's changes.
func (s *TOMLStore) Update(fn func(*domain.Settings) error) error {
	return s.locked(func() error {
		cfg, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		return s.write(cfg)
	})
}

func (s *TOMLStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// write must be called with the lock held.
func (s *TOMLStore) write(cfg domain.Settings) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Preference keys understood by Preferences.
const (
	KeyLastUsedFolder   = "lastUsedFolder"
	KeyLastExportFolder = "lastExportFolder"
)

// ErrUnknownKey is returned for preference keys Preferences does not map.
var ErrUnknownKey = errors.New("unknown preference key")

// Preferences exposes a settings Store as a small key-value store.
type Preferences struct {
	store Store
}

// NewPreferences wraps store.
func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// Get returns the value for key, or false when it is unset or unreadable.
func (p *Preferences) Get(key string) (string, bool) {
	settings, err := p.store.Load()
	if err != nil {
		return "", false
	}

	var value string
	switch key {
	case KeyLastUsedFolder:
		value = settings.LastUsedFolder
	case KeyLastExportFolder:
		value = settings.LastExportFolder
	default:
		return "", false
	}

	value = strings.TrimSpace(value)
	return value, value != ""
}

// Set stores value under key.
func (p *Preferences) Set(key, value string) error {
	return p.store.Update(func(settings *domain.Settings) error {
		switch key {
		case KeyLastUsedFolder:
			settings.LastUsedFolder = strings.TrimSpace(value)
		case KeyLastExportFolder:
			settings.LastExportFolder = strings.TrimSpace(value)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		return nil
	})
}

func trim(value string) string {
	return strings.TrimSpace(value)
}
