// Package blocklist manages the persisted set of blocked domains.
package blocklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Config is the persisted blocklist ledger.
type Config struct {
	Domains []string `json:"domains"`
	Enabled bool     `json:"enabled"`
}

// DefaultDir returns the per-user data directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "siteblock")
}

// DefaultPath returns the default ledger path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.json")
}

// Store persists the blocklist ledger as JSON.
type Store struct {
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewStore creates a store backed by the given ledger path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		stopCh: make(chan struct{}),
	}
}

// Path returns the ledger path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. If the file is absent a default empty ledger is
// written and returned; malformed JSON is a hard error so that config
// corruption is never silently swallowed.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{Domains: []string{}}
			if err := s.Save(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read blocklist: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse blocklist: %w", err)
	}
	if cfg.Domains == nil {
		cfg.Domains = []string{}
	}

	return &cfg, nil
}

// Save writes the ledger via a temp file and rename so a partial write
// can never corrupt it.
func (s *Store) Save(cfg *Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal blocklist: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blocklist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace blocklist: %w", err)
	}

	return nil
}

// Add normalizes each input and appends the ones not already present,
// preserving arrival order. The ledger is persisted only when at least
// one domain was added. Returns exactly the domains that were added.
func (s *Store) Add(raw []string) ([]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		present[d] = true
	}

	var added []string
	for _, r := range raw {
		d, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		if present[d] {
			continue
		}
		present[d] = true
		cfg.Domains = append(cfg.Domains, d)
		added = append(added, d)
	}

	if len(added) > 0 {
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
	}

	return added, nil
}

// Remove normalizes each input and drops matching entries. The ledger is
// persisted only when at least one entry was removed. Returns exactly
// the domains that were removed.
func (s *Store) Remove(raw []string) ([]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	drop := make(map[string]bool, len(raw))
	for _, r := range raw {
		d, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		drop[d] = true
	}

	var kept, removed []string
	for _, d := range cfg.Domains {
		if drop[d] {
			removed = append(removed, d)
			continue
		}
		kept = append(kept, d)
	}

	if len(removed) > 0 {
		cfg.Domains = kept
		if cfg.Domains == nil {
			cfg.Domains = []string{}
		}
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
	}

	return removed, nil
}

// SetEnabled updates only the enabled flag and persists unconditionally.
func (s *Store) SetEnabled(enabled bool) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	cfg.Enabled = enabled
	return s.Save(cfg)
}

// Watch starts watching the ledger file for external changes. Used for
// best-effort detection of another writer touching the ledger.
func (s *Store) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop(onChange)

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch blocklist: %w", err)
	}

	return nil
}

func (s *Store) watchLoop(onChange func(*Config)) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if cfg, err := s.Load(); err == nil && onChange != nil {
					onChange(cfg)
				}
			}
		case <-s.watcher.Errors:
			// Ignore watcher errors
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops watching the ledger file.
func (s *Store) Stop() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}
