// Package blocker ties the blocklist ledger, the hosts writer and the
// access logger together behind one serialized service.
package blocker

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkowalczyk/siteblock/internal/accesslog"
	"github.com/pkowalczyk/siteblock/internal/blocklist"
	"github.com/pkowalczyk/siteblock/internal/hosts"
)

// ErrNoDomains is returned by Enable when the ledger is empty. No
// privileged action is attempted in that case.
var ErrNoDomains = errors.New("no domains in the blocklist")

// HostsWriter applies a domain set to the hosts file in one privileged
// transaction. An empty set removes the managed block.
type HostsWriter interface {
	Apply(domains []string) error
}

// LoggerSupervisor tracks the external access logger process.
type LoggerSupervisor interface {
	IsRunning() bool
	EnsureRunning()
	EnsureStopped()
}

// LogReader returns recorded accesses, newest last.
type LogReader interface {
	Read(days int) []accesslog.Entry
}

// Status is the full state snapshot served to clients.
type Status struct {
	Active        bool   `json:"active"`
	Enabled       bool   `json:"enabled"`
	DomainCount   int    `json:"domain_count"`
	LoggerRunning bool   `json:"logger_running"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Service serializes all mutations so two clients cannot interleave
// ledger writes with hosts transactions.
type Service struct {
	mu        sync.Mutex
	store     *blocklist.Store
	writer    HostsWriter
	super     LoggerSupervisor
	reader    LogReader
	hostsPath string
	version   string
	started   time.Time
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHostsPath overrides where Status looks for the managed block.
func WithHostsPath(path string) Option {
	return func(s *Service) { s.hostsPath = path }
}

// WithVersion sets the version string reported by Status.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the service. writer, super and reader are interfaces
// so tests can stand in fakes without touching /etc/hosts.
func NewService(store *blocklist.Store, writer HostsWriter, super LoggerSupervisor, reader LogReader, opts ...Option) *Service {
	s := &Service{
		store:     store,
		writer:    writer,
		super:     super,
		reader:    reader,
		hostsPath: hosts.Path,
		started:   time.Now(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Domains returns the blocked domains sorted for display.
func (s *Service) Domains() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	domains := make([]string, len(cfg.Domains))
	copy(domains, cfg.Domains)
	sort.Strings(domains)
	return domains, nil
}

// Add records the given domains in the ledger. When blocking is
// enabled the hosts file is refreshed in the same call. The ledger is
// the source of truth: a failed refresh is logged but does not undo or
// fail the add.
func (s *Service) Add(raw []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.store.Add(raw)
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.refresh()
	}
	return added, nil
}

// Remove drops the given domains from the ledger and, when blocking is
// enabled, refreshes the hosts file the same best-effort way as Add.
func (s *Service) Remove(raw []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.store.Remove(raw)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.refresh()
	}
	return removed, nil
}

// refresh re-applies the current ledger to the hosts file when blocking
// is enabled. Failures degrade to a stale block until the next enable.
func (s *Service) refresh() {
	cfg, err := s.store.Load()
	if err != nil {
		s.logger.Warn("failed to reload blocklist after change", zap.Error(err))
		return
	}
	if !cfg.Enabled {
		return
	}
	if err := s.writer.Apply(cfg.Domains); err != nil {
		s.logger.Warn("failed to refresh hosts file", zap.Error(err))
		return
	}
	if len(cfg.Domains) > 0 {
		s.super.EnsureRunning()
	}
}

// Enable writes the managed block for the current ledger. The enabled
// flag is persisted only after the privileged write succeeded, so a
// denied prompt leaves the recorded state truthful.
func (s *Service) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load()
	if err != nil {
		return err
	}
	if len(cfg.Domains) == 0 {
		return ErrNoDomains
	}

	if err := s.writer.Apply(cfg.Domains); err != nil {
		return err
	}
	if err := s.store.SetEnabled(true); err != nil {
		return err
	}
	s.super.EnsureRunning()
	return nil
}

// Disable strips the managed block and clears the enabled flag. Same
// rule as Enable: the flag changes only after the privileged write
// succeeded.
func (s *Service) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Apply(nil); err != nil {
		return err
	}
	return s.store.SetEnabled(false)
}

// Status reports the observable state. Active reflects what is really
// in the hosts file, not just the recorded flag, so an externally
// edited hosts file shows up honestly.
func (s *Service) Status() (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	active := false
	if data, err := os.ReadFile(s.hostsPath); err == nil {
		active = hosts.IsActive(string(data))
	}

	return &Status{
		Active:        active && cfg.Enabled,
		Enabled:       cfg.Enabled,
		DomainCount:   len(cfg.Domains),
		LoggerRunning: s.super.IsRunning(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}, nil
}

// AccessLog returns recorded accesses, optionally limited to the most
// recent days.
func (s *Service) AccessLog(days int) []accesslog.Entry {
	return s.reader.Read(days)
}

// Reconcile realigns the hosts file and the logger with the recorded
// state at startup. Failures are logged and swallowed so a denied
// prompt cannot keep the agent from serving.
func (s *Service) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load()
	if err != nil {
		s.logger.Warn("failed to load blocklist during reconcile", zap.Error(err))
		return
	}

	active := false
	if data, err := os.ReadFile(s.hostsPath); err == nil {
		active = hosts.IsActive(string(data))
	}

	switch {
	case cfg.Enabled && len(cfg.Domains) > 0:
		if !active {
			s.logger.Info("restoring managed block",
				zap.Int("domains", len(cfg.Domains)))
			if err := s.writer.Apply(cfg.Domains); err != nil {
				s.logger.Warn("failed to restore managed block", zap.Error(err))
				return
			}
		}
		s.super.EnsureRunning()
	case active:
		s.logger.Info("removing stale managed block")
		if err := s.writer.Apply(nil); err != nil {
			s.logger.Warn("failed to remove stale managed block", zap.Error(err))
		}
	default:
		s.super.EnsureStopped()
	}
}
