package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pkowalczyk/siteblock/internal/accesslog"
	"github.com/pkowalczyk/siteblock/internal/blocker"
	"github.com/pkowalczyk/siteblock/internal/blocklist"
	"github.com/pkowalczyk/siteblock/internal/hosts"
	"github.com/pkowalczyk/siteblock/internal/protocol"
)

// Agent is the long-running per-user process: it owns the socket
// server, watches the blocklist ledger and keeps the hosts file aligned
// with the recorded state.
type Agent struct {
	server *Server
	store  *blocklist.Store
	svc    *blocker.Service
	logger *zap.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// Options configures a new Agent. Zero values fall back to the default
// per-user paths.
type Options struct {
	LedgerPath   string
	SettingsPath string
	SocketPath   string
	Version      string
	Logger       *zap.Logger
}

// New wires the full agent from its options.
func New(opts Options) (*Agent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ledgerPath := opts.LedgerPath
	if ledgerPath == "" {
		ledgerPath = blocklist.DefaultPath()
	}
	settingsPath := opts.SettingsPath
	if settingsPath == "" {
		settingsPath = blocklist.DefaultSettingsPath()
	}

	settings, err := blocklist.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	store := blocklist.NewStore(ledgerPath)
	if _, err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}

	dataDir := blocklist.DefaultDir()
	flusher := hosts.NewFlusher(hosts.FlushMethod(settings.FlushMethod))

	superOpts := []accesslog.SupervisorOption{accesslog.WithLogger(logger)}
	if settings.LoggerPath != "" {
		superOpts = append(superOpts, accesslog.WithLoggerPath(settings.LoggerPath))
	}
	super := accesslog.NewSupervisor(dataDir, superOpts...)

	writerOpts := []hosts.WriterOption{
		hosts.WithDaemonSteps(super),
		hosts.WithBackupKeeper(hosts.NewBackupKeeper(dataDir)),
		hosts.WithLogger(logger),
	}
	if settings.HostsPath != "" {
		writerOpts = append(writerOpts, hosts.WithHostsPath(settings.HostsPath))
	}
	writer := hosts.NewWriter(flusher, writerOpts...)

	reader := accesslog.NewReader(dataDir, logger)

	svcOpts := []blocker.Option{
		blocker.WithVersion(opts.Version),
		blocker.WithLogger(logger),
	}
	if settings.HostsPath != "" {
		svcOpts = append(svcOpts, blocker.WithHostsPath(settings.HostsPath))
	}
	svc := blocker.NewService(store, writer, super, reader, svcOpts...)

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = protocol.SocketPath()
	}
	server := NewServer(socketPath, svc, logger)

	return &Agent{
		server: server,
		store:  store,
		svc:    svc,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run starts the agent and blocks until a shutdown signal arrives.
func (a *Agent) Run() error {
	// Realign the hosts file with the recorded state before serving.
	a.svc.Reconcile()

	if err := a.server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	a.logger.Info("agent listening", zap.String("socket", a.server.socketPath))

	if err := a.store.Watch(a.onLedgerChange); err != nil {
		a.logger.Warn("failed to watch blocklist", zap.Error(err))
	}

	go a.cleanupLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-a.stopCh:
		a.logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// Stop signals the agent to stop.
func (a *Agent) Stop() {
	close(a.stopCh)
}

func (a *Agent) shutdown() error {
	close(a.doneCh)
	a.store.Stop()

	if err := a.server.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	return nil
}

// onLedgerChange fires when the ledger file is touched outside the
// agent, for example by a second agent instance or a manual edit.
func (a *Agent) onLedgerChange(cfg *blocklist.Config) {
	a.logger.Info("blocklist changed on disk",
		zap.Int("domains", len(cfg.Domains)),
		zap.Bool("enabled", cfg.Enabled))
}

func (a *Agent) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.server.rateLimiter.Cleanup()
		case <-a.doneCh:
			return
		}
	}
}
