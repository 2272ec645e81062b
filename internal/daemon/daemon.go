package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/endarthur/holocene-sub000/internal/archive"
	"github.com/endarthur/holocene-sub000/internal/auth"
	"github.com/endarthur/holocene-sub000/internal/bus"
	"github.com/endarthur/holocene-sub000/internal/config"
	"github.com/endarthur/holocene-sub000/internal/core"
	"github.com/endarthur/holocene-sub000/internal/healthbeat"
	"github.com/endarthur/holocene-sub000/internal/librarian"
	"github.com/endarthur/holocene-sub000/internal/linkcheck"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/plugin"
	"github.com/endarthur/holocene-sub000/internal/runner"
	"github.com/endarthur/holocene-sub000/internal/server"
	"github.com/endarthur/holocene-sub000/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns the full process lifecycle: PID file, core, plugins, API
// server and the cron jobs.
type Daemon struct {
	cfg    config.Config
	logger logging.Logger

	core     *core.Core
	registry *plugin.Registry
	server   *server.Server
	cron     *cron.Cron
	pinger   archive.HealthPinger

	stopOnce sync.Once
	done     chan struct{}
}

// New prepares a daemon for the given configuration.
func New(cfg config.Config) *Daemon {
	return &Daemon{cfg: cfg, done: make(chan struct{})}
}

// Start brings the daemon up: data dir, PID file, store, core, plugins, API
// server, cron. On any error the pieces already started are torn down.
func (d *Daemon) Start(ctx context.Context) error {
	for _, dir := range []string{
		d.cfg.DataDir,
		filepath.Join(d.cfg.ArchiveRoot(), archive.FormatMonolith),
		filepath.Join(d.cfg.ArchiveRoot(), archive.FormatWARC),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logging.SetLogPath(d.cfg.LogPath())
	d.logger = logging.NewComponentLogger("Daemon")

	if err := acquirePIDFile(d.cfg.PIDPath()); err != nil {
		return err
	}

	st, err := store.Open(d.cfg.DatabasePath(), logging.NewComponentLogger("Store"))
	if err != nil {
		releasePIDFile(d.cfg.PIDPath())
		return fmt.Errorf("open store: %w", err)
	}

	eventBus := bus.New(logging.NewComponentLogger("Bus"))
	bg := runner.New(runner.DefaultWorkers, logging.NewComponentLogger("Runner"))
	d.core = core.New(d.cfg, st, eventBus, bg, logging.NewComponentLogger("Core"))

	archiver := d.buildArchiver(st)

	sessions, err := auth.LoadSessions(ctx, st)
	if err != nil {
		d.teardownCore()
		releasePIDFile(d.cfg.PIDPath())
		return fmt.Errorf("load session key: %w", err)
	}
	authSvc := auth.NewService(st, d.cfg.BaseURL, d.cfg.MagicLinkTTL, logging.NewComponentLogger("Auth"))
	authMW := auth.NewMiddleware(st, sessions, logging.NewComponentLogger("Auth"))

	d.registry = plugin.NewRegistry(d.cfg.Device, d.core, logging.NewComponentLogger("PluginRegistry"))
	d.registry.Discover(d.pluginFactories(st, archiver))
	d.registry.LoadAll()
	d.registry.EnableAll()

	d.server = server.New(d.core, d.registry, archiver, authSvc, sessions, authMW)
	if err := d.server.Start(); err != nil {
		d.registry.DisableAll()
		d.teardownCore()
		releasePIDFile(d.cfg.PIDPath())
		return fmt.Errorf("start api server: %w", err)
	}

	d.startCron(archiver)

	d.logger.Info("Daemon started (device %q, data dir %s)", d.cfg.Device, d.cfg.DataDir)
	return nil
}

// buildArchiver wires the archiving service with whichever providers the
// configuration enables.
func (d *Daemon) buildArchiver(st *store.Store) *archive.Service {
	logger := logging.NewComponentLogger("Archive")

	var box archive.ArchiveBoxRemote
	if remote := archive.NewSSHArchiveBox(d.cfg.ArchiveBoxHost, d.cfg.ArchiveBoxDir, d.cfg.ArchiveBoxWebBase, logger); remote != nil {
		box = remote
	}
	if pinger := archive.NewHTTPPinger(d.cfg.HealthcheckPingURL, logger); pinger != nil {
		d.pinger = pinger
	}

	return archive.NewService(st,
		archive.NewExecSnapshotter(logger),
		archive.NewWaybackClient(logger),
		box,
		archive.Config{
			Root:           d.cfg.ArchiveRoot(),
			LocalByDefault: d.cfg.ArchiveLocalByDefault,
			LocalFormat:    d.cfg.ArchiveLocalFormat,
			BoxQueueLimit:  d.cfg.ArchiveBoxQueueLimit,
			RetryMax:       d.cfg.ArchiveRetryMax,
		},
		logger)
}

// pluginFactories enumerates the builtin plugin set. Plugins are compiled in;
// the registry's runs_on filter decides what actually loads on this device.
func (d *Daemon) pluginFactories(st *store.Store, archiver *archive.Service) []plugin.Factory {
	checker := linkcheck.NewChecker(st, nil, linkcheck.Config{
		BatchSize: d.cfg.LinkCheckBatchSize,
		Timeout:   d.cfg.LinkCheckTimeout,
		Delay:     d.cfg.LinkCheckDelay,
	}, logging.NewComponentLogger("LinkCheck"))

	return []plugin.Factory{
		func() plugin.Plugin { return linkcheck.NewPlugin(checker, d.pinger, d.cfg.LinkCheckInterval) },
		func() plugin.Plugin { return healthbeat.NewPlugin(0) },
		func() plugin.Plugin { return librarian.NewPlugin(archiver) },
	}
}

// startCron schedules the recurring maintenance jobs: the healthcheck ping
// and the snapshot retry sweep.
func (d *Daemon) startCron(archiver *archive.Service) {
	cronLogger := logging.NewComponentLogger("Cron")
	d.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if d.pinger != nil {
		interval := d.cfg.HealthcheckInterval
		if interval <= 0 {
			interval = config.DefaultHealthcheckInterval
		}
		_, err := d.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.pinger.Ping(ctx, nil); err != nil {
				cronLogger.Warn("Healthcheck ping failed: %v", err)
			}
		})
		if err != nil {
			cronLogger.Error("Failed to schedule healthcheck ping: %v", err)
		}
	}

	_, err := d.cron.AddFunc("@every 6h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, _, err := archiver.RetryFailed(ctx, d.cfg.ArchiveRetryMax); err != nil {
			cronLogger.Error("Snapshot retry sweep failed: %v", err)
		}
	})
	if err != nil {
		cronLogger.Error("Failed to schedule retry sweep: %v", err)
	}

	d.cron.Start()
}

// Run starts the daemon and blocks until SIGTERM/SIGINT or Stop.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		d.logger.Info("Received signal %s, shutting down", s)
	case <-ctx.Done():
		d.logger.Info("Context cancelled, shutting down")
	case <-d.done:
	}
	d.Stop()
	return nil
}

// Stop tears the daemon down in reverse start order. Idempotent.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		if d.logger != nil {
			d.logger.Info("Daemon stopping")
		}

		// Cron drain and server shutdown are independent; run them together
		// so the budget is shared, not stacked.
		var g errgroup.Group
		if d.cron != nil {
			cronCtx := d.cron.Stop()
			g.Go(func() error {
				select {
				case <-cronCtx.Done():
				case <-time.After(shutdownTimeout):
				}
				return nil
			})
		}
		if d.server != nil {
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return d.server.Stop(ctx)
			})
		}
		if err := g.Wait(); err != nil && d.logger != nil {
			d.logger.Warn("API server shutdown: %v", err)
		}
		if d.registry != nil {
			d.registry.DisableAll()
		}
		d.teardownCore()
		releasePIDFile(d.cfg.PIDPath())
		close(d.done)

		if d.logger != nil {
			d.logger.Info("Daemon stopped")
		}
	})
}

func (d *Daemon) teardownCore() {
	if d.core != nil {
		d.core.Shutdown()
	}
}
