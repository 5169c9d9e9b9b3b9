// Package bootstrap wires all dependencies and starts the application:
// the host bridge, the model store and dispatcher, the lock scheduler,
// the feature services, and the admin diagnostics server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/adapters/bridge"
	"github.com/artfold/designbridge/adapters/clock"
	adminhttp "github.com/artfold/designbridge/adapters/http"
	"github.com/artfold/designbridge/adapters/idgen"
	"github.com/artfold/designbridge/adapters/memory"
	"github.com/artfold/designbridge/adapters/metrics"
	"github.com/artfold/designbridge/adapters/sqlite"
	"github.com/artfold/designbridge/app"
	"github.com/artfold/designbridge/config"
	"github.com/artfold/designbridge/domain/action"
	"github.com/artfold/designbridge/domain/lock"
	"github.com/artfold/designbridge/ports"
)

// App represents the running application.
type App struct {
	Logger  zerolog.Logger
	Config  *config.Holder
	DB      *sqlite.DB
	Bridge  ports.HostBridge
	Store   ports.ModelStore
	Metrics *metrics.Collector

	Dispatcher *app.Dispatcher
	Scheduler  *app.Scheduler
	Resyncer   *app.Resyncer
	Layers     *app.LayerService
	Documents  *app.DocumentService
	Inbox      *app.Inbox

	HTTPServer *http.Server

	journal   *BufferedJournal
	lockReg   *lock.Registry
	actions   *action.Registry
	closeOnce sync.Once
}

// New creates and initializes the application from the config at path.
func New(path string) (*App, error) {
	holder, err := config.NewHolder(path, zerolog.New(os.Stderr).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}
	return NewWithHolder(holder)
}

// NewWithHolder creates and initializes the application with hot
// reload support. Only the log level is live-reloadable; everything
// else needs a restart (NonReloadableFields documents the split).
func NewWithHolder(holder *config.Holder) (*App, error) {
	a, err := NewFromConfig(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	a.Config = holder
	holder.OnChange(func(next *config.Config) {
		if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})
	return a, nil
}

// NewFromConfig creates and initializes the application from an
// already-loaded configuration, without hot reload.
func NewFromConfig(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	logger.Info().Str("bridge_mode", cfg.Bridge.Mode).Msg("initializing designbridge")

	a := &App{
		Logger: logger,
	}

	var inst ports.Instrumentation = ports.NopInstrumentation{}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		inst = a.Metrics
		logger.Info().Msg("prometheus metrics enabled")
	}

	realClock := clock.Real{}
	ids := idgen.UUID{}

	// Journal (optional).
	var recorder ports.JournalRecorder
	var journalStore ports.Journal
	if cfg.Journal.Enabled {
		db, err := sqlite.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal database: %w", err)
		}
		a.DB = db
		journalStore = sqlite.NewJournal(db)
		a.journal = NewBufferedJournal(journalStore, cfg.Journal.BatchSize, cfg.Journal.FlushInterval, logger)
		recorder = a.journal
		logger.Info().Str("path", cfg.Journal.Path).Msg("journal enabled")
	}

	// Host bridge.
	hostBridge, err := dialBridge(cfg.Bridge, logger)
	if err != nil {
		a.closePartial()
		return nil, err
	}
	a.Bridge = hostBridge

	// Locks: the standard domains plus deployment extras.
	a.lockReg = lock.NewRegistry()
	locks, err := app.StandardLocks(a.lockReg)
	if err != nil {
		a.closePartial()
		return nil, err
	}
	if len(cfg.Locks.Extra) > 0 {
		if _, err := a.lockReg.Register(cfg.Locks.Extra...); err != nil {
			a.closePartial()
			return nil, fmt.Errorf("register extra locks: %w", err)
		}
		logger.Info().Strs("locks", cfg.Locks.Extra).Msg("extra locks registered")
	}

	// Core protocol pieces.
	store := memory.NewModelStore()
	a.Store = store
	a.Dispatcher = app.NewDispatcher(store, recorder, realClock, ids, inst, logger)
	a.Scheduler = app.NewScheduler(realClock, ids, inst, logger)
	a.Resyncer = app.NewResyncer(hostBridge, a.Dispatcher, inst, logger)
	a.Scheduler.SetDivergenceHandler(func(ctx context.Context, cause error) {
		if err := a.Resyncer.All(ctx); err != nil {
			logger.Error().Err(err).Msg("resync after divergence failed")
		}
	})

	// Feature services.
	a.actions = action.NewRegistry()
	a.Layers, err = app.NewLayerService(a.actions, locks, hostBridge, a.Dispatcher, a.Scheduler, a.Resyncer, store,
		app.LayerServiceConfig{Verify: cfg.Verification.Enabled}, logger)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("layer service: %w", err)
	}
	a.Documents, err = app.NewDocumentService(a.actions, locks, hostBridge, a.Dispatcher, a.Scheduler, a.Resyncer, logger)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("document service: %w", err)
	}
	a.Inbox, err = app.NewInbox(a.actions, locks, hostBridge, a.Scheduler, a.Dispatcher, a.Resyncer, logger)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("inbox: %w", err)
	}

	// Admin diagnostics server.
	if cfg.Admin.Enabled {
		handler := adminhttp.New(a.Scheduler, store, journalStore, a.Resyncer, cfg.Metrics.Enabled, logger)
		a.HTTPServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
			Handler:      handler.Router(),
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}
	}

	return a, nil
}

// dialBridge builds the configured HostBridge.
func dialBridge(cfg config.BridgeConfig, logger zerolog.Logger) (ports.HostBridge, error) {
	switch cfg.Mode {
	case "mock":
		logger.Warn().Msg("using mock bridge; no host session")
		return bridge.NewMock(), nil
	case "websocket":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		ws, err := bridge.DialWS(ctx, cfg.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("dial host bridge %s: %w", cfg.URL, err)
		}
		return ws, nil
	default:
		return nil, fmt.Errorf("unknown bridge mode %q", cfg.Mode)
	}
}

// Run starts the application: pulls the initial model from the host,
// subscribes to notifications, serves the admin surface, and blocks
// until a signal or server error.
func (a *App) Run() error {
	ctx := context.Background()

	// Initial model: the host is authoritative from the first moment.
	if err := a.Resyncer.All(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("initial resync failed; model starts empty")
	}

	if err := a.Inbox.Start(); err != nil {
		return fmt.Errorf("subscribe to host notifications: %w", err)
	}

	errCh := make(chan error, 1)
	if a.HTTPServer != nil {
		go func() {
			a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting admin server")
			if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the application in dependency order: no new work, then
// drain the scheduler, then flush the journal, then drop connections.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.Inbox != nil {
		a.Inbox.Stop()
	}
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("admin server shutdown")
		}
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("scheduler drain incomplete")
		}
	}
	a.closePartial()
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// closePartial releases whatever resources have been acquired so far.
// Safe to call on a half-built App, and idempotent.
func (a *App) closePartial() {
	a.closeOnce.Do(a.closeResources)
}

func (a *App) closeResources() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("journal final flush failed")
		}
	}
	if a.Bridge != nil {
		if err := a.Bridge.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("bridge close failed")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("database close failed")
		}
	}
	if a.Config != nil {
		a.Config.Stop()
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
