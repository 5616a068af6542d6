package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/attach"
	"github.com/feather-im/feather/internal/blob"
	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/config"
	"github.com/feather-im/feather/internal/identity"
	"github.com/feather-im/feather/internal/lock"
	"github.com/feather-im/feather/internal/logging"
	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/realtime"
	"github.com/feather-im/feather/internal/remote"
	"github.com/feather-im/feather/internal/session"
	"github.com/feather-im/feather/internal/status"
	"github.com/feather-im/feather/internal/store"
	intsync "github.com/feather-im/feather/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemoteClient,
			provideUploader,
			providePipeline,
			provideResolver,
			provideEngine,
			providePresence,
			provideListener,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return loadConfig(session.ConfigPath())
}

// loadConfig falls back to defaults only when the file is absent. A present
// but unreadable config is a hard error; silently syncing against default
// endpoints would be worse than refusing to start.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemoteClient(cfg *config.Config, logger *zap.Logger) remote.Client {
	return remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, logger)
}

func provideUploader(cfg *config.Config, logger *zap.Logger) (blob.Uploader, error) {
	if cfg.Blob.Endpoint == "" {
		logger.Warn("blob storage not configured, attachment uploads disabled")
		return nil, nil
	}
	return blob.NewMinioUploader(cfg.Blob)
}

func providePipeline(db *store.DB, uploader blob.Uploader, logger *zap.Logger) *attach.Pipeline {
	return attach.New(db, uploader, logger)
}

func provideResolver(db *store.DB, b *bus.Bus, logger *zap.Logger) *identity.Resolver {
	return identity.NewResolver(db, b, logger)
}

func provideEngine(cfg *config.Config, db *store.DB, rc remote.Client,
	pipeline *attach.Pipeline, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rc, pipeline, machine, b, logger, cfg.Remote.PageSize)
}

func providePresence() *realtime.Presence {
	return realtime.NewPresence()
}

func provideListener(cfg *config.Config, db *store.DB, b *bus.Bus,
	presence *realtime.Presence, logger *zap.Logger) *realtime.Listener {
	return realtime.NewListener(db, b, presence, logger,
		cfg.Realtime.URL, cfg.Remote.APIKey, cfg.Remote.UserID)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock,
	engine *intsync.Engine, machine *status.Machine, listener *realtime.Listener,
	logger *zap.Logger) {

	syncCtx, cancelSync := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			metrics.Register()
			_ = machine.Transition(status.Idle)

			// Admin API in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()

			// Realtime change feed, if configured.
			if cfg.Realtime.URL != "" {
				listener.Start(syncCtx)
			}

			// Periodic sync loop; also runs one cycle at boot.
			go runSyncLoop(syncCtx, engine, time.Duration(cfg.Sync.IntervalSeconds)*time.Second, logger)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelSync()
			listener.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func runSyncLoop(ctx context.Context, engine *intsync.Engine, interval time.Duration, logger *zap.Logger) {
	runOnce := func() {
		err := engine.Sync(ctx)
		if err != nil && !errors.Is(err, intsync.ErrSyncRunning) && ctx.Err() == nil {
			logger.Warn("periodic sync failed", zap.Error(err))
		}
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			return
		}
	}
}
