// Package control assembles the application: storage, dead-letter store,
// category handlers, and the observer pipeline.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacksignal/eventpipe/internal/core/config"
	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/handlers"
	"github.com/stacksignal/eventpipe/internal/infra/redis"
	"github.com/stacksignal/eventpipe/internal/infra/storage"
	"github.com/stacksignal/eventpipe/internal/infra/storage/memory"
	"github.com/stacksignal/eventpipe/internal/infra/storage/postgres"
	"github.com/stacksignal/eventpipe/internal/infra/upstream"
	"github.com/stacksignal/eventpipe/internal/logging"
	"github.com/stacksignal/eventpipe/internal/observer"
	"github.com/stacksignal/eventpipe/internal/pipeline/router"
)

// defaultCategories maps contract methods to handler categories. Methods
// not listed fall back to the contract name suffix.
var defaultCategories = map[string]string{
	"mint":           "badge",
	"award-badge":    "badge",
	"upgrade-badge":  "badge",
	"revoke-badge":   "badge",
	"join-community": "community",
	"post":           "community",
	"vote":           "community",
}

// App owns the process-wide components and the observer lifecycle.
type App struct {
	cfg config.AppConfig
	log *slog.Logger

	registry   *router.Manager
	observer   *observer.Observer
	db         *postgres.DB
	redis      *redis.Client
	deadLetter *redis.DeadLetterStore

	done chan struct{}
}

// New builds the application from configuration. The ring receives a copy
// of every log record and backs the observer's diagnostics endpoint.
func New(cfg config.AppConfig, ring *logging.Ring, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	app := &App{
		cfg:  cfg,
		log:  log.With("component", "app"),
		done: make(chan struct{}),
	}

	// Storage: PostgreSQL when configured, in-process memory otherwise.
	var badgeRepo storage.BadgeRepository
	var communityRepo storage.CommunityRepository

	if cfg.Database.URL != "" {
		db, err := postgres.New(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		app.db = db
		badgeRepo = postgres.NewBadgeRepo(db)
		communityRepo = postgres.NewCommunityRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		badgeRepo = memory.NewBadgeRepo(store)
		communityRepo = memory.NewCommunityRepo(store)
		log.Info("Using Memory storage")
	}

	app.registry = router.NewManager(log)
	app.registry.Register("badge", handlers.NewBadgeHandler(badgeRepo, log))
	app.registry.Register("community", handlers.NewCommunityHandler(communityRepo, log))

	// Dead-letter store: handler failures are kept in Redis for replay.
	if cfg.Redis.URL != "" {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		app.redis = rc
		app.deadLetter = redis.NewDeadLetterStore(rc, cfg.Observer.Network)
		app.registry.OnError(app.recordFailure)
		log.Info("Dead-letter store enabled")
	}

	var up observer.UpstreamClient
	if cfg.Observer.NodeURL != "" {
		up = upstream.New(upstream.Config{
			NodeURL:    cfg.Observer.NodeURL,
			Network:    cfg.Observer.Network,
			StartBlock: cfg.Observer.StartBlock,
			CallbackURL: fmt.Sprintf("http://%s:%d/events",
				cfg.Server.Host, cfg.Server.Port),
		})
	}

	obs, err := observer.New(observer.Config{
		Host:                 cfg.Server.Host,
		Port:                 cfg.Server.Port,
		NodeURL:              cfg.Observer.NodeURL,
		Network:              cfg.Observer.Network,
		StartBlock:           cfg.Observer.StartBlock,
		BatchSize:            cfg.Pipeline.BatchSize,
		BatchTimeout:         cfg.Pipeline.BatchTimeout(),
		Window:               cfg.Pipeline.Window(),
		MaxTrackedEvents:     cfg.Pipeline.MaxTrackedEvents,
		MaxBatchSize:         cfg.Pipeline.MaxBatchSize,
		ReportInterval:       cfg.Pipeline.ReportInterval(),
		MaxReconnectAttempts: cfg.Observer.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Observer.ReconnectBaseDelay(),
		Predicates:           cfg.Predicates,
		Upstream:             up,
		Registry:             app.registry,
		Projector:            router.NewProjector(defaultCategories),
		Ring:                 ring,
		Logger:               log,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.observer = obs

	obs.OnStateChange(func(from, to observer.State) {
		log.Info("Observer state changed", "from", from, "to", to)
	})

	return app, nil
}

// Registry exposes the handler registry for runtime handler swaps.
func (a *App) Registry() *router.Manager {
	return a.registry
}

// Done is closed when the observer fails terminally; the process should
// exit and be restarted by the supervisor.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Start starts the observer and watches for terminal failures.
func (a *App) Start(ctx context.Context) error {
	if err := a.observer.Start(ctx); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
		case err := <-a.observer.Failures():
			a.log.Error("Observer failed terminally", "error", err)
			close(a.done)
		}
	}()

	return nil
}

// Stop shuts the observer down and closes the infrastructure connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping application")
	err := a.observer.Stop(ctx)
	a.Close()
	return err
}

// Close releases database and Redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.log.Warn("Failed to close Redis", "error", cerr)
		}
		a.redis = nil
	}
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.log.Warn("Failed to close database", "error", cerr)
		}
		a.db = nil
	}
}

// recordFailure writes a handler failure to the dead-letter store.
func (a *App) recordFailure(ev domain.FilteredEvent, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fe := domain.NewFailedEvent(ev, err)
	if rerr := a.deadLetter.Record(ctx, fe); rerr != nil {
		a.log.Error("Failed to record dead-letter event",
			"id", fe.ID,
			"category", fe.Category,
			"error", rerr,
		)
	}
}
