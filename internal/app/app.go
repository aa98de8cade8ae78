// Package app builds the long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/acquisition"
	"github.com/JakeFAU/pricespy/internal/api"
	"github.com/JakeFAU/pricespy/internal/clock/system"
	"github.com/JakeFAU/pricespy/internal/config"
	collyfetcher "github.com/JakeFAU/pricespy/internal/fetcher/colly"
	"github.com/JakeFAU/pricespy/internal/fetcher/headless"
	"github.com/JakeFAU/pricespy/internal/hash/sha256"
	"github.com/JakeFAU/pricespy/internal/id/uuid"
	"github.com/JakeFAU/pricespy/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/pricespy/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/pricespy/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/pricespy/internal/queue/pubsub"
	redisqueue "github.com/JakeFAU/pricespy/internal/queue/redis"
	gcsstorage "github.com/JakeFAU/pricespy/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricespy/internal/storage/local"
	memoryStorage "github.com/JakeFAU/pricespy/internal/storage/memory"
	pgstore "github.com/JakeFAU/pricespy/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/pricespy/internal/storage/sqlite"
	"github.com/JakeFAU/pricespy/internal/tracker"
	"github.com/JakeFAU/pricespy/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        tracker.Store
	queue        tracker.TaskQueue
	orchestrator *acquisition.Orchestrator
	worker       *worker.Worker
	apiServer    *api.Server

	checks  map[string]api.ReadinessCheck
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Build creates the application's dependencies. Nothing here opens a
// browser; Chrome starts with the first acquisition.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, checks: map[string]api.ReadinessCheck{}}
	a.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("engine", cfg.Browser.Engine),
	)

	if err := a.setupStore(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.setupQueue(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	browser, err := a.setupBrowser()
	if err != nil {
		a.closeAll()
		return nil, err
	}
	archiver, err := a.setupSnapshots(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		a.closeAll()
		return nil, err
	}
	clock := system.New(loc)
	a.orchestrator = acquisition.New(
		a.store,
		browser,
		clock,
		uuid.New(),
		archiver,
		sha256.New(),
		publisher,
		acquisition.Config{
			CompetitorName: cfg.Competitor.Name,
			MaxResults:     cfg.Marketplace.MaxResults,
			Location:       loc,
			SnapshotPrefix: cfg.Snapshot.Prefix,
			Topic:          cfg.Events.Topic,
		},
		logger,
	)
	a.worker = worker.New(a.queue, a.orchestrator, clock, worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		TaskTimeout:  cfg.Worker.TaskTimeout,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, logger)
	a.apiServer = api.NewServer(a.orchestrator, a.queue, a.store, clock, a.checks, api.Config{
		RequestTimeout: cfg.Worker.TaskTimeout + 30*time.Second,
	}, logger)
	return a, nil
}

// Orchestrator returns the acquisition entry point.
func (a *App) Orchestrator() *acquisition.Orchestrator {
	return a.orchestrator
}

// Queue returns the task queue.
func (a *App) Queue() tracker.TaskQueue {
	return a.queue
}

// Store returns the price store.
func (a *App) Store() tracker.Store {
	return a.store
}

// Migrate creates the store schema. Stores without a schema are a no-op.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		a.logger.Info("store has no schema to migrate", zap.String("store", a.cfg.Store.Provider))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	a.logger.Info("store schema up to date", zap.String("store", a.cfg.Store.Provider))
	return nil
}

// SeedCompetitor ensures the named competitor row exists. An empty name
// seeds the configured competitor.
func (a *App) SeedCompetitor(ctx context.Context, name string) (tracker.Competitor, error) {
	if name == "" {
		name = a.cfg.Competitor.Name
	}
	c, err := a.store.EnsureCompetitor(ctx, name)
	if err != nil {
		return tracker.Competitor{}, fmt.Errorf("ensure competitor: %w", err)
	}
	a.logger.Info("competitor ready", zap.Int64("competitor_id", c.ID), zap.String("competitor", c.Name))
	return c, nil
}

// RunWorker blocks in the worker loop until ctx ends.
func (a *App) RunWorker(ctx context.Context) {
	a.worker.Run(ctx)
}

// Serve runs the HTTP API, and optionally the worker, until ctx ends.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workerDone := make(chan struct{})
	if withWorker {
		go func() {
			defer close(workerDone)
			a.worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port), zap.Bool("worker", withWorker))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-workerDone
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Close releases every resource Build acquired, newest first.
func (a *App) Close() {
	a.closeAll()
	a.logger.Info("shutdown complete")
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "postgres":
		store, err := pgstore.NewPriceStore(ctx, pgstore.Config{
			DSN:             a.cfg.Store.Postgres.DSN,
			MaxConns:        a.cfg.Store.Postgres.MaxConns,
			MinConns:        a.cfg.Store.Postgres.MinConns,
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.onClose("postgres", func() error { store.Close(); return nil })
		a.logger.Info("using postgres store")
	case "sqlite":
		store, err := sqlitestore.Open(a.cfg.Store.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.onClose("sqlite", store.Close)
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Store.SQLite.Path))
	default:
		a.logger.Warn("using in-memory store; observations are lost on exit")
		a.store = memoryStorage.NewPriceStore()
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	switch a.cfg.Queue.Provider {
	case "memory":
		q := queueMemory.NewQueue(a.cfg.Queue.Memory.Capacity)
		a.queue = q
		a.onClose("memory queue", q.Close)
		a.logger.Info("using in-memory task queue", zap.Int("capacity", a.cfg.Queue.Memory.Capacity))
		return nil
	case "pubsub":
		qc := a.cfg.Queue.PubSub
		client, err := pubsub.NewClient(ctx, qc.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub queue client init failed: %w", err)
		}
		q, err := pubsubqueue.New(client, pubsubqueue.Config{
			Topic:        qc.Topic,
			Subscription: qc.Subscription,
			PollWait:     qc.PollWait,
		})
		if err != nil {
			_ = client.Close()
			return err
		}
		a.queue = q
		a.checks["queue"] = q.Ping
		a.onClose("pubsub queue", func() error {
			_ = q.Close()
			return client.Close()
		})
		a.logger.Info("using pubsub task queue",
			zap.String("project", qc.ProjectID),
			zap.String("topic", qc.Topic),
			zap.String("subscription", qc.Subscription),
		)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Queue.Redis.Addr,
		Password: a.cfg.Queue.Redis.Password,
		DB:       a.cfg.Queue.Redis.DB,
	})
	q := redisqueue.NewWithClient(client, a.cfg.Queue.Redis.Key)
	a.queue = q
	a.checks["queue"] = q.Ping
	a.onClose("redis queue", q.Close)
	a.logger.Info("using redis task queue",
		zap.String("addr", a.cfg.Queue.Redis.Addr),
		zap.String("key", a.cfg.Queue.Redis.Key),
	)
	return nil
}

func (a *App) setupBrowser() (tracker.Browser, error) {
	b := a.cfg.Browser
	pacer := ratelimit.New(ratelimit.Config{RequestsPerSecond: b.RequestsPerSecond, Burst: 1})
	if b.Engine == "colly" {
		browser, err := collyfetcher.New(collyfetcher.Config{
			SearchURL:      a.cfg.Marketplace.SearchURL,
			ListingMarker:  a.cfg.Marketplace.ListingMarker,
			UserAgents:     b.UserAgents,
			AcceptLanguage: b.AcceptLanguage,
			RespectRobots:  b.RespectRobots,
			Proxy:          b.Proxy,
			Timeout:        b.PageLoadTimeout,
			ActionDelay:    b.ActionDelay(),
		}, pacer, a.logger)
		if err != nil {
			return nil, fmt.Errorf("colly engine init failed: %w", err)
		}
		a.logger.Info("using colly engine")
		return browser, nil
	}

	browser, err := headless.New(headless.Config{
		BaseURL:               a.cfg.Marketplace.BaseURL,
		SearchInput:           a.cfg.Marketplace.SearchInput,
		ListingMarker:         a.cfg.Marketplace.ListingMarker,
		UserAgents:            b.UserAgents,
		AcceptLanguage:        b.AcceptLanguage,
		Headless:              b.Headless,
		Proxy:                 b.Proxy,
		MaxSessions:           b.MaxSessions,
		PageLoadTimeout:       b.PageLoadTimeout,
		StructuredDataTimeout: b.StructuredDataTimeout,
		TypingDelay:           b.TypingDelay(),
		ActionDelay:           b.ActionDelay(),
		SettleDelay:           b.SettleDelay(),
		ScrollSteps:           b.ScrollSteps,
	}, pacer, a.logger)
	if err != nil {
		return nil, fmt.Errorf("chromedp engine init failed: %w", err)
	}
	a.onClose("chrome allocator", func() error { browser.Close(); return nil })
	a.logger.Info("using chromedp engine", zap.Bool("headless", b.Headless), zap.Int("max_sessions", b.MaxSessions))
	return browser, nil
}

func (a *App) setupSnapshots(ctx context.Context) (tracker.Archiver, error) {
	switch a.cfg.Snapshot.Provider {
	case "local":
		store, err := localstorage.New(localstorage.Config{Dir: a.cfg.Snapshot.Dir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		a.logger.Info("archiving listing snapshots locally", zap.String("dir", a.cfg.Snapshot.Dir))
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Snapshot.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		a.onClose("gcs", store.Close)
		a.logger.Info("archiving listing snapshots to GCS", zap.String("bucket", a.cfg.Snapshot.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (tracker.Publisher, error) {
	if a.cfg.Events.Provider != "pubsub" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Events.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := gcppublisher.New(client)
	a.onClose("pubsub", func() error {
		publisher.Close()
		return client.Close()
	})
	a.logger.Info("publishing observation events",
		zap.String("project", a.cfg.Events.ProjectID),
		zap.String("topic", a.cfg.Events.Topic),
	)
	return publisher, nil
}
