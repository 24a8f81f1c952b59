// Command mailqueue runs the outbound email queue: the HTTP trigger, submit
// and admin endpoints, the dispatch scheduler and the retention janitor.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/andrewklimek/mnml-smtp/pkg/config"
	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/httpserver"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue/pgstore"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue/sqlitestore"
	"github.com/andrewklimek/mnml-smtp/pkg/pg"
	"github.com/andrewklimek/mnml-smtp/pkg/redis"
)

// storeConfig selects the queue store backend.
type storeConfig struct {
	Driver     string `env:"MAILQUEUE_STORE" envDefault:"postgres"` // postgres or sqlite
	SQLitePath string `env:"MAILQUEUE_SQLITE_PATH" envDefault:"./data/mailqueue.db"`
}

type appConfig struct {
	Store storeConfig
	Log   logger.Config
	Queue mailqueue.Config
	Email email.Config
	PG    pg.Config
	Redis redis.Config
	HTTP  httpserver.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("mailqueue exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.LoadAll(&cfg.Store, &cfg.Log, &cfg.Queue, &cfg.Email, &cfg.PG, &cfg.Redis, &cfg.HTTP); err != nil {
		return err
	}

	log := logger.NewFromConfig(cfg.Log,
		logger.WithContextExtractors(mailqueue.OriginExtractor),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	checks := map[string]httpserver.Check{}

	repo, closeRepo, err := openStore(ctx, cfg, log, checks)
	if err != nil {
		return err
	}
	defer closeRepo()

	state, closeState, err := openState(ctx, cfg.Redis, checks)
	if err != nil {
		return err
	}
	defer closeState()

	transport, err := email.NewSenderFromConfig(cfg.Email, log)
	if err != nil {
		return fmt.Errorf("email transport: %w", err)
	}

	q, err := mailqueue.New(cfg.Queue, repo, state, transport, mailqueue.WithLogger(log))
	if err != nil {
		return fmt.Errorf("mail queue: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(log, checks))
	r.Route("/mailqueue", func(r chi.Router) {
		r.Handle("/trigger", q.Trigger())
		r.Handle("/messages", mailqueue.NewSubmitHandler(q, cfg.Queue.SubmitToken, log))
		r.Mount("/admin", mailqueue.NewAdminHandler(q.Admin(), cfg.Queue.AdminToken, log).Routes())
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Start(ctx)
	})
	g.Go(func() error {
		return httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, r)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg appConfig, log *slog.Logger, checks map[string]httpserver.Check) (mailqueue.Repository, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		store, err := sqlitestore.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		checks["sqlite"] = store.Healthcheck
		log.InfoContext(ctx, "using sqlite store", "path", cfg.Store.SQLitePath)
		return store, func() { _ = store.Close() }, nil

	case "postgres", "":
		pool, err := pg.Connect(ctx, cfg.PG)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, cfg.PG, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		checks["postgres"] = pg.Healthcheck(pool)
		return pgstore.New(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown MAILQUEUE_STORE %q", cfg.Store.Driver)
	}
}

func openState(ctx context.Context, cfg redis.Config, checks map[string]httpserver.Check) (mailqueue.StateStore, func(), error) {
	if !cfg.Enabled() {
		slog.WarnContext(ctx, "REDIS_URL not set, keeping queue state in memory; run a single instance")
		return mailqueue.NewMemoryState(nil), func() {}, nil
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = redis.Healthcheck(client)
	return redis.NewStateStore(client), func() { _ = client.Close() }, nil
}
