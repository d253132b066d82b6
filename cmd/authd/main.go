// Command authd runs the auth coordinator behind a small HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auth "github.com/tradepulse/go-auth"
	"github.com/tradepulse/go-auth/activitymap"
	"github.com/tradepulse/go-auth/authhttp"
	"github.com/tradepulse/go-auth/gotrue"
	"github.com/tradepulse/go-auth/kvstore"
	"github.com/tradepulse/go-auth/repository"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		auth.NewLogger(auth.LoggerOptions{Name: "authd"}).Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg         *auth.Config
	logger      auth.Logger
	db          *bun.DB
	kv          auth.KeyValueStore
	closers     []func() error
	coordinator *auth.Coordinator
	srv         router.Server[*fiber.App]
}

func run(ctx context.Context) error {
	cfg, err := auth.LoadConfig(ctx)
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		logger: auth.NewLogger(cfg.LoggerOptions()),
	}
	defer a.close()

	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := a.setupCoordinator(registry); err != nil {
		return err
	}

	if err := a.coordinator.Initialize(ctx); err != nil {
		return err
	}
	state := a.coordinator.State()
	a.logger.Info("auth initialized", "phase", a.coordinator.Phase(), "authenticated", state.User != nil)

	a.setupServer(registry)
	return a.serve(ctx)
}

func (a *app) setupDatabase(ctx context.Context) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, a.cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	a.db = bun.NewDB(sqldb, sqlitedialect.New())
	a.closers = append(a.closers, a.db.Close)

	return repository.CreateSchema(ctx, a.db)
}

func (a *app) setupStorage(ctx context.Context) error {
	if a.cfg.GetRedisAddr() == "" {
		a.logger.Warn("REDIS_ADDR not set, local credentials are kept in memory")
		a.kv = kvstore.NewMemory()
		return nil
	}

	store, err := kvstore.ConnectRedis(ctx, kvstore.RedisConfig{
		Addr:     a.cfg.GetRedisAddr(),
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
		Prefix:   "tradeauth:",
	})
	if err != nil {
		return err
	}
	a.kv = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *app) setupCoordinator(registry prometheus.Registerer) error {
	codec := auth.NewTokenCodec([]byte(a.cfg.GetSigningKey()), a.cfg.GetTokenTTL(),
		auth.WithTokenCodecLogger(a.logger))
	store := auth.NewCredentialStore(a.kv, codec,
		auth.WithPasswordCost(a.cfg.GetPasswordCost()),
		auth.WithCredentialStoreLogger(a.logger))

	metrics, err := auth.NewMetricsSink(registry)
	if err != nil {
		return err
	}
	sink := auth.MultiActivitySink{metrics, activitymap.NewLogSink(a.logger)}

	var remote auth.RemoteSessionClient
	var profiles auth.ProfileStore
	if a.cfg.RemoteEnabled() {
		remote = gotrue.New(gotrue.Config{
			URL:     a.cfg.GetGoTrueURL(),
			AnonKey: a.cfg.GetGoTrueAnonKey(),
			Storage: a.kv,
			Logger:  a.logger,
		})
		profiles = repository.NewProfileRepository(a.db)
	} else {
		a.logger.Warn("GOTRUE_URL not set, running with local identities only")
	}

	opts := append(auth.CoordinatorOptionsFromConfig(a.cfg, a.logger),
		auth.WithCoordinatorActivitySink(sink))
	coordinator, err := auth.NewCoordinator(remote, profiles, store, opts...)
	if err != nil {
		return err
	}
	a.coordinator = coordinator
	a.closers = append(a.closers, coordinator.Close)
	return nil
}

func (a *app) setupServer(registry *prometheus.Registry) {
	a.srv = router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "authd",
			DisableStartupMessage: true,
		}))
	})

	r := a.srv.Router()
	r.Get("/healthz", func(ctx router.Context) error {
		return ctx.JSON(fiber.StatusOK, map[string]any{"phase": a.coordinator.Phase()})
	})

	handler := authhttp.NewHandler(a.coordinator,
		authhttp.WithHandlerLogger(a.logger),
		authhttp.WithTokenVerifier(a.coordinator.Codec()))
	authhttp.RegisterRoutes(r.Group("/auth"), handler)

	// promhttp is a net/http handler, mounted on the fiber app directly
	a.srv.WrappedRouter().Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func (a *app) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", a.cfg.GetHTTPAddr())
		errCh <- a.srv.Serve(a.cfg.GetHTTPAddr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.srv.Shutdown(shutdownCtx)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown incomplete", "error", err)
	}
}
