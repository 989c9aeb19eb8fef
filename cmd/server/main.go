// Command server wires the instance resolvers to their collaborators: the
// PostgreSQL instance stores, the BPM engine client, the pub/sub broker and
// the identity middleware, then serves the HTTP stack.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/adapter/camunda"
	"github.com/nickerso/physiome-coko/internal/adapter/postgres"
	"github.com/nickerso/physiome-coko/internal/adapter/postgres/instance"
	"github.com/nickerso/physiome-coko/internal/app"
	"github.com/nickerso/physiome-coko/internal/auth"
	"github.com/nickerso/physiome-coko/internal/config"
	"github.com/nickerso/physiome-coko/internal/model"
	"github.com/nickerso/physiome-coko/internal/pubsub"
	"github.com/nickerso/physiome-coko/internal/resolve"
	"github.com/nickerso/physiome-coko/internal/transport/middleware"
	"github.com/nickerso/physiome-coko/internal/transport/rest"
	"github.com/nickerso/physiome-coko/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting application",
		slog.String("version", app.BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	models, err := model.LoadDir(cfg.Models.Dir)
	if err != nil {
		return err
	}

	validators, err := validation.LoadFile(filepath.Join(cfg.Models.Dir, "validations.json"))
	if err != nil {
		return err
	}

	engine := camunda.NewClient(cfg.Engine, logger)
	broker := pubsub.NewBroker(64)
	defer broker.Close()
	identities := auth.NewContextResolver()

	var trace *acl.SlogTraceSink
	if cfg.ACL.TraceRules {
		trace = acl.NewSlogTraceSink(logger)
	}

	stores := instance.NewRegistry()
	resolvers := resolve.NewRegistry()
	for _, name := range models.Names() {
		def := models.Get(name)
		if trace != nil {
			def.ACL.SetTraceSink(trace)
		}
		store := instance.New(pool, model.Introspect(def), stores)
		resolve.New(def, store, engine, broker, identities, validators, resolvers, logger)
		logger.Info("resolver registered", slog.String("type", name))
	}

	jwtManager := auth.NewJWTManager(cfg.Auth)
	health := rest.NewHealthHandler(pool, engine, app.BuildVersion())

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.Live)
	mux.HandleFunc("/ready", health.Ready)
	mux.HandleFunc("/health", health.Health)

	chain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORS),
		middleware.Auth(jwtManager),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      chain(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
