package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/scrim-veto/internal/api"
	"github.com/dom/scrim-veto/internal/auth"
	"github.com/dom/scrim-veto/internal/config"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/repository/memory"
	"github.com/dom/scrim-veto/internal/repository/postgres"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server exited with error", zap.Error(err))
	}
	zl.Info("Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize persistence
	repos, err := newRepositories(cfg, zl)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(m, zl)

	// Initialize shared state and fan-out
	var (
		st     store.Store
		broker websocket.Broker
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		st = store.NewRedisStore(rdb)
		broker = websocket.NewRedisBroker(rdb, hub, zl)
	default:
		zl.Warn("Using in-memory store; run a single instance only")
		st = store.NewMemoryStore()
		broker = websocket.NewLocalBroker(hub)
	}
	defer st.Close()

	services := service.NewServices(repos, st, hub, broker, m, zl, service.Options{
		IdempotencyTTL: cfg.IdempotencyTTL,
		PresenceTTL:    cfg.PresenceTTL,
		VetoSessionTTL: cfg.VetoSessionTTL,
		MaxAttempts:    cfg.CASMaxAttempts,
	})
	commands := websocket.NewCommandHandler(services, zl)
	hub.OnDisconnect(commands.Disconnect)

	router := api.NewRouter(ctx, api.Deps{
		Hub:      hub,
		Commands: commands,
		Tokens:   auth.NewTokenValidator(cfg.JWTSecret),
		Gatherer: reg,
		Config:   cfg,
		Logger:   zl,
	})

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return broker.Run(gctx)
	})
	g.Go(func() error {
		services.Lobby.KeepPresence(gctx)
		return nil
	})
	g.Go(func() error {
		zl.Info("Server starting", zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend), zap.String("persistence", cfg.PersistenceBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.Stop()
		return err
	})

	return g.Wait()
}

func newRepositories(cfg *config.Config, zl *zap.Logger) (*repository.Repositories, error) {
	if cfg.PersistenceBackend == config.BackendMemory {
		zl.Warn("Using in-memory persistence; data is lost on restart")
		return memory.NewRepositories(memory.NewDB()), nil
	}

	logLevel := logger.Warn
	if cfg.IsDevelopment() {
		logLevel = logger.Info
	}
	db, err := postgres.NewConnection(cfg.DatabaseURL, logLevel)
	if err != nil {
		return nil, err
	}
	return postgres.NewRepositories(db), nil
}
