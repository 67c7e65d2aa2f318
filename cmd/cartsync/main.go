package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/internal/cartsync"
	"github.com/angelmondragon/cartsync/internal/catalog"
	"github.com/angelmondragon/cartsync/internal/gateway"
	"github.com/angelmondragon/cartsync/internal/gateway/httpgateway"
	"github.com/angelmondragon/cartsync/internal/gateway/localstore"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/instance"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	pkgredis "github.com/angelmondragon/cartsync/pkg/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartsync"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "cartsync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"gateway":  cfg.Gateway.NormalizedKind(),
		"instance": instance.GetID(),
	})

	products, err := loadCatalog(cfg.Catalog)
	requireResource(ctx, logg, "catalog", err)

	var redisPinger pkgredis.Pinger
	var factory gateway.Factory
	switch cfg.Gateway.NormalizedKind() {
	case config.GatewayKindHTTP:
		client, err := httpgateway.NewClient(
			cfg.Gateway.BaseURL,
			httpgateway.WithAPIKey(cfg.Gateway.APIKey),
			httpgateway.WithTimeout(cfg.Gateway.Timeout),
		)
		requireResource(ctx, logg, "cart service client", err)
		factory = client
	case config.GatewayKindRedis:
		redisClient, err := pkgredis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		redisPinger = redisClient
		factory = localstore.New(localstore.NewRedisBlobs(redisClient, cfg.Redis.CartTTL), products)
	default:
		factory = localstore.New(localstore.NewMemoryBlobs(), products)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessions, err := cartsync.NewSessions(factory, cartsync.Params{
		Logger:              logg,
		Metrics:             metrics.NewSyncMetrics(registry),
		DebounceInterval:    cfg.Sync.DebounceInterval,
		RemoteTimeout:       cfg.Sync.RemoteTimeout,
		RefetchAfterSuccess: cfg.Sync.RefetchAfterSuccess,
		MessageCapacity:     cfg.Sync.MessageCapacity,
	}, cfg.Sessions.MaxSessions)
	requireResource(ctx, logg, "session registry", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithField(ctx, "addr", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, redisPinger, sessions, products, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting cartsync server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "cartsync server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "http server shutdown", err)
	}
	// Sessions flush armed quantity updates before the process exits.
	if err := sessions.Close(shutdownCtx); err != nil {
		logg.Error(ctx, "closing cart sessions", err)
	}
	logg.Info(ctx, "cartsync server stopped")
}

func loadCatalog(cfg config.CatalogConfig) (*catalog.Static, error) {
	if cfg.File == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(cfg.File)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
