package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"terravest/api/internal/app"
	"terravest/api/internal/assets"
	"terravest/api/internal/cache"
	"terravest/api/internal/config"
	"terravest/api/internal/logging"
	"terravest/api/internal/metrics"
	"terravest/api/internal/search"
	"terravest/api/internal/session"
	"terravest/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	logger.Info().Int("applied", applied).Msg("migrations complete")

	dataStore := store.NewPostgresStore(db)
	opts := []app.Option{app.WithLogger(logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using postgres sessions and in-process cache")
		} else {
			defer redisStore.Close()
			logger.Info().Msg("using redis for refresh sessions and caches")
			opts = append(opts,
				app.WithSessionStore(redisStore),
				app.WithCache(cache.NewRedis(redisStore.Client())),
			)
		}
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, dataStore, logger)
	opts = append(opts, app.WithSearch(searchService))

	logos, err := assets.New(assets.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("object storage setup failed")
	}
	if logos != nil {
		opts = append(opts, app.WithLogoSigner(logos))
	}

	service := app.New(cfg, dataStore, opts...)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}
	if indexed, err := searchService.Reindex(ctx); err != nil {
		logger.Warn().Err(err).Msg("search reindex failed")
	} else if indexed > 0 {
		logger.Info().Int("companies", indexed).Msg("search index refreshed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithRequestLogger(logger),
		app.WithGatherer(registry),
		app.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("terravest api listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
