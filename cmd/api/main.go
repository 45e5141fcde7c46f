package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"folio/api/internal/app"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/logging"
	"folio/api/internal/metrics"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

// versionBackend is what the service, search fallback and exporter need
// from a store.
type versionBackend interface {
	store.VersionStore
	search.VersionSource
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    logging.Format(cfg.LogFormat),
		Component: "api",
	})
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	slog.SetDefault(logger)

	deps := app.Deps{
		History: cfg.History,
		Metrics: metrics.New(),
		Logger:  logger,
	}

	var versions versionBackend
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{})
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "migrations", applied)
		}
		postgres := store.NewPostgresStore(db)
		versions = postgres
		deps.Ping = postgres.Ping
	} else {
		log.Printf("DATABASE_URL not set, keeping versions in memory")
		versions = store.NewMemoryStore()
	}
	deps.Versions = versions

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}
	deps.Mirror = gitrepo.New(cfg.ReposDir)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		diffCache, err := cache.NewDiffCache(cfg.RedisURL, cfg.DiffCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer diffCache.Close()
		deps.Cache = diffCache
	}

	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.With("component", "search"))
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, search.NewFallback(versions), logger)
	} else {
		searchService = search.NewService(nil, search.NewFallback(versions), logger)
	}
	deps.Search = searchService

	exportOpts := export.Options{
		Versions: versions,
		Page:     export.PageFor(cfg.ExportPaper),
		Logger:   logger.With("component", "export"),
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := export.NewObjectArchive(ctx, export.ArchiveConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: export archive disabled: %v", err)
		} else {
			exportOpts.Archive = archive
		}
	}
	deps.Export = export.NewService(exportOpts)

	service := app.New(deps)
	defer service.Close()

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		go searchService.ReindexAll(context.WithoutCancel(ctx), versions)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.With("component", "http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Folio API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
