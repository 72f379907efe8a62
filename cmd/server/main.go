package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"video-ingest/internal/ingest"
	"video-ingest/internal/platform/config"
	"video-ingest/internal/platform/database"
	"video-ingest/internal/platform/logger"
	"video-ingest/internal/platform/metrics"
	"video-ingest/internal/platform/objectstore"
	"video-ingest/internal/providers/streamhost"
	"video-ingest/internal/providers/transcoder"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 30 * time.Second
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	store, closeStore, err := openStore(startCtx, cfg, log)
	if err != nil {
		cancelStart()
		log.Error("open video store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	objects, err := objectstore.New(startCtx, objectstore.Config{
		Backend:  cfg.Storage.Backend,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
	})
	cancelStart()
	if err != nil {
		log.Error("open object store", "error", err)
		os.Exit(1)
	}
	if c, ok := objects.(io.Closer); ok {
		defer c.Close()
	}

	primary := streamhost.New(streamhost.Config{
		BaseURL:     cfg.Streamhost.BaseURL,
		TokenID:     cfg.Streamhost.TokenID,
		TokenSecret: cfg.Streamhost.TokenSecret,
		Timeout:     cfg.HTTPTimeout,
	})

	var (
		secondary ingest.SecondaryProvider
		webhook   *transcoder.Webhook
	)
	if cfg.Transcoder.APIKey != "" {
		secondary = transcoder.New(transcoder.Config{
			BaseURL: cfg.Transcoder.BaseURL,
			APIKey:  cfg.Transcoder.APIKey,
			Timeout: cfg.HTTPTimeout,
		})
		webhook, err = transcoder.NewWebhook(cfg.Transcoder.WebhookSecret, cfg.WebhookTolerance)
		if err != nil {
			log.Error("configure transcoder webhook", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("TRANSCODER_API_KEY not set, secondary encoding disabled")
	}

	tx := ingest.NewTransitioner(store, log, met)
	coordinator := ingest.NewCoordinator(store, tx, primary, secondary, objects, ingest.CoordinatorConfig{
		CORSOrigin:    cfg.Streamhost.CORSOrigin,
		Profile:       cfg.PlaybackProfile,
		DirectStorage: cfg.Transcoder.DirectStorage,
		SignedURLTTL:  cfg.SignedURLTTL,
		TestUploads:   cfg.Streamhost.TestUploads,
	}, log, met)
	materializer := ingest.NewMaterializer(objects, ingest.MaterializerConfig{
		Profile:         cfg.PlaybackProfile,
		DownloadTimeout: cfg.DownloadTimeout,
		UploadTimeout:   cfg.UploadTimeout,
		Concurrency:     cfg.CopyConcurrency,
	}, log, met)
	reconciler := ingest.NewReconciler(store, ingest.DefaultResolver(store), tx, materializer, primary, secondary, log, met)

	streamhostGW := ingest.NewStreamhostGateway(
		streamhost.NewVerifier(cfg.Streamhost.WebhookSecret, cfg.WebhookTolerance), reconciler, log, met)
	var transcoderGW *ingest.Gateway
	if webhook != nil {
		transcoderGW = ingest.NewTranscoderGateway(webhook, reconciler, log, met)
	}
	h := ingest.NewHandler(coordinator, store, streamhostGW, transcoderGW, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"storage_backend", cfg.Storage.Backend,
		"bucket", objects.Bucket(),
		"postgres", cfg.DatabaseURL != "",
		"secondary_enabled", secondary != nil,
		"direct_storage", cfg.Transcoder.DirectStorage,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Settings, log *slog.Logger) (ingest.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory video store")
		return ingest.NewInMemoryStore(), func() {}, nil
	}
	pool, err := database.Open(ctx, database.Config{
		DSN:             cfg.DatabaseURL,
		MaxConns:        int32(cfg.DBMaxConns),
		ApplicationName: "video-ingest",
	})
	if err != nil {
		return nil, nil, err
	}
	store := ingest.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
