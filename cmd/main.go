package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertasolimandonofreo/top8-core/internal"
)

func main() {
	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := internal.NewLogger(cfg)
	metrics := internal.NewMetricsCollector(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartReporter(ctx, time.Minute)

	if cfg.StartGGAPIKey == "" {
		logger.Warn("startgg_api_key_missing").
			Component("main").
			Operation("startup").
			Log()
	}

	cacheManager := internal.NewCacheManager(cfg)
	defer cacheManager.Close()

	var rateLimiter internal.RateLimiterInterface
	if cacheManager.Enabled() {
		if err := cacheManager.Ping(ctx); err != nil {
			logger.Error("redis_unavailable").
				Component("main").
				Operation("startup").
				Err(err).
				Log()
			if cfg.CharacterStore == internal.StoreRedis {
				os.Exit(1)
			}
		} else {
			rateLimiter = internal.NewRateLimiter(cacheManager, cfg, logger)
		}
	}

	store, err := internal.OpenCharacterStore(cfg, cacheManager)
	if err != nil {
		logger.Error("character_store_unavailable").
			Component("main").
			Operation("startup").
			Err(err).
			Meta("store", cfg.CharacterStore).
			Log()
		store = internal.NewMemoryCharacterStore()
	}
	defer store.Close()

	var publisher internal.GraphicEventPublisher
	if cfg.NATSEnabled {
		natsClient, err := internal.NewNATSClient(cfg, logger)
		if err != nil {
			logger.Error("nats_connect_failed").
				Component("main").
				Operation("startup").
				Err(err).
				Log()
			os.Exit(1)
		}
		defer natsClient.Close()

		if _, err := natsClient.StartCharacterCacheWorker(store); err != nil {
			logger.Error("nats_worker_failed").
				Component("main").
				Operation("startup").
				Err(err).
				Log()
			os.Exit(1)
		}
		publisher = natsClient
	}

	var uploader internal.FileUploader
	if cfg.StorageEnabled {
		r2, err := internal.NewR2Uploader(ctx, internal.R2ConfigFrom(cfg))
		if err != nil {
			logger.Error("r2_init_failed").
				Component("main").
				Operation("startup").
				Err(err).
				Log()
			os.Exit(1)
		}
		uploader = r2
	}

	var saver internal.FileSaver
	if cfg.OutputDir != "" {
		localSaver, err := internal.NewLocalFileSaver(cfg.OutputDir)
		if err != nil {
			logger.Error("output_dir_unavailable").
				Component("main").
				Operation("startup").
				Err(err).
				Log()
			os.Exit(1)
		}
		saver = localSaver
	}

	renderer, err := internal.NewGraphicRenderer(internal.NewDirIconResolver(cfg.IconDir))
	if err != nil {
		log.Fatalf("Error creating renderer: %v", err)
	}

	service := internal.NewTop8Service(internal.Top8ServiceOptions{
		API:       internal.NewStartGGClient(cfg, logger, metrics),
		Store:     store,
		Renderer:  renderer,
		Publisher: publisher,
		Uploader:  uploader,
		Saver:     saver,
		Logger:    logger,
		Metrics:   metrics,
	})

	filter := internal.NewImageFilterService(internal.StdImageDecoder{}, internal.DefaultFilterOptions(cfg), logger)

	router := internal.NewRouter(internal.RouterDeps{
		Service:     service,
		Filter:      filter,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Logger:      logger,
		TrustProxy:  cfg.TrustProxyHeaders,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server_started").
			Component("main").
			Operation("listen").
			Meta("addr", server.Addr).
			Meta("character_store", cfg.CharacterStore).
			Meta("nats_enabled", cfg.NATSEnabled).
			Meta("storage_enabled", cfg.StorageEnabled).
			Log()
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_error").
				Component("main").
				Operation("listen").
				Err(err).
				Log()
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown_signal_received").
			Component("main").
			Operation("shutdown").
			Log()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful_shutdown_failed").
				Component("main").
				Operation("shutdown").
				Err(err).
				Log()
			server.Close()
		}
	}

	logger.Info("server_stopped").
		Component("main").
		Operation("shutdown").
		Log()
}
