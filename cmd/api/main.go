package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Pikian/comfy-ui-render-app/internal/adapter/repo"
	"github.com/Pikian/comfy-ui-render-app/internal/artifact"
	"github.com/Pikian/comfy-ui-render-app/internal/backend/comfy"
	"github.com/Pikian/comfy-ui-render-app/internal/backend/runpod"
	"github.com/Pikian/comfy-ui-render-app/internal/delivery"
	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/http/handlers"
	"github.com/Pikian/comfy-ui-render-app/internal/http/httpapi"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
	"github.com/Pikian/comfy-ui-render-app/internal/orchestrator"
	"github.com/Pikian/comfy-ui-render-app/internal/storage"
	"github.com/Pikian/comfy-ui-render-app/internal/track"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	records := repo.NewRecordRepository(pool)

	blobs, staticDir, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure blob store")
	}

	backend, tracker, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure backend")
	}

	pipeline := delivery.NewPipeline(blobs, records, logger)
	extractor := artifact.NewExtractor(backend, logger)

	// Detached executions get the tracking deadline plus headroom for
	// extraction and delivery.
	execTimeout := cfg.TrackDeadline + time.Minute
	service := orchestrator.New(backend, tracker, extractor, pipeline, execTimeout, logger)

	app := &handlers.App{
		Executor:      service,
		Backend:       backend,
		Logger:        logger,
		AsyncDispatch: cfg.AsyncDispatch,
		PollInterval:  cfg.PollInterval,
		TrackDeadline: cfg.TrackDeadline,
	}
	router := httpapi.NewRouter(app, cfg.AllowedOrigins, staticDir)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("backend", cfg.BackendKind).Msgf("render orchestrator listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("stopped")
}

// newBlobStore picks S3 when a bucket is configured, otherwise the local
// filesystem store with a /static route for development.
func newBlobStore(ctx context.Context, cfg *infra.Config) (domain.BlobStore, string, error) {
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		return store, "", err
	}

	publicBase := cfg.S3PublicBaseURL
	if publicBase == "" {
		publicBase = "http://localhost:" + cfg.Port + "/static"
	}
	store, err := storage.NewFileStore(cfg.StoragePath, publicBase)
	if err != nil {
		return nil, "", err
	}
	return store, store.BasePath(), nil
}

// newBackend constructs the backend client and the completion-tracking
// strategy matching the configured backend kind.
func newBackend(cfg *infra.Config, logger infra.Logger) (domain.Backend, domain.Tracker, error) {
	switch cfg.BackendKind {
	case infra.BackendRunPod:
		client, err := runpod.New(runpod.Options{
			APIKey:     cfg.RunPodAPIKey,
			EndpointID: cfg.RunPodEndpointID,
			BaseURL:    cfg.RunPodBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		tracker := track.NewPollingTracker(client, cfg.PollInterval, cfg.TrackDeadline, nil, logger)
		return client, tracker, nil

	case infra.BackendComfy:
		client, err := comfy.New(comfy.Options{
			BaseURL:  cfg.ComfyBaseURL,
			ClientID: uuid.NewString(),
		})
		if err != nil {
			return nil, nil, err
		}
		tracker := track.NewStreamTracker(client, client, cfg.TrackDeadline, cfg.ReconnectAttempts, cfg.ReconnectBackoff, nil, logger)
		return client, tracker, nil
	}
	return nil, nil, errors.New("unsupported backend kind " + cfg.BackendKind)
}
