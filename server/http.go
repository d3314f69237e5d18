package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"media-pipeline/capture"
	"media-pipeline/config"
	"media-pipeline/constant"
	apiHandler "media-pipeline/handler"
	"media-pipeline/pipeline"
	"media-pipeline/pkg/rabbitmq"
	"media-pipeline/pkg/runner"
	"media-pipeline/ratelimit"
	"media-pipeline/repository"
	"media-pipeline/storage"
	"media-pipeline/transcoder"
	"media-pipeline/uploader"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	var reporter uploader.Reporter
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("telemetry broker unavailable, events will only be logged")
	} else {
		publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open telemetry publisher")
		} else {
			defer publisher.Close()
			reporter = publisher
		}
	}

	repo := repository.NewRepo(cfg.DB)
	store := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket, cfg.MinIOPublicURL)
	limiter := ratelimit.NewRedisLimiter(cfg.Redis)
	engine := transcoder.NewEngine(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, runner.New())
	orchestrator := uploader.NewOrchestrator(store, repo, reporter)

	opener := &capture.FFmpegDeviceOpener{
		FFmpegPath: cfg.Media.FFmpegPath,
		Devices:    cfg.Media.Devices,
	}

	// The limit signal stages the forced-stop recording through the
	// coordinator, so the signals close over the not-yet-built pointer.
	var coordinator *pipeline.Coordinator
	controller := capture.NewController(opener, capture.NewFFmpegRecorder, capture.Signals{
		OnWarning: func(remaining int) {
			zerolog.Ctx(ctx).Info().Int("remaining_seconds", remaining).Msg("recording nearing duration ceiling")
		},
		OnLimit: func() {
			zerolog.Ctx(ctx).Info().Msg("recording duration ceiling reached, forced stop")
			coordinator.HandleRecordingLimit(ctx)
		},
	})
	coordinator = pipeline.NewCoordinator(controller, engine, orchestrator, limiter, reporter, pipeline.DeviceClass(cfg.App.DeviceClass))
	defer coordinator.Close(ctx)

	r := gin.Default()
	addHealth(r)
	apiHandler.New(coordinator, ctx).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
