package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	transcodeapp "video_transcode_pipeline/internal/transcode/app"
	"video_transcode_pipeline/internal/upload/api/handlers"
	"video_transcode_pipeline/internal/upload/api/router"
	"video_transcode_pipeline/internal/upload/app"
	"video_transcode_pipeline/internal/upload/repository"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.UploadService, config.EnvConfig.UploadServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Upload](config.EnvConfig.UploadService, config.EnvConfig.UploadServiceYAMLPath)
	cfg.Queue = cfg.Queue.Defaults()
	cfg.Storage = cfg.Storage.Defaults()
	logger.Log.SetDebugMode(!config.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. PostgreSQL
	dsn := database.PostgresDSN(cfg.PostgreSQL)
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr:    dsn,
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval) * time.Second,
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgreSQL database after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.PostgreSQL.Host, cfg.PostgreSQL.Port)),
			zap.Error(err),
		)
	}
	videoRepo := repository.NewVideoRepo(db)
	if err := videoRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("video table migration failed", zap.Error(err))
	}

	// 2. queue, the consumer group is declared here too so jobs submitted
	// before the first worker starts are kept
	broker, err := queue.Open(cfg.Queue, cfg.RabbitMQ)
	if err != nil {
		logger.Log.Fatal("open queue failed", zap.String("driver", cfg.Queue.Driver), zap.Error(err))
	}
	defer broker.Close()
	if err := broker.DeclareConsumer(ctx, queue.ConsumerFromConfig(cfg.Queue)); err != nil {
		logger.Log.Fatal("declare consumer group failed", zap.String("consumer", cfg.Queue.Consumer), zap.Error(err))
	}

	// 3. MinIO, optional
	var minioRepo database.MinIOClientRepo
	if cfg.MinIO.Enabled || cfg.Storage.Backend == "minio" {
		minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:   fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
			User:       cfg.MinIO.User,
			Password:   cfg.MinIO.Password,
			BucketName: cfg.MinIO.BucketName,
			UseSSL:     cfg.MinIO.UseSSL,

			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: cfg.MinIO.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to minio after retries", zap.Error(err))
		}
		minioRepo = minioClient
	}

	usecase := app.NewUploadUseCase(
		videoRepo,
		minioRepo,
		transcodeapp.NewProducer(broker),
		transcodeapp.NewQueueEventPublisher(broker),
		cfg.Storage,
	)

	r := fiber.New(router.Config())
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.UploadServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log file", zap.Error(err))
	}
	defer file.Close()
	r.Use(recover.New())
	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))
	router.RegisterRoutes(r, handlers.NewVideoHandler(usecase, cfg.Storage.MaxUploadBytes))

	go func() {
		<-ctx.Done()
		logger.Log.Info("upload service shutting down")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("shutdown fiber failed", zap.Error(err))
		}
	}()

	logger.Log.Info("upload service listening", zap.String("addr", cfg.IP+":"+cfg.Port))
	if err := r.Listen(cfg.IP + ":" + cfg.Port); err != nil {
		logger.Log.Fatal("Server failed to start", zap.Error(err))
	}
}
