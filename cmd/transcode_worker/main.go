package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"video_transcode_pipeline/internal/transcode/app"
	"video_transcode_pipeline/internal/transcode/repository"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"
	testtool "video_transcode_pipeline/pkg/test_tool"

	"go.uber.org/zap"
)

const healthService = "transcode.Worker"

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Worker](config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerYAMLPath)
	cfg.Queue = cfg.Queue.Defaults()
	cfg.Transcode = cfg.Transcode.Defaults()
	logger.Log.SetDebugMode(!config.IsProduction())

	testtool.StartPprof(cfg.PprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. queue
	broker, err := queue.Open(cfg.Queue, cfg.RabbitMQ)
	if err != nil {
		logger.Log.Fatal("open queue failed", zap.String("driver", cfg.Queue.Driver), zap.Error(err))
	}
	defer broker.Close()
	if err := broker.DeclareConsumer(ctx, queue.ConsumerFromConfig(cfg.Queue)); err != nil {
		logger.Log.Fatal("declare consumer group failed", zap.String("consumer", cfg.Queue.Consumer), zap.Error(err))
	}

	// 2. health, NOT_SERVING until the broker reports connected
	health, err := database.NewHealthServer(cfg.IP+":"+cfg.Port, healthService)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("Failed to listen Port(%s): ", cfg.Port), zap.Error(err))
	}
	go func() {
		if err := health.Serve(); err != nil {
			logger.Log.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()
	go watchBroker(ctx, broker, health)

	deps := app.WorkerDeps{
		Callback: app.NewHTTPCallback(cfg.Callback.Timeout),
	}

	// 3. MinIO, optional
	var minioRepo database.MinIOClientRepo
	if cfg.MinIO.Enabled {
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
		if cfg.Transcode.MirrorToMinIO {
			deps.Mirror = app.NewMinIOMirror(minioClient)
		}
	}
	deps.Sources = app.NewStorageResolver(minioRepo, cfg.Transcode.WorkDir)

	// 4. Redis job status, optional
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisClient(ctx, database.RedisConnection{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.RedisDB,
		})
		if err != nil {
			logger.Log.Fatal("connect redis failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer redisClient.Close()
		deps.Status = repository.NewRedisStatusRepo(redisClient, cfg.Redis.StatusTTL)
	}

	// 5. processed / failed events
	switch cfg.Events.Driver {
	case "kafka":
		writer, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: cfg.Kafka.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("create kafka writer failed", zap.Error(err))
		}
		defer writer.Close()
		deps.Events = app.NewKafkaEventPublisher(writer)
	case "", "queue":
		deps.Events = app.NewQueueEventPublisher(broker)
	default:
		logger.Log.Fatal("unknown events driver", zap.String("driver", cfg.Events.Driver))
	}

	// 6. engine, one limit for the whole process
	engine := app.NewLimitedEngine(app.NewFFmpegEngine(cfg.Transcode), cfg.Transcode.MaxConcurrentTranscodes)
	deps.Engine = engine

	worker := app.NewWorker(deps, cfg.Transcode.RenditionParallelism)
	pool := app.NewPool(broker, worker, queue.OptionsFromConfig(cfg.Queue, 0), cfg.Transcode.MaxConcurrentTranscodes)
	pool.OnOutcome = func(o app.Outcome) {
		logger.Log.Debug("delivery handled",
			zap.String("message_id", o.MessageID),
			zap.String("video_id", o.VideoID),
			zap.String("stage", string(o.Stage)),
			zap.Bool("acked", o.Acked),
			zap.Int("engine_active", engine.Active()),
			zap.Int("engine_peak", engine.Peak()),
		)
	}

	logger.Log.Info("transcode worker started",
		zap.String("consumer", cfg.Queue.Consumer),
		zap.Int("max_concurrent_transcodes", engine.Limit()),
		zap.Int("rendition_parallelism", cfg.Transcode.RenditionParallelism),
	)
	if err := pool.Run(ctx); err != nil {
		health.SetServing(false, healthService)
		logger.Log.Fatal("worker pool stopped", zap.Error(err))
	}
	health.SetServing(false, healthService)
	logger.Log.Info("transcode worker stopped")
}

// watchBroker mirrors the broker connection state onto the health service
func watchBroker(ctx context.Context, broker queue.Broker, health *database.HealthServer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-broker.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case queue.EventConnected:
				health.SetServing(true, healthService)
				logger.Log.Info("broker connected")
			case queue.EventDisconnected:
				health.SetServing(false, healthService)
				logger.Log.Warn("broker disconnected", zap.Error(ev.Err))
			}
		}
	}
}
