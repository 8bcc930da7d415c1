package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_transcode_pipeline/internal/deadletter/app"
	"video_transcode_pipeline/internal/deadletter/repository"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"go.uber.org/zap"
)

func main() {
	list := flag.Int64("list", 0, "print the newest N archived dead letters and exit")
	flag.Parse()

	logger.Log = logger.Initialize(config.EnvConfig.DLQArchiver, config.EnvConfig.DLQArchiverLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Archiver](config.EnvConfig.DLQArchiver, config.EnvConfig.DLQArchiverYAMLPath)
	cfg.Queue = cfg.Queue.Defaults()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDB, err := database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    database.MongoURI(cfg.Mongo),
		RetryCount:    cfg.Mongo.RetryCount,
		RetryInterval: time.Duration(cfg.Mongo.RetryInterval) * time.Second,
	}, cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to MongoDB after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.Mongo.Host, cfg.Mongo.Port)),
			zap.Error(err),
		)
	}
	defer mongoDB.Close(context.Background())

	repo := repository.NewMongoRecordRepo(mongoDB.Database)

	if *list > 0 {
		records, err := repo.List(ctx, *list)
		if err != nil {
			logger.Log.Fatal("list dead letters failed", zap.Error(err))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			logger.Log.Fatal("print dead letters failed", zap.Error(err))
		}
		return
	}

	if err := repo.EnsureIndexes(ctx, cfg.ArchiveRetention); err != nil {
		logger.Log.Fatal("ensure dead letter indexes failed", zap.Error(err))
	}

	broker, err := queue.Open(cfg.Queue, cfg.RabbitMQ)
	if err != nil {
		logger.Log.Fatal("open queue failed", zap.String("driver", cfg.Queue.Driver), zap.Error(err))
	}
	defer broker.Close()
	if err := broker.DeclareConsumer(ctx, queue.ConsumerFromConfig(cfg.Queue)); err != nil {
		logger.Log.Fatal("declare consumer group failed", zap.String("consumer", cfg.Queue.Consumer), zap.Error(err))
	}

	archiver := app.NewArchiver(broker, repo, cfg.Queue.Consumer, cfg.Prefetch, cfg.RetryInterval)
	if err := archiver.Run(ctx); err != nil {
		logger.Log.Fatal("dead letter archiver stopped", zap.Error(err))
	}
	logger.Log.Info("dead letter archiver stopped")
}
