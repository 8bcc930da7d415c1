package database

import (
	"fmt"
	"time"

	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresDSN builds a gorm postgres dsn
func PostgresDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port)
}

// NewPGConnection create a new postgresSQL connection through gorm
func NewPGConnection(d Connection) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	attempts := d.RetryCount
	if attempts <= 0 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		db, err = gorm.Open(postgres.Open(d.ConnectStr), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			err = ping(db)
		}
		if err == nil {
			logger.Log.Info("postgreSQL connected", zap.Int("attempt", i))
			return db, nil
		}
		logger.Log.Warn(
			"Failed to connect to postgreSQL database, retrying...",
			zap.Int("attempt", i),
			zap.Error(err),
		)
		if i < attempts {
			time.Sleep(d.RetryInterval)
		}
	}

	return nil, err
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
