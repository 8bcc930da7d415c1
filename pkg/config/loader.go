package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvInfo service names, YAML paths and log paths from .env
type EnvInfo struct {
	// image name
	UploadService   string
	TranscodeWorker string
	DLQArchiver     string

	// service yaml path
	UploadServiceYAMLPath   string
	TranscodeWorkerYAMLPath string
	DLQArchiverYAMLPath     string

	// service log path
	UploadServiceLogPath   string
	TranscodeWorkerLogPath string
	DLQArchiverLogPath     string
}

// EnvConfig loaded once at startup
var (
	EnvConfig = initEnv()
	envConfig EnvInfo
	once      sync.Once
	env       string
)

func initEnv() EnvInfo {
	once.Do(func() {

		path, err := GetPath(".env", 5)
		if err != nil {
			log.Printf("Warning: Could not get .env path: %v", err)
		} else if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: Could not load .env file: %v", err)
		}

		env = os.Getenv("ENV")

		envConfig = EnvInfo{
			UploadService:   envOr("UPLOAD_SERVICE", "upload_service"),
			TranscodeWorker: envOr("TRANSCODE_WORKER", "transcode_worker"),
			DLQArchiver:     envOr("DLQ_ARCHIVER", "dlq_archiver"),

			UploadServiceYAMLPath:   envOr("UPLOAD_SERVICE_YAML", "./config"),
			TranscodeWorkerYAMLPath: envOr("TRANSCODE_WORKER_YAML", "./config"),
			DLQArchiverYAMLPath:     envOr("DLQ_ARCHIVER_YAML", "./config"),

			UploadServiceLogPath:   envOr("UPLOAD_SERVICE_LOG", "./logs/upload_service"),
			TranscodeWorkerLogPath: envOr("TRANSCODE_WORKER_LOG", "./logs/transcode_worker"),
			DLQArchiverLogPath:     envOr("DLQ_ARCHIVER_LOG", "./logs/dlq_archiver"),
		}
	})

	return envConfig
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// IsProduction check run env
func IsProduction() bool {
	return env == "production"
}

// LoadConfig loads <serviceName>.yaml from configPath, exits on error
func LoadConfig[T any](serviceName string, configPath string) T {
	cfg, err := Load[T](serviceName, configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

// Load reads <serviceName>.yaml, expands ${VAR} placeholders from the environment and decodes it into T
func Load[T any](serviceName string, configPath string) (T, error) {
	var cfg T

	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	rawConfig, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return cfg, fmt.Errorf("read raw config file: %w", err)
	}

	// ${VAR} placeholders are replaced before the second parse
	expandedConfig := os.ExpandEnv(string(rawConfig))

	if err := v.ReadConfig(bytes.NewBuffer([]byte(expandedConfig))); err != nil {
		return cfg, fmt.Errorf("read expanded config: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetPath use fileName loop maxCount find file path
func GetPath(fileName string, maxCount int) (string, error) {
	path := "./" + fileName

	for i := 0; i < maxCount; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = "../" + path
	}
	return "", errors.New(fileName + " can't find path")
}
