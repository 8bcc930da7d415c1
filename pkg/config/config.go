package config

import "time"

// Worker definition transcode_worker YAML structure
type Worker struct {
	IP        string `mapstructure:"ip"`
	Port      string `mapstructure:"port"`
	PprofAddr string `mapstructure:"pprof_addr"`

	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Events    EventsConfig    `mapstructure:"events"`
	Callback  CallbackConfig  `mapstructure:"callback"`
}

// Upload definition upload_service YAML structure
type Upload struct {
	IP   string `mapstructure:"ip"`
	Port string `mapstructure:"port"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	Queue      QueueConfig    `mapstructure:"queue"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	Storage    StorageConfig  `mapstructure:"storage"`
}

// Archiver definition dlq_archiver YAML structure
type Archiver struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Mongo    DatabaseConfig `mapstructure:"mongo"`

	Prefetch         int           `mapstructure:"prefetch"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	ArchiveRetention time.Duration `mapstructure:"archive_retention"`
}

// RabbitMQConfig definition rabbitmq connection
type RabbitMQConfig struct {
	IP            string        `mapstructure:"ip"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	VHost         string        `mapstructure:"vhost"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// QueueConfig definition durable queue, retry and dead-letter policy
type QueueConfig struct {
	Driver         string        `mapstructure:"driver"`
	Exchange       string        `mapstructure:"exchange"`
	Subject        string        `mapstructure:"subject"`
	Consumer       string        `mapstructure:"consumer"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	MaxDeliveries       int           `mapstructure:"max_deliveries"`
	RedeliveryWait      time.Duration `mapstructure:"redelivery_wait"`
	AckWait             time.Duration `mapstructure:"ack_wait"`
	DeadLetterRetention time.Duration `mapstructure:"dead_letter_retention"`

	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig definition stream retention limits, zero means unlimited
type RetentionConfig struct {
	MaxMessages int64         `mapstructure:"max_messages"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

// TranscodeConfig definition ffmpeg and worker pool setting
type TranscodeConfig struct {
	FFmpegPath              string `mapstructure:"ffmpeg_path"`
	Preset                  string `mapstructure:"preset"`
	SegmentSeconds          int    `mapstructure:"segment_seconds"`
	MaxConcurrentTranscodes int    `mapstructure:"max_concurrent_transcodes"`
	RenditionParallelism    int    `mapstructure:"rendition_parallelism"`
	WorkDir                 string `mapstructure:"work_dir"`
	MirrorToMinIO           bool   `mapstructure:"mirror_to_minio"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	BucketName    string        `mapstructure:"bucket_name"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	RedisDB   int           `mapstructure:"redis_db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// KafkaConfig definition kafka brokers
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// EventsConfig definition where processed/failed events go: "queue" or "kafka"
type EventsConfig struct {
	Driver string `mapstructure:"driver"`
}

// CallbackConfig definition completion callback setting
type CallbackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig definition where the upload API keeps sources and outputs
type StorageConfig struct {
	Backend          string   `mapstructure:"backend"`
	UploadDir        string   `mapstructure:"upload_dir"`
	OutputRoot       string   `mapstructure:"output_root"`
	CallbackBaseURL  string   `mapstructure:"callback_base_url"`
	DefaultQualities []string `mapstructure:"default_qualities"`
	MaxUploadBytes   int      `mapstructure:"max_upload_bytes"`
	SubmitRetries    int      `mapstructure:"submit_retries"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// Defaults fills the zero values of the queue config
func (q QueueConfig) Defaults() QueueConfig {
	if q.Driver == "" {
		q.Driver = "rabbitmq"
	}
	if q.Exchange == "" {
		q.Exchange = "video"
	}
	if q.Subject == "" {
		q.Subject = "video.process"
	}
	if q.Consumer == "" {
		q.Consumer = "transcode-workers"
	}
	if q.PublishTimeout <= 0 {
		q.PublishTimeout = 5 * time.Second
	}
	if q.MaxDeliveries <= 0 {
		q.MaxDeliveries = 3
	}
	if q.RedeliveryWait <= 0 {
		q.RedeliveryWait = 30 * time.Second
	}
	if q.AckWait <= 0 {
		q.AckWait = 30 * time.Minute
	}
	if q.DeadLetterRetention <= 0 {
		q.DeadLetterRetention = 7 * 24 * time.Hour
	}
	return q
}

// Defaults fills the zero values of the transcode config
func (t TranscodeConfig) Defaults() TranscodeConfig {
	if t.FFmpegPath == "" {
		t.FFmpegPath = "ffmpeg"
	}
	if t.Preset == "" {
		t.Preset = "veryfast"
	}
	if t.SegmentSeconds <= 0 {
		t.SegmentSeconds = 6
	}
	if t.MaxConcurrentTranscodes <= 0 {
		t.MaxConcurrentTranscodes = 2
	}
	if t.RenditionParallelism <= 0 {
		t.RenditionParallelism = 1
	}
	if t.WorkDir == "" {
		t.WorkDir = "./tmp"
	}
	return t
}

// Defaults fills the zero values of the storage config
func (s StorageConfig) Defaults() StorageConfig {
	if s.Backend == "" {
		s.Backend = "local"
	}
	if s.UploadDir == "" {
		s.UploadDir = "./data/in"
	}
	if s.OutputRoot == "" {
		s.OutputRoot = "./data/out"
	}
	if len(s.DefaultQualities) == 0 {
		s.DefaultQualities = []string{"720p", "480p"}
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 2 << 30
	}
	if s.SubmitRetries <= 0 {
		s.SubmitRetries = 3
	}
	return s
}
