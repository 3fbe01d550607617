package main

import (
	"fmt"
	"os"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/grade/evaluator"
	"judgeflow/internal/grade/sandbox"
	"judgeflow/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TimeoutConfig holds timeouts for store, cache, queue and object storage calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// GradeConfig holds grading settings.
type GradeConfig struct {
	GradeTimeout       time.Duration `yaml:"gradeTimeout"`
	FinalizeTimeout    time.Duration `yaml:"finalizeTimeout"`
	Parallelism        int           `yaml:"parallelism"`
	MaxCodeBytes       int           `yaml:"maxCodeBytes"`
	IdempotencyTTL     time.Duration `yaml:"idempotencyTTL"`
	SolvedCacheTTL     time.Duration `yaml:"solvedCacheTTL"`
	ProblemCacheTTL    time.Duration `yaml:"problemCacheTTL"`
	ProblemEmptyTTL    time.Duration `yaml:"problemEmptyTTL"`
	SubmissionCacheTTL time.Duration `yaml:"submissionCacheTTL"`
	EventTopic         string        `yaml:"eventTopic"`
	ArchiveSource      bool          `yaml:"archiveSource"`
	SourceBucket       string        `yaml:"sourceBucket"`
	SourceKeyPrefix    string        `yaml:"sourceKeyPrefix"`
	Timeouts           TimeoutConfig `yaml:"timeouts"`
}

// AppConfig holds grade-service configuration.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.MySQLConfig      `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Kafka     mq.KafkaConfig      `yaml:"kafka"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Sandbox   sandbox.Config      `yaml:"sandbox"`
	Evaluator evaluator.Config    `yaml:"evaluator"`
	Grade     GradeConfig         `yaml:"grade"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	if cfg.Evaluator.BaseURL == "" {
		return nil, fmt.Errorf("evaluator baseURL is required")
	}

	if cfg.Grade.GradeTimeout == 0 {
		cfg.Grade.GradeTimeout = 60 * time.Second
	}
	if cfg.Grade.FinalizeTimeout == 0 {
		cfg.Grade.FinalizeTimeout = 10 * time.Second
	}
	if cfg.Grade.Parallelism == 0 {
		cfg.Grade.Parallelism = 1
	}
	if cfg.Grade.MaxCodeBytes == 0 {
		cfg.Grade.MaxCodeBytes = 64 * 1024
	}
	if cfg.Grade.IdempotencyTTL == 0 {
		cfg.Grade.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Grade.SolvedCacheTTL == 0 {
		cfg.Grade.SolvedCacheTTL = 24 * time.Hour
	}
	if cfg.Grade.ProblemCacheTTL == 0 {
		cfg.Grade.ProblemCacheTTL = 10 * time.Minute
	}
	if cfg.Grade.ProblemEmptyTTL == 0 {
		cfg.Grade.ProblemEmptyTTL = time.Minute
	}
	if cfg.Grade.SubmissionCacheTTL == 0 {
		cfg.Grade.SubmissionCacheTTL = 30 * time.Minute
	}
	if cfg.Grade.EventTopic == "" {
		cfg.Grade.EventTopic = "grade.submission.finalized"
	}
	if cfg.Grade.SourceBucket == "" {
		cfg.Grade.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Grade.Timeouts.DB == 0 {
		cfg.Grade.Timeouts.DB = 3 * time.Second
	}
	if cfg.Grade.Timeouts.Cache == 0 {
		cfg.Grade.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Grade.Timeouts.MQ == 0 {
		cfg.Grade.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Grade.Timeouts.Storage == 0 {
		cfg.Grade.Timeouts.Storage = 5 * time.Second
	}
	return &cfg, nil
}
