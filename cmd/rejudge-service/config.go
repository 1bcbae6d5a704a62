package main

import (
	"fmt"
	"os"
	"time"

	"rejudge/internal/common/cache"
	"rejudge/internal/common/db"
	"rejudge/internal/common/mq"
	"rejudge/internal/common/storage"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/report"
	"rejudge/internal/rejudge/service"
	"rejudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultSweepInterval   = time.Minute
)

// ServerConfig holds HTTP server settings.
// WriteTimeout is zero by default so that progress streams are not cut off.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TopicConfig defines rejudge task topic routing and the judging result topic.
type TopicConfig struct {
	High            string `yaml:"high"`
	Default         string `yaml:"default"`
	Low             string `yaml:"low"`
	JudgingFinished string `yaml:"judgingFinished"`
}

// ConsumerConfig holds settings of the judging result consumer.
type ConsumerConfig struct {
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	PrefetchCount   int           `yaml:"prefetchCount"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	opts := mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		PrefetchCount:   c.PrefetchCount,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
		MessageTTL:      c.MessageTTL,
	}
	opts.SetDefaults()
	return opts
}

// RejudgeConfig holds rejudging settings.
type RejudgeConfig struct {
	KnownVerdicts  []string              `yaml:"knownVerdicts"`
	MaxListLen     int                   `yaml:"maxListLen"`
	LockTTL        time.Duration         `yaml:"lockTTL"`
	ReportCacheTTL time.Duration         `yaml:"reportCacheTTL"`
	RepeatDecision string                `yaml:"repeatDecision"`
	RunLoaders     int                   `yaml:"runLoaders"`
	SweepInterval  time.Duration         `yaml:"sweepInterval"`
	Archive        service.ArchiveConfig `yaml:"archive"`
	Timeouts       service.TimeoutConfig `yaml:"timeouts"`
	Consumer       ConsumerConfig        `yaml:"consumer"`
}

// AppConfig holds rejudge-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Topics   TopicConfig         `yaml:"topics"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Rejudge  RejudgeConfig       `yaml:"rejudge"`
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
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	if cfg.Topics.Default == "" {
		cfg.Topics.Default = "judge.rejudge"
	}
	if cfg.Topics.High == "" {
		cfg.Topics.High = cfg.Topics.Default
	}
	if cfg.Topics.Low == "" {
		cfg.Topics.Low = cfg.Topics.Default
	}
	if cfg.Topics.JudgingFinished == "" {
		cfg.Topics.JudgingFinished = "judge.finished"
	}

	if len(cfg.Rejudge.KnownVerdicts) == 0 {
		cfg.Rejudge.KnownVerdicts = model.DefaultVerdicts
	}
	if cfg.Rejudge.MaxListLen == 0 {
		cfg.Rejudge.MaxListLen = report.DefaultMaxListLen
	}
	if cfg.Rejudge.LockTTL == 0 {
		cfg.Rejudge.LockTTL = 2 * time.Minute
	}
	if cfg.Rejudge.ReportCacheTTL == 0 {
		cfg.Rejudge.ReportCacheTTL = 30 * time.Minute
	}
	if cfg.Rejudge.SweepInterval == 0 {
		cfg.Rejudge.SweepInterval = defaultSweepInterval
	}
	if _, err := service.ParseRepeatDecision(cfg.Rejudge.RepeatDecision); err != nil {
		return nil, err
	}
	if cfg.Rejudge.Archive.Bucket == "" {
		cfg.Rejudge.Archive.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Rejudge.Timeouts.DB == 0 {
		cfg.Rejudge.Timeouts.DB = 3 * time.Second
	}
	if cfg.Rejudge.Timeouts.Cache == 0 {
		cfg.Rejudge.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Rejudge.Timeouts.MQ == 0 {
		cfg.Rejudge.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Rejudge.Timeouts.Storage == 0 {
		cfg.Rejudge.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Rejudge.Timeouts.Batch == 0 {
		cfg.Rejudge.Timeouts.Batch = 2 * time.Minute
	}
	if cfg.Rejudge.Consumer.ConsumerGroup == "" {
		cfg.Rejudge.Consumer.ConsumerGroup = "rejudge-service"
	}

	return &cfg, nil
}
