package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/common/db"
	"coderun/internal/common/mq"
	"coderun/internal/common/storage"
	"coderun/internal/runner/executor"
	"coderun/internal/runner/model"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/repository"
	"coderun/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultMonitorAddr     = "0.0.0.0:9091"
	defaultSampleInterval  = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// WorkerConfig holds loop settings shared by every worker instance.
type WorkerConfig struct {
	// Languages limits which queues this process consumes. Empty means all.
	Languages         []string      `yaml:"languages"`
	Concurrency       int           `yaml:"concurrency"`
	ResultTTL         time.Duration `yaml:"resultTTL"`
	StoreRetries      int           `yaml:"storeRetries"`
	BackoffBase       time.Duration `yaml:"backoffBase"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
	SideEffectTimeout time.Duration `yaml:"sideEffectTimeout"`
	// Instance tells processes on one host apart. Empty means a random id per start.
	Instance      string        `yaml:"instance"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// MonitorConfig holds the health and metrics listener.
type MonitorConfig struct {
	Addr           string        `yaml:"addr"`
	ReadyWindow    time.Duration `yaml:"readyWindow"`
	SampleInterval time.Duration `yaml:"sampleInterval"`
}

// EventsConfig enables result events when kafka brokers are set.
type EventsConfig struct {
	Kafka mq.KafkaConfig `yaml:"kafka"`
	Topic string         `yaml:"topic"`
}

// ArchiveConfig enables result archiving when an endpoint is set.
type ArchiveConfig struct {
	MinIO storage.MinIOConfig `yaml:"minio"`
}

// AppConfig holds worker configuration.
type AppConfig struct {
	Logger   logger.Config     `yaml:"logger"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Queue    queue.Config      `yaml:"queue"`
	Worker   WorkerConfig      `yaml:"worker"`
	Executor executor.Config   `yaml:"executor"`
	Monitor  MonitorConfig     `yaml:"monitor"`
	Events   EventsConfig      `yaml:"events"`
	Archive  ArchiveConfig     `yaml:"archive"`
	Database db.MySQLConfig    `yaml:"database"`
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
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = cache.DefaultRedisConfig().Addr
	}
	if err := applyWorkerDefaults(&cfg.Worker); err != nil {
		return nil, err
	}
	if cfg.Monitor.Addr == "" {
		cfg.Monitor.Addr = defaultMonitorAddr
	}
	if cfg.Monitor.SampleInterval == 0 {
		cfg.Monitor.SampleInterval = defaultSampleInterval
	}
	if len(cfg.Events.Kafka.Brokers) > 0 && cfg.Events.Topic == "" {
		cfg.Events.Topic = "coderun.results"
	}
	if cfg.Archive.MinIO.Endpoint != "" && cfg.Archive.MinIO.Bucket == "" {
		cfg.Archive.MinIO.Bucket = "coderun-results"
	}
	return &cfg, nil
}

func applyWorkerDefaults(cfg *WorkerConfig) error {
	for _, raw := range cfg.Languages {
		if _, ok := model.ParseLanguage(raw); !ok {
			return fmt.Errorf("worker.languages: %q is not supported", raw)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = repository.DefaultResultTTL
	}
	return nil
}

// overrideLanguages applies the -language flag. "all" or empty keeps the file setting.
func (c *WorkerConfig) overrideLanguages(flagValue string) error {
	flagValue = strings.TrimSpace(flagValue)
	if flagValue == "" {
		return nil
	}
	if strings.EqualFold(flagValue, "all") {
		c.Languages = nil
		return nil
	}
	var out []string
	for _, raw := range strings.Split(flagValue, ",") {
		lang, ok := model.ParseLanguage(raw)
		if !ok {
			return fmt.Errorf("-language: %q is not supported", raw)
		}
		out = append(out, string(lang))
	}
	c.Languages = out
	return nil
}

func (c WorkerConfig) languages() []model.Language {
	if len(c.Languages) == 0 {
		return append([]model.Language(nil), model.SupportedLanguages...)
	}
	out := make([]model.Language, 0, len(c.Languages))
	for _, raw := range c.Languages {
		lang, _ := model.ParseLanguage(raw)
		out = append(out, lang)
	}
	return out
}
