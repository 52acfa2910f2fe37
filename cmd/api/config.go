package main

import (
	"fmt"
	"os"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/common/db"
	commonmw "coderun/internal/common/http/middleware"
	"coderun/internal/runner/model"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/service"
	"coderun/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 40 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TaskConfig holds submission settings.
type TaskConfig struct {
	Languages     []string              `yaml:"languages"`
	MaxCodeBytes  int                   `yaml:"maxCodeBytes"`
	MaxInputBytes int                   `yaml:"maxInputBytes"`
	WatchInterval time.Duration         `yaml:"watchInterval"`
	WatchTimeout  time.Duration         `yaml:"watchTimeout"`
	Timeouts      service.TimeoutConfig `yaml:"timeouts"`
}

// EdgeConfig holds browser and abuse policies for the public routes.
type EdgeConfig struct {
	CORS        commonmw.CORSConfig      `yaml:"cors"`
	SubmitLimit commonmw.RateLimitPolicy `yaml:"submitLimit"`
}

// AppConfig holds api configuration.
type AppConfig struct {
	Server ServerConfig      `yaml:"server"`
	Logger logger.Config     `yaml:"logger"`
	Redis  cache.RedisConfig `yaml:"redis"`
	Queue  queue.Config      `yaml:"queue"`
	Task   TaskConfig        `yaml:"task"`
	Edge   EdgeConfig        `yaml:"edge"`
	// Database enables the execution history table when dsn is set.
	Database db.MySQLConfig `yaml:"database"`
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
	applyServerDefaults(&cfg.Server)
	applyRedisDefaults(&cfg.Redis)
	if err := applyTaskDefaults(&cfg.Task); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func applyTaskDefaults(cfg *TaskConfig) error {
	for _, raw := range cfg.Languages {
		if _, ok := model.ParseLanguage(raw); !ok {
			return fmt.Errorf("task.languages: %q is not supported", raw)
		}
	}
	if cfg.MaxCodeBytes == 0 {
		cfg.MaxCodeBytes = 64 * 1024
	}
	if cfg.MaxInputBytes == 0 {
		cfg.MaxInputBytes = 64 * 1024
	}
	if cfg.WatchInterval == 0 {
		cfg.WatchInterval = 200 * time.Millisecond
	}
	if cfg.WatchTimeout == 0 {
		cfg.WatchTimeout = 30 * time.Second
	}
	if cfg.Timeouts.Cache == 0 {
		cfg.Timeouts.Cache = 2 * time.Second
	}
	if cfg.Timeouts.DB == 0 {
		cfg.Timeouts.DB = 3 * time.Second
	}
	return nil
}

func (c TaskConfig) languages() []model.Language {
	out := make([]model.Language, 0, len(c.Languages))
	for _, raw := range c.Languages {
		lang, _ := model.ParseLanguage(raw)
		out = append(out, lang)
	}
	return out
}
