package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"coderun/internal/runner/model"
	"coderun/internal/runner/repository"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "executor:\n  runTimeout: 5s\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Worker.Concurrency != 1 || cfg.Worker.ResultTTL != repository.DefaultResultTTL {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Monitor.Addr != defaultMonitorAddr || cfg.Monitor.SampleInterval != defaultSampleInterval {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Events.Topic != "" || cfg.Archive.MinIO.Bucket != "" {
		t.Fatalf("disabled side effects must stay empty: %+v %+v", cfg.Events, cfg.Archive)
	}
	if got := cfg.Worker.languages(); len(got) != len(model.SupportedLanguages) {
		t.Fatalf("expected all languages, got %v", got)
	}
}

func TestLoadAppConfigSideEffectDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "events:\n  kafka:\n    brokers: [\"k:9092\"]\narchive:\n  minio:\n    endpoint: m:9000\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Events.Topic != "coderun.results" || cfg.Archive.MinIO.Bucket != "coderun-results" {
		t.Fatalf("unexpected side effect defaults: %+v %+v", cfg.Events, cfg.Archive)
	}
}

func TestOverrideLanguages(t *testing.T) {
	cfg := WorkerConfig{Languages: []string{"java"}}
	if err := cfg.overrideLanguages("Python, c"); err != nil {
		t.Fatalf("override failed: %v", err)
	}
	got := cfg.languages()
	if len(got) != 2 || got[0] != model.LanguagePython || got[1] != model.LanguageC {
		t.Fatalf("unexpected languages: %v", got)
	}
	if err := cfg.overrideLanguages("all"); err != nil || len(cfg.languages()) != len(model.SupportedLanguages) {
		t.Fatalf("all must select every language: %v %v", cfg.languages(), err)
	}
	if err := cfg.overrideLanguages("go"); err == nil {
		t.Fatalf("expected unsupported language error")
	}
	if _, err := loadAppConfig(writeConfig(t, "worker:\n  languages: [rust]\n")); err == nil {
		t.Fatalf("expected config error for rust")
	}
}

func TestLoadAppConfigLeaseSettings(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "queue:\n  leaseTTL: 12s\nworker:\n  instance: blue\n  sweepInterval: 5s\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Queue.LeaseTTL != 12*time.Second {
		t.Fatalf("unexpected lease ttl: %v", cfg.Queue.LeaseTTL)
	}
	if cfg.Worker.Instance != "blue" || cfg.Worker.SweepInterval != 5*time.Second {
		t.Fatalf("unexpected worker lease settings: %+v", cfg.Worker)
	}
}
