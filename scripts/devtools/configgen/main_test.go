package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func readYAML(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("parse %s failed: %v", path, err)
	}
	return out
}

func TestRunMergesOverridesAndShared(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "api.yaml", "server:\n  addr: \":8080\"\nredis:\n  addr: localhost:6379\n  poolSize: 20\n")
	writeFile(t, dir, "worker.yaml", "redis:\n  addr: localhost:6379\nworker:\n  concurrency: 1\n")
	profile := writeFile(t, dir, "profile.yaml", `
outputDir: out
shared:
  redis:
    addr: redis.internal:6379
  database:
    dsn: "u:p@tcp(db:3306)/coderun"
targets:
  api:
    base: api.yaml
    overrides:
      server:
        addr: ":9000"
  worker:
    base: worker.yaml
    output: worker-dev.yaml
    overrides:
      worker:
        concurrency: 4
`)

	written, err := run(profile, "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected two outputs, got %v", written)
	}

	api := readYAML(t, filepath.Join(dir, "out", "api.yaml"))
	if api["server"].(map[string]interface{})["addr"] != ":9000" {
		t.Fatalf("override not applied: %v", api)
	}
	redis := api["redis"].(map[string]interface{})
	if redis["addr"] != "redis.internal:6379" || redis["poolSize"] != 20 {
		t.Fatalf("shared redis not merged: %v", redis)
	}
	if _, ok := api["database"]; ok {
		t.Fatalf("shared sections must not be added to targets that lack them")
	}

	worker := readYAML(t, filepath.Join(dir, "out", "worker-dev.yaml"))
	if worker["worker"].(map[string]interface{})["concurrency"] != 4 {
		t.Fatalf("worker override not applied: %v", worker)
	}
}

func TestRunRejectsBadProfiles(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.yaml", "outputDir: out\n")
	if _, err := run(empty, ""); err == nil {
		t.Fatalf("expected error for profile without targets")
	}
	noBase := writeFile(t, dir, "nobase.yaml", "outputDir: out\ntargets:\n  api: {}\n")
	if _, err := run(noBase, ""); err == nil {
		t.Fatalf("expected error for target without base")
	}
}
