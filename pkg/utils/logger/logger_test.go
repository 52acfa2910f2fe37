package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestContextFieldsReachOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}

	ctx := WithWorker(WithTask(context.Background(), "t-1"), "host-0")
	l.WithContext(ctx).Info("task finished", zap.String("status", "success"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"task_id":"t-1"`, `"worker_id":"host-0"`, `"status":"success"`, `"level":"info"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}

func TestGlobalHelpersAreSafeBeforeInit(t *testing.T) {
	Info(context.Background(), "dropped")
	Error(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without logger must be a no-op: %v", err)
	}
}
