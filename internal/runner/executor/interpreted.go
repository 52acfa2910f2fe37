package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"coderun/internal/runner/model"
	"coderun/pkg/utils/logger"

	"go.uber.org/zap"
)

// Interpreted runs the source file directly with an interpreter.
type Interpreted struct {
	language model.Language
	ext      string
	run      commandTemplate
	cfg      Config
}

// NewInterpreted builds an interpreted executor. ext is the source file suffix, e.g. ".py".
func NewInterpreted(lang model.Language, ext string, cfg Config) (*Interpreted, error) {
	cfg = cfg.withDefaults()
	run, err := parseCommand(cfg.commands(lang).Run)
	if err != nil {
		return nil, fmt.Errorf("%s run command: %w", lang, err)
	}
	return &Interpreted{language: lang, ext: ext, run: run, cfg: cfg}, nil
}

func (e *Interpreted) Language() model.Language {
	return e.language
}

// Execute runs the task in a private directory so tasks never see each other's files.
func (e *Interpreted) Execute(ctx context.Context, task model.Task) model.Result {
	dir, err := os.MkdirTemp(e.cfg.WorkRoot, "task-"+safeName(task.ID)+"-*")
	if err != nil {
		return model.InternalError(fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	srcPath := filepath.Join(dir, "main"+e.ext)
	if err := os.WriteFile(srcPath, []byte(task.Code), 0o644); err != nil {
		return model.InternalError(fmt.Errorf("write source file: %w", err))
	}

	return runAndClassify(ctx, procSpec{
		Args:        e.run.expand(placeholders{Src: srcPath, Dir: dir}),
		Dir:         dir,
		Stdin:       task.Stdin,
		Timeout:     e.cfg.RunTimeout,
		OutputLimit: e.cfg.OutputLimit,
	})
}

// runAndClassify runs the program step and maps the outcome to a result.
func runAndClassify(ctx context.Context, spec procSpec) model.Result {
	res, err := runProcess(ctx, spec)
	if err != nil {
		return model.InternalError(err)
	}
	if res.TimedOut {
		return model.Timeout(res.Duration.Milliseconds())
	}
	return model.Success(res.Stdout, res.Stderr, res.ExitCode, res.Duration.Milliseconds())
}

// safeName keeps temp names predictable even for odd task ids.
func safeName(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}
