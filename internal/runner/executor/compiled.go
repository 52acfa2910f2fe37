package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coderun/internal/runner/model"
	"coderun/pkg/utils/logger"

	"go.uber.org/zap"
)

const binaryName = "a.out"

// compiledPipeline is the shared compile-then-run flow in a private temp dir.
type compiledPipeline struct {
	language   model.Language
	sourceName string
	compile    commandTemplate
	run        commandTemplate
	cfg        Config
}

func newCompiledPipeline(lang model.Language, sourceName string, cfg Config) (compiledPipeline, error) {
	cfg = cfg.withDefaults()
	cmds := cfg.commands(lang)
	compile, err := parseCommand(cmds.Compile)
	if err != nil {
		return compiledPipeline{}, fmt.Errorf("%s compile command: %w", lang, err)
	}
	run, err := parseCommand(cmds.Run)
	if err != nil {
		return compiledPipeline{}, fmt.Errorf("%s run command: %w", lang, err)
	}
	return compiledPipeline{
		language:   lang,
		sourceName: sourceName,
		compile:    compile,
		run:        run,
		cfg:        cfg,
	}, nil
}

func (p compiledPipeline) execute(ctx context.Context, task model.Task) model.Result {
	dir, err := os.MkdirTemp(p.cfg.WorkRoot, "task-"+safeName(task.ID)+"-*")
	if err != nil {
		return model.InternalError(fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	srcPath := filepath.Join(dir, p.sourceName)
	if err := os.WriteFile(srcPath, []byte(task.Code), 0o644); err != nil {
		return model.InternalError(fmt.Errorf("write source file: %w", err))
	}
	vars := placeholders{Src: srcPath, Dir: dir, Bin: filepath.Join(dir, binaryName)}

	compiled, err := runProcess(ctx, procSpec{
		Args:        p.compile.expand(vars),
		Dir:         dir,
		Timeout:     p.cfg.CompileTimeout,
		OutputLimit: p.cfg.OutputLimit,
	})
	if err != nil {
		return model.InternalError(err)
	}
	if compiled.TimedOut {
		return model.CompileError(model.CompileTimeoutMessage)
	}
	if compiled.ExitCode != 0 {
		diagnostic := compiled.Stderr
		if strings.TrimSpace(diagnostic) == "" {
			diagnostic = compiled.Stdout
		}
		return model.CompileError(diagnostic)
	}

	stdin := task.Stdin
	if stdin == "" {
		// A program waiting on input must not block until the deadline.
		stdin = "\n"
	}
	return runAndClassify(ctx, procSpec{
		Args:        p.run.expand(vars),
		Dir:         dir,
		Stdin:       stdin,
		Timeout:     p.cfg.RunTimeout,
		OutputLimit: p.cfg.OutputLimit,
	})
}

// CompiledSingleStep compiles main.<ext> into a.out and runs the binary (c, cpp).
type CompiledSingleStep struct {
	pipeline compiledPipeline
}

// NewCompiledSingleStep builds a compiled executor. ext is the source suffix, e.g. ".c".
func NewCompiledSingleStep(lang model.Language, ext string, cfg Config) (*CompiledSingleStep, error) {
	p, err := newCompiledPipeline(lang, "main"+ext, cfg)
	if err != nil {
		return nil, err
	}
	return &CompiledSingleStep{pipeline: p}, nil
}

func (e *CompiledSingleStep) Language() model.Language {
	return e.pipeline.language
}

func (e *CompiledSingleStep) Execute(ctx context.Context, task model.Task) model.Result {
	return e.pipeline.execute(ctx, task)
}

// CompiledFixedEntry writes the source under the one file name the compiler accepts
// for the entry point (Main.java) and runs it from the temp dir as classpath.
type CompiledFixedEntry struct {
	pipeline compiledPipeline
}

// NewCompiledFixedEntry builds a fixed-entry executor around sourceName.
func NewCompiledFixedEntry(lang model.Language, sourceName string, cfg Config) (*CompiledFixedEntry, error) {
	p, err := newCompiledPipeline(lang, sourceName, cfg)
	if err != nil {
		return nil, err
	}
	return &CompiledFixedEntry{pipeline: p}, nil
}

func (e *CompiledFixedEntry) Language() model.Language {
	return e.pipeline.language
}

func (e *CompiledFixedEntry) Execute(ctx context.Context, task model.Task) model.Result {
	return e.pipeline.execute(ctx, task)
}
