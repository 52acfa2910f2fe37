package executor

import (
	"os"
	"time"

	"coderun/internal/runner/model"
)

const (
	DefaultRunTimeout     = 5 * time.Second
	DefaultCompileTimeout = 10 * time.Second
	DefaultOutputLimit    = 1 << 20
)

// Config controls every executor built by NewRegistry.
type Config struct {
	// WorkRoot is where per-task temp files and dirs are created. Empty means os.TempDir().
	WorkRoot       string                    `yaml:"workRoot"`
	RunTimeout     time.Duration             `yaml:"runTimeout"`
	CompileTimeout time.Duration             `yaml:"compileTimeout"`
	OutputLimit    int64                     `yaml:"outputLimit"`
	Languages      map[string]LanguageConfig `yaml:"languages"`
}

// LanguageConfig overrides the command templates of one language.
// Templates are shell-like strings; {src}, {dir} and {bin} are substituted per task.
type LanguageConfig struct {
	Compile string `yaml:"compile"`
	Run     string `yaml:"run"`
}

// DefaultLanguages returns the stock toolchain commands.
func DefaultLanguages() map[model.Language]LanguageConfig {
	return map[model.Language]LanguageConfig{
		model.LanguagePython: {Run: "python3 {src}"},
		model.LanguageC:      {Compile: "gcc {src} -o {bin}", Run: "{bin}"},
		model.LanguageCPP:    {Compile: "g++ {src} -o {bin}", Run: "{bin}"},
		model.LanguageJava:   {Compile: "javac {src}", Run: "java -cp {dir} Main"},
	}
}

func (c Config) withDefaults() Config {
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = DefaultCompileTimeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = DefaultOutputLimit
	}
	return c
}

func (c Config) commands(lang model.Language) LanguageConfig {
	cmds := DefaultLanguages()[lang]
	if override, ok := c.Languages[string(lang)]; ok {
		if override.Compile != "" {
			cmds.Compile = override.Compile
		}
		if override.Run != "" {
			cmds.Run = override.Run
		}
	}
	return cmds
}
