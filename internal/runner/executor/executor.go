// Package executor turns a task into a classified result by compiling and running it
// as a child process.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coderun/internal/runner/model"
)

// Executor runs tasks of one language. Execute never returns an error:
// every failure is reported through the result status.
type Executor interface {
	Language() model.Language
	Execute(ctx context.Context, task model.Task) model.Result
}

// Registry maps language tags to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[model.Language]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[model.Language]Executor)}
}

// NewDefaultRegistry registers the stock python, c, cpp and java executors.
func NewDefaultRegistry(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	reg := NewRegistry()

	python, err := NewInterpreted(model.LanguagePython, ".py", cfg)
	if err != nil {
		return nil, err
	}
	c, err := NewCompiledSingleStep(model.LanguageC, ".c", cfg)
	if err != nil {
		return nil, err
	}
	cpp, err := NewCompiledSingleStep(model.LanguageCPP, ".cpp", cfg)
	if err != nil {
		return nil, err
	}
	java, err := NewCompiledFixedEntry(model.LanguageJava, "Main.java", cfg)
	if err != nil {
		return nil, err
	}
	for _, e := range []Executor{python, c, cpp, java} {
		reg.Register(e)
	}
	return reg, nil
}

// Register adds or replaces the executor for its language.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Language()] = e
}

// Get returns the executor for the language.
func (r *Registry) Get(lang model.Language) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[lang]
	return e, ok
}

// MustGet returns the executor for the language or an error naming it.
func (r *Registry) MustGet(lang model.Language) (Executor, error) {
	e, ok := r.Get(lang)
	if !ok {
		return nil, fmt.Errorf("no executor registered for %q", lang)
	}
	return e, nil
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []model.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Language, 0, len(r.executors))
	for lang := range r.executors {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
