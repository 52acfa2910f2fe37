// Package service implements task submission and result polling for the api.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coderun/internal/runner/metrics"
	"coderun/internal/runner/model"
	"coderun/internal/runner/repository"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes  = 64 << 10
	defaultMaxInputBytes = 64 << 10
	defaultWatchInterval = 200 * time.Millisecond
	defaultWatchTimeout  = 30 * time.Second
)

// Enqueuer accepts new tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task model.Task) error
}

// ResultReader loads finished results.
type ResultReader interface {
	Get(ctx context.Context, taskID string) (model.Result, bool, error)
}

// TimeoutConfig bounds calls to external systems.
type TimeoutConfig struct {
	Cache time.Duration
	DB    time.Duration
}

// Config holds task service dependencies and settings.
type Config struct {
	Queue   Enqueuer
	Results ResultReader
	History repository.HistoryRecorder

	// Languages accepted by Submit. Empty means every language a worker can serve.
	Languages     []model.Language
	MaxCodeBytes  int
	MaxInputBytes int
	WatchInterval time.Duration
	WatchTimeout  time.Duration
	Timeouts      TimeoutConfig
}

// SubmitInput is one submission request.
type SubmitInput struct {
	Language string
	Code     string
	Input    string
}

// SubmitOutput acknowledges an accepted task.
type SubmitOutput struct {
	TaskID string       `json:"task_id"`
	Status model.Status `json:"status"`
}

// TaskService accepts tasks and reports their results.
type TaskService struct {
	queue         Enqueuer
	results       ResultReader
	history       repository.HistoryRecorder
	languages     map[model.Language]struct{}
	ordered       []model.Language
	maxCodeBytes  int
	maxInputBytes int
	watchInterval time.Duration
	watchTimeout  time.Duration
	timeouts      TimeoutConfig

	now   func() time.Time
	newID func() string
}

// NewTaskService creates a task service.
func NewTaskService(cfg Config) (*TaskService, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result reader is required")
	}
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = model.SupportedLanguages
	}
	s := &TaskService{
		queue:         cfg.Queue,
		results:       cfg.Results,
		history:       cfg.History,
		languages:     make(map[model.Language]struct{}, len(langs)),
		maxCodeBytes:  cfg.MaxCodeBytes,
		maxInputBytes: cfg.MaxInputBytes,
		watchInterval: cfg.WatchInterval,
		watchTimeout:  cfg.WatchTimeout,
		timeouts:      cfg.Timeouts,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, lang := range langs {
		parsed, ok := model.ParseLanguage(string(lang))
		if !ok {
			return nil, fmt.Errorf("language %q has no executor", lang)
		}
		if _, dup := s.languages[parsed]; dup {
			continue
		}
		s.languages[parsed] = struct{}{}
		s.ordered = append(s.ordered, parsed)
	}
	if s.maxCodeBytes <= 0 {
		s.maxCodeBytes = defaultMaxCodeBytes
	}
	if s.maxInputBytes <= 0 {
		s.maxInputBytes = defaultMaxInputBytes
	}
	if s.watchInterval <= 0 {
		s.watchInterval = defaultWatchInterval
	}
	if s.watchTimeout <= 0 {
		s.watchTimeout = defaultWatchTimeout
	}
	return s, nil
}

// Languages returns the accepted languages in configuration order.
func (s *TaskService) Languages() []model.Language {
	out := make([]model.Language, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Submit validates and enqueues a task. Nothing is enqueued when validation fails.
func (s *TaskService) Submit(ctx context.Context, input SubmitInput) (SubmitOutput, error) {
	lang, err := s.validate(input)
	if err != nil {
		metrics.Submission(model.Language(strings.ToLower(strings.TrimSpace(input.Language))), metrics.OutcomeRejected)
		return SubmitOutput{}, err
	}

	task := model.Task{
		ID:          s.newID(),
		Language:    lang,
		Code:        input.Code,
		Stdin:       input.Input,
		SubmittedAt: s.now().Unix(),
	}
	ctx = logger.WithTask(ctx, task.ID)

	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.queue.Enqueue(ctxCache.ctx, task); err != nil {
		metrics.Submission(lang, metrics.OutcomeUnavailable)
		return SubmitOutput{}, err
	}
	metrics.Submission(lang, metrics.OutcomeQueued)
	logger.Info(ctx, "task queued", zap.String("language", string(lang)), zap.Int("code_bytes", len(task.Code)))

	if s.history != nil {
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		defer ctxDB.cancel()
		if err := s.history.RecordQueued(ctxDB.ctx, task); err != nil {
			logger.Warn(ctx, "record queued task failed", zap.Error(err))
		}
	}
	return SubmitOutput{TaskID: task.ID, Status: model.StatusQueued}, nil
}

func (s *TaskService) validate(input SubmitInput) (model.Language, error) {
	lang, ok := model.ParseLanguage(input.Language)
	if !ok {
		return "", appErr.UnsupportedLanguage(input.Language)
	}
	if _, enabled := s.languages[lang]; !enabled {
		return "", appErr.UnsupportedLanguage(input.Language)
	}
	if strings.TrimSpace(input.Code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if len(input.Code) > s.maxCodeBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.maxCodeBytes).
			WithDetail("limit", s.maxCodeBytes)
	}
	if len(input.Input) > s.maxInputBytes {
		return "", appErr.Newf(appErr.InputTooLarge, "input exceeds %d bytes", s.maxInputBytes).
			WithDetail("limit", s.maxInputBytes)
	}
	return lang, nil
}

// Poll returns the stored result, or a pending view when there is none.
// Unknown, in-flight and expired tasks all poll as pending.
func (s *TaskService) Poll(ctx context.Context, taskID string) (model.TaskView, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return model.TaskView{}, appErr.ValidationError("task_id", "required")
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	res, found, err := s.results.Get(ctxCache.ctx, taskID)
	if err != nil {
		return model.TaskView{}, err
	}
	if !found {
		return model.PendingView(taskID), nil
	}
	return model.DoneView(taskID, res), nil
}

// Watch polls until the task has a result, the watch window elapses, or ctx is done.
// It returns the last view observed; a pending view means no result arrived in time.
func (s *TaskService) Watch(ctx context.Context, taskID string) (model.TaskView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.watchTimeout)
	defer cancel()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	for {
		view, err := s.Poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return model.PendingView(taskID), nil
			}
			return model.TaskView{}, err
		}
		if view.Done() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, nil
		case <-ticker.C:
		}
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
