// Package worker runs the consume-execute-store loop for one language queue.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"coderun/internal/runner/executor"
	"coderun/internal/runner/metrics"
	"coderun/internal/runner/model"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/repository"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStoreRetries      = 3
	defaultSideEffectTimeout = 5 * time.Second
	defaultRenewInterval     = 10 * time.Second
	defaultSweepInterval     = 30 * time.Second
	leaveTimeout             = 5 * time.Second
)

// TaskQueue is the part of the queue a worker consumes from.
type TaskQueue interface {
	Dequeue(ctx context.Context, lang model.Language, consumer string) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Recover(ctx context.Context, lang model.Language, consumer string) (int, error)

	Acquire(ctx context.Context, lang model.Language, consumer string) (*queue.Lease, error)
	Renew(ctx context.Context, lease *queue.Lease) error
	Release(ctx context.Context, lease *queue.Lease) error
	ReclaimOrphans(ctx context.Context, lang model.Language) (int, error)
}

// ResultWriter stores finished results.
type ResultWriter interface {
	Put(ctx context.Context, taskID string, res model.Result, ttl time.Duration) error
}

// Config holds worker dependencies and settings.
type Config struct {
	Consumer string
	Executor executor.Executor
	Queue    TaskQueue
	Store    ResultWriter

	// Optional post-result side effects. Nil disables them.
	Events  repository.ResultEventPublisher
	Archive repository.ResultArchiver
	History repository.HistoryRecorder
	Health  *Health

	ResultTTL         time.Duration
	StoreRetries      int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	SideEffectTimeout time.Duration
	// RenewInterval must be well below the queue's lease ttl.
	RenewInterval time.Duration
	// SweepInterval is how often an idle worker requeues deliveries of lapsed consumers.
	SweepInterval time.Duration
}

// Worker executes tasks of one language, one at a time.
type Worker struct {
	consumer string
	lang     model.Language
	exec     executor.Executor
	queue    TaskQueue
	store    ResultWriter
	events   repository.ResultEventPublisher
	archive  repository.ResultArchiver
	history  repository.HistoryRecorder
	health   *Health

	resultTTL         time.Duration
	storeRetries      int
	sideEffectTimeout time.Duration
	renewInterval     time.Duration
	sweepInterval     time.Duration
	backoff           *backoff

	// Loop-goroutine state.
	stranded  bool
	lastSweep time.Time
	leaseLost atomic.Bool
}

// New creates a worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if cfg.Consumer == "" {
		return nil, fmt.Errorf("consumer name is required")
	}
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	} else if cfg.StoreRetries == 0 {
		cfg.StoreRetries = defaultStoreRetries
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = defaultSideEffectTimeout
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = defaultRenewInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	w := &Worker{
		consumer:          cfg.Consumer,
		lang:              cfg.Executor.Language(),
		exec:              cfg.Executor,
		queue:             cfg.Queue,
		store:             cfg.Store,
		events:            cfg.Events,
		archive:           cfg.Archive,
		history:           cfg.History,
		health:            cfg.Health,
		resultTTL:         cfg.ResultTTL,
		storeRetries:      cfg.StoreRetries,
		sideEffectTimeout: cfg.SideEffectTimeout,
		renewInterval:     cfg.RenewInterval,
		sweepInterval:     cfg.SweepInterval,
		backoff:           newBackoff(cfg.BackoffBase, cfg.BackoffMax),
	}
	return w, nil
}

// Language returns the queue language this worker consumes.
func (w *Worker) Language() model.Language {
	return w.lang
}

// Run loops until ctx is cancelled. Per-task failures never stop the loop.
// It returns a ConsumerConflict error if another process takes over the consumer name.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithWorker(ctx, w.consumer)
	logger.Info(ctx, "worker started", zap.String("language", string(w.lang)))

	lease := w.acquire(ctx)
	if lease == nil {
		return nil
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.keepLease(runCtx, lease, cancel)
	}()

	if w.recoverInFlight(runCtx) {
		w.sweep(runCtx)
		for runCtx.Err() == nil {
			w.step(runCtx)
		}
	}
	cancel(nil)
	<-renewDone

	if w.leaseLost.Load() {
		err := context.Cause(runCtx)
		logger.Error(ctx, "worker stopped, consumer name taken over", zap.Error(err))
		return err
	}
	w.leave(ctx, lease)
	logger.Info(ctx, "worker stopped", zap.String("language", string(w.lang)))
	return nil
}

// acquire claims the consumer name, waiting out a predecessor's lease.
func (w *Worker) acquire(ctx context.Context) *queue.Lease {
	for {
		lease, err := w.queue.Acquire(ctx, w.lang, w.consumer)
		if err == nil {
			w.backoff.Reset()
			w.health.MarkOK()
			return lease
		}
		delay := w.backoff.Next()
		if appErr.Is(err, appErr.ConsumerConflict) {
			logger.Error(ctx, "consumer name held by another worker", zap.Duration("retry_in", delay))
		} else {
			logger.Error(ctx, "acquire consumer lease failed", zap.Error(err), zap.Duration("retry_in", delay))
		}
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// keepLease renews the lease until ctx ends. Losing the name stops the worker.
func (w *Worker) keepLease(ctx context.Context, lease *queue.Lease, stop context.CancelCauseFunc) {
	ticker := time.NewTicker(w.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := w.queue.Renew(ctx, lease)
		if err == nil {
			continue
		}
		if appErr.Is(err, appErr.ConsumerConflict) {
			w.leaseLost.Store(true)
			stop(err)
			return
		}
		if ctx.Err() == nil {
			logger.Warn(ctx, "renew consumer lease failed", zap.Error(err))
		}
	}
}

// leave requeues anything still parked and gives the name up.
func (w *Worker) leave(ctx context.Context, lease *queue.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer cancel()
	moved, err := w.queue.Recover(ctx, w.lang, w.consumer)
	if err != nil {
		// The lease lapses and a sweeper requeues the list.
		logger.Warn(ctx, "requeue on shutdown failed", zap.Error(err))
	} else if moved > 0 {
		logger.Info(ctx, "requeued unfinished deliveries on shutdown", zap.Int("count", moved))
	}
	if err := w.queue.Release(ctx, lease); err != nil {
		logger.Warn(ctx, "release consumer lease failed", zap.Error(err))
	}
}

// recoverInFlight requeues deliveries a lapsed predecessor with this name left behind.
func (w *Worker) recoverInFlight(ctx context.Context) bool {
	for {
		moved, err := w.queue.Recover(ctx, w.lang, w.consumer)
		if err == nil {
			w.backoff.Reset()
			w.health.MarkOK()
			if moved > 0 {
				logger.Warn(ctx, "requeued unfinished deliveries", zap.Int("count", moved))
			}
			return true
		}
		delay := w.backoff.Next()
		logger.Error(ctx, "recover in-flight deliveries failed", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleepCtx(ctx, delay) {
			return false
		}
	}
}

// idle runs housekeeping between polls. The worker holds no delivery here, so
// anything in its own processing list is stranded.
func (w *Worker) idle(ctx context.Context) {
	if w.stranded {
		moved, err := w.queue.Recover(ctx, w.lang, w.consumer)
		if err != nil {
			logger.Warn(ctx, "requeue stranded deliveries failed", zap.Error(err))
		} else {
			w.stranded = false
			if moved > 0 {
				logger.Warn(ctx, "requeued stranded deliveries", zap.Int("count", moved))
			}
		}
	}
	if time.Since(w.lastSweep) >= w.sweepInterval {
		w.sweep(ctx)
	}
}

func (w *Worker) sweep(ctx context.Context) {
	w.lastSweep = time.Now()
	if _, err := w.queue.ReclaimOrphans(ctx, w.lang); err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "reclaim lapsed consumers failed", zap.Error(err))
	}
}

// step performs one loop iteration.
func (w *Worker) step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "worker iteration panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	d, err := w.queue.Dequeue(ctx, w.lang, w.consumer)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.DequeueError(w.lang)
		w.stranded = true
		delay := w.backoff.Next()
		logger.Warn(ctx, "dequeue failed",
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		sleepCtx(ctx, delay)
		return
	}
	w.backoff.Reset()
	w.health.MarkOK()
	if d == nil {
		w.idle(ctx)
		return
	}
	w.handle(ctx, d)
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	task := d.Task
	taskCtx := logger.WithTask(ctx, task.ID)
	logger.Debug(taskCtx, "task received", zap.Int64("attempt", d.Attempt))

	start := time.Now()
	res := w.execute(taskCtx, task)
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		logger.Warn(taskCtx, "shutdown during execution, requeueing task")
		return
	}
	metrics.ObserveTask(w.lang, res.Status, elapsed)

	if err := w.storeResult(taskCtx, task.ID, res); err != nil {
		logger.Error(taskCtx, "result not stored, leaving task for redelivery",
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		w.stranded = true
		return
	}
	w.health.MarkOK()
	if err := w.queue.Ack(taskCtx, d); err != nil {
		logger.Error(taskCtx, "ack failed", zap.Error(err))
	}
	logger.Info(taskCtx, "task finished",
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("duration_ms", res.DurationMs),
	)
	w.afterStore(taskCtx, task, res, time.Now())
}

// execute runs the task and turns an executor panic into an internal_error result.
func (w *Worker) execute(ctx context.Context, task model.Task) (res model.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "executor panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = model.InternalError(fmt.Errorf("executor panic: %v", r))
		}
	}()
	return w.exec.Execute(ctx, task)
}

// storeResult writes the result, retrying with backoff a bounded number of times.
func (w *Worker) storeResult(ctx context.Context, taskID string, res model.Result) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = w.store.Put(ctx, taskID, res, w.resultTTL); err == nil {
			return nil
		}
		if attempt >= w.storeRetries {
			return err
		}
		delay := ComputeBackoff(attempt, w.backoff.base, w.backoff.max)
		logger.Warn(ctx, "store result failed", zap.Int("attempt", attempt+1), zap.Error(err), zap.Duration("retry_in", delay))
		if !sleepCtx(ctx, delay) {
			return err
		}
	}
}

// afterStore runs the optional side effects. Their failures are only logged.
func (w *Worker) afterStore(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) {
	if w.events != nil {
		w.sideEffect(ctx, "publish result event", func(ctx context.Context) error {
			return w.events.PublishResult(ctx, task, res, finishedAt)
		})
	}
	if w.archive != nil {
		w.sideEffect(ctx, "archive result", func(ctx context.Context) error {
			return w.archive.Archive(ctx, task, res, finishedAt)
		})
	}
	if w.history != nil {
		w.sideEffect(ctx, "record history", func(ctx context.Context) error {
			return w.history.RecordFinished(ctx, task, res, finishedAt)
		})
	}
}

func (w *Worker) sideEffect(ctx context.Context, name string, fn func(context.Context) error) {
	sctx, cancel := context.WithTimeout(ctx, w.sideEffectTimeout)
	defer cancel()
	if err := fn(sctx); err != nil {
		logger.Warn(ctx, name+" failed", zap.Error(err))
	}
}
