// Package queue implements the per-language task queue on Redis lists.
//
// Producers LPUSH onto "<language>_code_queue". A consumer pops from the right
// into its own processing list, so an item stays visible until the worker acks
// it after the result is stored. Items that keep failing are moved to a dead list.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPollTimeout   = time.Second
	defaultMaxDeliveries = 3
	defaultLeaseTTL      = 30 * time.Second
)

// Config controls dequeue behaviour.
type Config struct {
	// PollTimeout bounds one blocking pop so cancellation is observed between pops.
	PollTimeout time.Duration `yaml:"pollTimeout"`
	// MaxDeliveries is how many times a task may be handed out before it is dead-lettered.
	MaxDeliveries int64 `yaml:"maxDeliveries"`
	// LeaseTTL is how long a consumer stays owner of its processing list without renewing.
	LeaseTTL time.Duration `yaml:"leaseTTL"`
}

// Queue is a Redis-backed FIFO per language.
type Queue struct {
	cache         cache.Cache
	pollTimeout   time.Duration
	maxDeliveries int64
	leaseTTL      time.Duration
}

// Delivery is one task handed to one consumer. It must be acked or dead-lettered.
type Delivery struct {
	Task    model.Task
	Payload string
	Attempt int64

	language      model.Language
	processingKey string
}

// New creates a queue on top of the cache.
func New(cacheClient cache.Cache, cfg Config) *Queue {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	return &Queue{
		cache:         cacheClient,
		pollTimeout:   cfg.PollTimeout,
		maxDeliveries: cfg.MaxDeliveries,
		leaseTTL:      cfg.LeaseTTL,
	}
}

// LeaseTTL reports how long a consumer lease lasts without renewal.
func (q *Queue) LeaseTTL() time.Duration {
	return q.leaseTTL
}

// ProcessingKey is the in-flight list owned by one consumer.
func ProcessingKey(lang model.Language, consumer string) string {
	return model.QueueKey(lang) + ":processing:" + consumer
}

// AttemptsKey is the hash counting deliveries per task id.
func AttemptsKey(lang model.Language) string {
	return model.QueueKey(lang) + ":attempts"
}

// DeadKey is the list of payloads that will not be retried.
func DeadKey(lang model.Language) string {
	return model.QueueKey(lang) + ":dead"
}

// Enqueue appends the task to the tail of its language queue.
func (q *Queue) Enqueue(ctx context.Context, task model.Task) error {
	if q.cache == nil {
		return appErr.New(appErr.QueueUnavailable).WithMessage("queue cache is not configured")
	}
	payload, err := task.Encode()
	if err != nil {
		return appErr.Wrap(err, appErr.TaskCreateFailed)
	}
	if err := q.cache.LPush(ctx, model.QueueKey(task.Language), payload); err != nil {
		return appErr.QueueUnavailableError(fmt.Errorf("lpush %s: %w", model.QueueKey(task.Language), err))
	}
	return nil
}

// Dequeue blocks for at most one poll window and returns the next task, or nil if none arrived.
// The returned delivery stays in the consumer's processing list until Ack or DeadLetter.
func (q *Queue) Dequeue(ctx context.Context, lang model.Language, consumer string) (*Delivery, error) {
	processingKey := ProcessingKey(lang, consumer)
	payload, err := q.cache.BLMove(ctx, model.QueueKey(lang), processingKey, q.pollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "dequeue %s failed", lang)
	}
	if payload == "" {
		return nil, nil
	}

	delivery := &Delivery{Payload: payload, language: lang, processingKey: processingKey}
	task, err := model.DecodeTask(payload)
	if err != nil {
		logger.Warn(ctx, "undecodable task payload", zap.String("language", string(lang)), zap.Error(err))
		if dlErr := q.DeadLetter(ctx, delivery); dlErr != nil {
			q.requeueAfterFailure(ctx, delivery)
			return nil, dlErr
		}
		return nil, nil
	}
	delivery.Task = task

	attempt, err := q.cache.HIncrBy(ctx, AttemptsKey(lang), task.ID, 1)
	if err != nil {
		q.requeueAfterFailure(ctx, delivery)
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "count delivery of %s failed", task.ID)
	}
	delivery.Attempt = attempt
	if attempt > q.maxDeliveries {
		logger.Warn(logger.WithTask(ctx, task.ID), "task exceeded delivery attempts",
			zap.Int64("attempt", attempt),
			zap.Int64("max_deliveries", q.maxDeliveries),
		)
		if err := q.DeadLetter(ctx, delivery); err != nil {
			q.requeueAfterFailure(ctx, delivery)
			return nil, err
		}
		return nil, nil
	}
	return delivery, nil
}

// Ack removes a finished delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	err := q.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.LRem(d.processingKey, 1, d.Payload); err != nil {
			return err
		}
		if d.Task.ID != "" {
			return pipe.HDel(AttemptsKey(d.language), d.Task.ID)
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "ack %s failed", d.Task.ID)
	}
	return nil
}

// Requeue puts an unprocessed delivery back at the consumer end of its queue,
// so it is the next one handed out.
func (q *Queue) Requeue(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	err := q.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.LRem(d.processingKey, 1, d.Payload); err != nil {
			return err
		}
		return pipe.RPush(model.QueueKey(d.language), d.Payload)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "requeue on %s failed", d.language)
	}
	return nil
}

// requeueAfterFailure keeps a delivery that could not be handed out from staying
// parked. If this fails too, the owner's idle Recover picks it up.
func (q *Queue) requeueAfterFailure(ctx context.Context, d *Delivery) {
	if err := q.Requeue(ctx, d); err != nil {
		logger.Warn(ctx, "requeue of parked delivery failed",
			zap.String("language", string(d.language)),
			zap.Error(err),
		)
	}
}

// DeadLetter parks the payload on the dead list and drops it from the processing list.
func (q *Queue) DeadLetter(ctx context.Context, d *Delivery) error {
	err := q.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.LRem(d.processingKey, 1, d.Payload); err != nil {
			return err
		}
		if err := pipe.LPush(DeadKey(d.language), d.Payload); err != nil {
			return err
		}
		if d.Task.ID != "" {
			return pipe.HDel(AttemptsKey(d.language), d.Task.ID)
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.PoisonTask, "dead-letter on %s failed", d.language)
	}
	return nil
}

// Recover moves every item left in the consumer's processing list back to the
// head of the queue, so the next pop redelivers it. It returns the number moved.
// Only the lease holder of consumer, or a sweeper that saw the lease lapse, may call it.
func (q *Queue) Recover(ctx context.Context, lang model.Language, consumer string) (int, error) {
	processingKey := ProcessingKey(lang, consumer)
	moved := 0
	for {
		payload, err := q.cache.LMove(ctx, processingKey, model.QueueKey(lang), "RIGHT", "RIGHT")
		if err != nil {
			return moved, appErr.Wrapf(err, appErr.CacheError, "recover %s failed", processingKey)
		}
		if payload == "" {
			return moved, nil
		}
		moved++
	}
}

// Len reports the number of tasks waiting in the language queue.
func (q *Queue) Len(ctx context.Context, lang model.Language) (int64, error) {
	n, err := q.cache.LLen(ctx, model.QueueKey(lang))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "queue length of %s failed", lang)
	}
	return n, nil
}

// DeadLen reports the number of dead-lettered payloads for the language.
func (q *Queue) DeadLen(ctx context.Context, lang model.Language) (int64, error) {
	n, err := q.cache.LLen(ctx, DeadKey(lang))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "dead list length of %s failed", lang)
	}
	return n, nil
}

// Ping checks broker connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if q.cache == nil {
		return appErr.New(appErr.QueueUnavailable)
	}
	return q.cache.Ping(ctx)
}

// ConsumerName builds a consumer id from the host, a per-process instance id and a loop index.
// Two processes on one host must use different instance ids.
func ConsumerName(host, instance string, index int) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "worker"
	}
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return fmt.Sprintf("%s-%d", host, index)
	}
	return fmt.Sprintf("%s-%s-%d", host, instance, index)
}

// NewInstanceID returns a random id for one worker process.
func NewInstanceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
