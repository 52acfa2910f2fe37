package repository

import (
	"context"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
)

// DefaultResultTTL is how long a finished result stays pollable.
const DefaultResultTTL = 60 * time.Second

// ResultStore keeps finished results in Redis under result:<task id>.
type ResultStore struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewResultStore creates a result store. A zero ttl means DefaultResultTTL.
func NewResultStore(cacheClient cache.Cache, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultStore{cache: cacheClient, TTL: ttl}
}

// Put stores the result, replacing any previous value, expiring after ttl
// (the store default when ttl is zero).
func (s *ResultStore) Put(ctx context.Context, taskID string, res model.Result, ttl time.Duration) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	if s.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if ttl <= 0 {
		ttl = s.TTL
	}
	payload, err := res.Encode()
	if err != nil {
		return appErr.Wrap(err, appErr.ResultStoreFailed)
	}
	if err := s.cache.Set(ctx, model.ResultKey(taskID), payload, ttl); err != nil {
		return appErr.Wrapf(err, appErr.ResultStoreFailed, "store result failed")
	}
	return nil
}

// Get returns the stored result. found is false when the task has no result yet
// or its result already expired; the two cases are indistinguishable.
func (s *ResultStore) Get(ctx context.Context, taskID string) (model.Result, bool, error) {
	if taskID == "" {
		return model.Result{}, false, appErr.ValidationError("task_id", "required")
	}
	if s.cache == nil {
		return model.Result{}, false, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := s.cache.Get(ctx, model.ResultKey(taskID))
	if err != nil {
		return model.Result{}, false, appErr.Wrapf(err, appErr.CacheError, "load result failed")
	}
	if val == "" {
		return model.Result{}, false, nil
	}
	res, err := model.DecodeResult(val)
	if err != nil {
		return model.Result{}, false, appErr.Wrapf(err, appErr.CacheError, "decode result failed")
	}
	return res, true, nil
}
