package queue

import (
	"context"

	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lease is one process's ownership of a consumer name and its processing list.
// The owner renews it while alive; once it lapses any sweeper may reclaim the list.
type Lease struct {
	Language model.Language
	Consumer string
	token    string
}

// LeaseKey holds the token of the live owner of a consumer name.
func LeaseKey(lang model.Language, consumer string) string {
	return model.QueueKey(lang) + ":lease:" + consumer
}

// ConsumersKey is the set of consumer names that may own a processing list.
func ConsumersKey(lang model.Language) string {
	return model.QueueKey(lang) + ":consumers"
}

// Acquire claims consumer for this process. It fails with ConsumerConflict while
// another live process holds the name.
func (q *Queue) Acquire(ctx context.Context, lang model.Language, consumer string) (*Lease, error) {
	lease := &Lease{Language: lang, Consumer: consumer, token: uuid.NewString()}
	ok, err := q.cache.SetNX(ctx, LeaseKey(lang, consumer), lease.token, q.leaseTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "acquire lease for %s failed", consumer)
	}
	if !ok {
		return nil, appErr.New(appErr.ConsumerConflict).WithMessagef("consumer %s is held by a live worker", consumer)
	}
	if err := q.cache.SAdd(ctx, ConsumersKey(lang), consumer); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "register consumer %s failed", consumer)
	}
	return lease, nil
}

// Renew extends the lease. It fails with ConsumerConflict once another process
// has taken the name, after which the caller must stop consuming.
func (q *Queue) Renew(ctx context.Context, lease *Lease) error {
	key := LeaseKey(lease.Language, lease.Consumer)
	holder, err := q.cache.Get(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "read lease for %s failed", lease.Consumer)
	}
	switch holder {
	case lease.token:
		err = q.cache.Expire(ctx, key, q.leaseTTL)
	case "":
		// Lapsed but unclaimed: take it back.
		var ok bool
		ok, err = q.cache.SetNX(ctx, key, lease.token, q.leaseTTL)
		if err == nil && !ok {
			return appErr.New(appErr.ConsumerConflict).WithMessagef("consumer %s was taken over", lease.Consumer)
		}
	default:
		return appErr.New(appErr.ConsumerConflict).WithMessagef("consumer %s was taken over", lease.Consumer)
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "renew lease for %s failed", lease.Consumer)
	}
	// A sweeper may have dropped the name while the lease was lapsed.
	if err := q.cache.SAdd(ctx, ConsumersKey(lease.Language), lease.Consumer); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "register consumer %s failed", lease.Consumer)
	}
	return nil
}

// Release gives the name up if this process still holds it. The consumer stays
// registered so a list it could not drain is still found by ReclaimOrphans.
func (q *Queue) Release(ctx context.Context, lease *Lease) error {
	key := LeaseKey(lease.Language, lease.Consumer)
	holder, err := q.cache.Get(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "read lease for %s failed", lease.Consumer)
	}
	if holder != lease.token {
		return nil
	}
	if err := q.cache.Del(ctx, key); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release lease for %s failed", lease.Consumer)
	}
	return nil
}

// ReclaimOrphans requeues the processing lists of registered consumers whose
// lease has lapsed and forgets consumers left with nothing in flight.
func (q *Queue) ReclaimOrphans(ctx context.Context, lang model.Language) (int, error) {
	consumers, err := q.cache.SMembers(ctx, ConsumersKey(lang))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "list %s consumers failed", lang)
	}
	total := 0
	for _, consumer := range consumers {
		holder, err := q.cache.Get(ctx, LeaseKey(lang, consumer))
		if err != nil {
			return total, appErr.Wrapf(err, appErr.CacheError, "read lease for %s failed", consumer)
		}
		if holder != "" {
			continue
		}
		moved, err := q.Recover(ctx, lang, consumer)
		total += moved
		if err != nil {
			return total, err
		}
		if moved > 0 {
			logger.Warn(ctx, "reclaimed deliveries of a lapsed consumer",
				zap.String("language", string(lang)),
				zap.String("consumer", consumer),
				zap.Int("count", moved),
			)
		}
		if err := q.cache.SRem(ctx, ConsumersKey(lang), consumer); err != nil {
			return total, appErr.Wrapf(err, appErr.CacheError, "forget consumer %s failed", consumer)
		}
	}
	return total, nil
}
