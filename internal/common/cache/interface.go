package cache

import (
	"context"
	"time"
)

// Cache defines the subset of Redis used by the task queue and the result store.
// Implementations must return "" with a nil error for missing keys and for
// blocking pops that time out.
type Cache interface {
	BasicOps
	CounterOps
	HashOps
	ListOps
	SetOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// CounterOps backs fixed-window counters.
type CounterOps interface {
	// SetNX sets the key only if it does not exist
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Incr increments the integer value of a key by one
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HIncrBy increments the integer value of a hash field by the given number
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	// HDel deletes one or more fields from the hash stored at key
	HDel(ctx context.Context, key string, fields ...string) error
}

// ListOps defines list operations
type ListOps interface {
	// LPush prepends one or more values to a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// LMove atomically moves one element between lists; positions are "LEFT" or "RIGHT".
	// Returns "" when source is empty.
	LMove(ctx context.Context, source, destination, srcPos, destPos string) (string, error)

	// BLMove pops from the right of source and pushes onto the left of destination,
	// blocking up to timeout. Returns "" when the timeout elapses.
	BLMove(ctx context.Context, source, destination string, timeout time.Duration) (string, error)

	// LRem removes count occurrences of value from the list (0 removes all)
	LRem(ctx context.Context, key string, count int64, value interface{}) (int64, error)

	// LRange returns elements from a list by index range
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)
}

// SetOps defines set operations
type SetOps interface {
	// SAdd adds members to the set stored at key
	SAdd(ctx context.Context, key string, members ...interface{}) error

	// SRem removes members from the set stored at key
	SRem(ctx context.Context, key string, members ...interface{}) error

	// SMembers returns every member of the set
	SMembers(ctx context.Context, key string) ([]string, error)
}

// PipelineOps defines pipeline operations for batching commands
type PipelineOps interface {
	// Pipeline executes the queued commands as one MULTI/EXEC transaction
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner defines the commands that can be queued inside Pipeline.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Del(keys ...string) error
	LPush(key string, values ...interface{}) error
	RPush(key string, values ...interface{}) error
	LRem(key string, count int64, value interface{}) error
	HDel(key string, fields ...string) error
}
