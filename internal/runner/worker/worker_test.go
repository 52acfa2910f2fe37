package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/runner/model"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/repository"
	"coderun/internal/runner/worker"
	appErr "coderun/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeExecutor struct {
	lang model.Language
	fn   func(ctx context.Context, task model.Task) model.Result
}

func (f *fakeExecutor) Language() model.Language { return f.lang }

func (f *fakeExecutor) Execute(ctx context.Context, task model.Task) model.Result {
	return f.fn(ctx, task)
}

func echoExecutor(lang model.Language) *fakeExecutor {
	return &fakeExecutor{lang: lang, fn: func(ctx context.Context, task model.Task) model.Result {
		return model.Success(task.Code, "", 0, 1)
	}}
}

type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) Put(ctx context.Context, taskID string, res model.Result, ttl time.Duration) error {
	s.calls.Add(1)
	return errors.New("redis: connection refused")
}

type recordingSideEffects struct {
	mu       sync.Mutex
	events   []string
	archived []string
	history  []model.Status
	err      error
}

func (r *recordingSideEffects) PublishResult(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, task.ID)
	return r.err
}

func (r *recordingSideEffects) Archive(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, task.ID)
	return r.err
}

func (r *recordingSideEffects) RecordQueued(ctx context.Context, task model.Task) error { return nil }

func (r *recordingSideEffects) RecordFinished(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, res.Status)
	return r.err
}

type env struct {
	mr    *miniredis.Miniredis
	queue *queue.Queue
	store *repository.ResultStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return &env{
		mr:    mr,
		queue: queue.New(rc, queue.Config{PollTimeout: 100 * time.Millisecond}),
		store: repository.NewResultStore(rc, 0),
	}
}

// start runs the worker until the returned stop function is called.
func start(t *testing.T, w *worker.Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("worker did not stop")
		}
	}
}

func waitResult(t *testing.T, store *repository.ResultStore, id string) model.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, found, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get result failed: %v", err)
		}
		if found {
			return res
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no result for %s", id)
	return model.Result{}
}

func enqueue(t *testing.T, q *queue.Queue, lang model.Language, id, code string) {
	t.Helper()
	if err := q.Enqueue(context.Background(), model.Task{ID: id, Language: lang, Code: code}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestWorkerStoresResultAndAcks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	health := worker.NewHealth(0)
	effects := &recordingSideEffects{}
	w, err := worker.New(worker.Config{
		Consumer: "host-0",
		Executor: echoExecutor(model.LanguagePython),
		Queue:    e.queue,
		Store:    e.store,
		Events:   effects,
		Archive:  effects,
		History:  effects,
		Health:   health,
	})
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	enqueue(t, e.queue, model.LanguagePython, "t-1", "out-1")
	enqueue(t, e.queue, model.LanguagePython, "t-2", "out-2")

	stop := start(t, w)
	r1 := waitResult(t, e.store, "t-1")
	r2 := waitResult(t, e.store, "t-2")
	stop()

	if r1.Stdout != "out-1" || r2.Stdout != "out-2" {
		t.Fatalf("unexpected results: %+v %+v", r1, r2)
	}
	if ttl := e.mr.TTL(model.ResultKey("t-1")); ttl != repository.DefaultResultTTL {
		t.Fatalf("expected result ttl %v, got %v", repository.DefaultResultTTL, ttl)
	}
	processing := queue.ProcessingKey(model.LanguagePython, "host-0")
	if e.mr.Exists(processing) {
		items, _ := e.mr.List(processing)
		t.Fatalf("processing list not drained: %v", items)
	}
	if e.mr.Exists(queue.AttemptsKey(model.LanguagePython)) {
		t.Fatalf("attempt counters not cleared")
	}
	if !health.Ready() {
		t.Fatalf("expected worker to report broker health")
	}

	effects.mu.Lock()
	defer effects.mu.Unlock()
	if len(effects.events) != 2 || len(effects.archived) != 2 || len(effects.history) != 2 {
		t.Fatalf("side effects not run: %+v", effects)
	}
}

func TestWorkerSideEffectFailureDoesNotBlock(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	effects := &recordingSideEffects{err: errors.New("kafka down")}
	w, _ := worker.New(worker.Config{
		Consumer: "host-0",
		Executor: echoExecutor(model.LanguageC),
		Queue:    e.queue,
		Store:    e.store,
		Events:   effects,
	})
	enqueue(t, e.queue, model.LanguageC, "t-1", "a")
	enqueue(t, e.queue, model.LanguageC, "t-2", "b")

	stop := start(t, w)
	waitResult(t, e.store, "t-1")
	waitResult(t, e.store, "t-2")
	stop()

	if e.mr.Exists(queue.ProcessingKey(model.LanguageC, "host-0")) {
		t.Fatalf("tasks must be acked even when side effects fail")
	}
}

func TestWorkerOnlyConsumesItsLanguage(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	w, _ := worker.New(worker.Config{
		Consumer: "host-0",
		Executor: echoExecutor(model.LanguageJava),
		Queue:    e.queue,
		Store:    e.store,
	})
	enqueue(t, e.queue, model.LanguagePython, "py-1", "x")
	enqueue(t, e.queue, model.LanguageJava, "java-1", "y")

	stop := start(t, w)
	waitResult(t, e.store, "java-1")
	stop()

	if _, found, _ := e.store.Get(context.Background(), "py-1"); found {
		t.Fatalf("java worker executed a python task")
	}
	if n, _ := e.queue.Len(context.Background(), model.LanguagePython); n != 1 {
		t.Fatalf("python task must stay queued, queue length %d", n)
	}
}

func TestWorkerRecoversExecutorPanic(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	exec := &fakeExecutor{lang: model.LanguageCPP, fn: func(ctx context.Context, task model.Task) model.Result {
		if task.ID == "boom" {
			panic("executor exploded")
		}
		return model.Success("ok", "", 0, 1)
	}}
	w, _ := worker.New(worker.Config{Consumer: "host-0", Executor: exec, Queue: e.queue, Store: e.store})
	enqueue(t, e.queue, model.LanguageCPP, "boom", "")
	enqueue(t, e.queue, model.LanguageCPP, "fine", "")

	stop := start(t, w)
	panicked := waitResult(t, e.store, "boom")
	fine := waitResult(t, e.store, "fine")
	stop()

	if panicked.Status != model.StatusInternalError {
		t.Fatalf("expected internal_error for panicking executor, got %+v", panicked)
	}
	if fine.Status != model.StatusSuccess {
		t.Fatalf("loop must continue after a panic, got %+v", fine)
	}
}

func TestWorkerRetriesStrandedTaskUntilDeadLettered(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	store := &failingStore{}
	w, _ := worker.New(worker.Config{
		Consumer:     "host-0",
		Executor:     echoExecutor(model.LanguagePython),
		Queue:        e.queue,
		Store:        store,
		StoreRetries: 2,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	})
	enqueue(t, e.queue, model.LanguagePython, "t-1", "x")

	stop := start(t, w)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := e.queue.DeadLen(context.Background(), model.LanguagePython); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stop()

	if n, _ := e.queue.DeadLen(context.Background(), model.LanguagePython); n != 1 {
		t.Fatalf("stranded task was never redelivered to the dead list, store calls=%d", store.calls.Load())
	}
	// Three deliveries, each one attempt plus 2 retries.
	if got := store.calls.Load(); got != 9 {
		t.Fatalf("expected 9 store calls, got %d", got)
	}
	if e.mr.Exists(queue.ProcessingKey(model.LanguagePython, "host-0")) {
		items, _ := e.mr.List(queue.ProcessingKey(model.LanguagePython, "host-0"))
		t.Fatalf("processing list not drained: %v", items)
	}
}

func TestWorkerWaitsForLiveConsumerName(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	held, err := e.queue.Acquire(ctx, model.LanguageJava, "host-0")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	w, _ := worker.New(worker.Config{
		Consumer:    "host-0",
		Executor:    echoExecutor(model.LanguageJava),
		Queue:       e.queue,
		Store:       e.store,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	})
	enqueue(t, e.queue, model.LanguageJava, "t-1", "y")

	stop := start(t, w)
	time.Sleep(300 * time.Millisecond)
	if _, found, _ := e.store.Get(ctx, "t-1"); found {
		t.Fatalf("worker consumed while another process held its name")
	}
	if err := e.queue.Release(ctx, held); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	res := waitResult(t, e.store, "t-1")
	stop()
	if res.Stdout != "y" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWorkerReclaimsLapsedConsumer(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.queue.Acquire(ctx, model.LanguageCPP, "gone-0"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	enqueue(t, e.queue, model.LanguageCPP, "t-1", "rescued")
	if d, err := e.queue.Dequeue(ctx, model.LanguageCPP, "gone-0"); err != nil || d == nil {
		t.Fatalf("dequeue failed: %v %v", d, err)
	}
	e.mr.FastForward(e.queue.LeaseTTL() + time.Second)

	w, _ := worker.New(worker.Config{Consumer: "host-1", Executor: echoExecutor(model.LanguageCPP), Queue: e.queue, Store: e.store})
	stop := start(t, w)
	res := waitResult(t, e.store, "t-1")
	stop()

	if res.Stdout != "rescued" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if e.mr.Exists(queue.ProcessingKey(model.LanguageCPP, "gone-0")) {
		t.Fatalf("lapsed consumer's list should be drained")
	}
}

func TestWorkerStopsWhenNameTakenOver(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	w, _ := worker.New(worker.Config{
		Consumer:      "host-0",
		Executor:      echoExecutor(model.LanguagePython),
		Queue:         e.queue,
		Store:         e.store,
		RenewInterval: 20 * time.Millisecond,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	leaseKey := queue.LeaseKey(model.LanguagePython, "host-0")
	deadline := time.Now().Add(3 * time.Second)
	for !e.mr.Exists(leaseKey) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := e.mr.Set(leaseKey, "another-process"); err != nil {
		t.Fatalf("overwrite lease failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !appErr.Is(err, appErr.ConsumerConflict) {
			t.Fatalf("expected ConsumerConflict, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker kept consuming under a taken-over name")
	}
	if got, _ := e.mr.Get(leaseKey); got != "another-process" {
		t.Fatalf("worker must not release a lease it lost, got %q", got)
	}
}

func TestWorkerShutdownMidTaskRequeues(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	started := make(chan struct{})
	blocking := &fakeExecutor{lang: model.LanguageC, fn: func(ctx context.Context, task model.Task) model.Result {
		close(started)
		<-ctx.Done()
		return model.InternalError(ctx.Err())
	}}
	first, _ := worker.New(worker.Config{Consumer: "host-0", Executor: blocking, Queue: e.queue, Store: e.store})
	enqueue(t, e.queue, model.LanguageC, "t-1", "again")

	stop := start(t, first)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("task never started")
	}
	stop()

	if _, found, _ := e.store.Get(context.Background(), "t-1"); found {
		t.Fatalf("interrupted task must not store a result")
	}
	if n, _ := e.queue.Len(context.Background(), model.LanguageC); n != 1 {
		t.Fatalf("interrupted task should be back on the queue, got %d", n)
	}

	second, _ := worker.New(worker.Config{Consumer: "host-0", Executor: echoExecutor(model.LanguageC), Queue: e.queue, Store: e.store})
	stop = start(t, second)
	res := waitResult(t, e.store, "t-1")
	stop()
	if res.Status != model.StatusSuccess || res.Stdout != "again" {
		t.Fatalf("unexpected redelivered result: %+v", res)
	}
}

type flakyQueue struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (q *flakyQueue) Dequeue(ctx context.Context, lang model.Language, consumer string) (*queue.Delivery, error) {
	n := q.calls.Add(1)
	if n <= q.failures.Load() {
		return nil, errors.New("redis: i/o timeout")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *flakyQueue) Ack(ctx context.Context, d *queue.Delivery) error { return nil }

func (q *flakyQueue) Recover(ctx context.Context, lang model.Language, consumer string) (int, error) {
	return 0, nil
}

func (q *flakyQueue) Acquire(ctx context.Context, lang model.Language, consumer string) (*queue.Lease, error) {
	return &queue.Lease{Language: lang, Consumer: consumer}, nil
}

func (q *flakyQueue) Renew(ctx context.Context, lease *queue.Lease) error { return nil }

func (q *flakyQueue) Release(ctx context.Context, lease *queue.Lease) error { return nil }

func (q *flakyQueue) ReclaimOrphans(ctx context.Context, lang model.Language) (int, error) {
	return 0, nil
}

func TestWorkerBacksOffOnDequeueErrors(t *testing.T) {
	t.Parallel()
	q := &flakyQueue{}
	q.failures.Store(3)
	health := worker.NewHealth(time.Hour)
	w, _ := worker.New(worker.Config{
		Consumer:    "host-0",
		Executor:    echoExecutor(model.LanguagePython),
		Queue:       q,
		Store:       &failingStore{},
		Health:      health,
		BackoffBase: 20 * time.Millisecond,
		BackoffMax:  40 * time.Millisecond,
	})

	begin := time.Now()
	stop := start(t, w)
	deadline := time.Now().Add(3 * time.Second)
	for q.calls.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	if q.calls.Load() < 5 {
		t.Fatalf("loop stopped after dequeue errors, calls=%d", q.calls.Load())
	}
	// 20ms + 40ms + 40ms of backoff before the first successful poll.
	if elapsed := time.Since(begin); elapsed < 100*time.Millisecond {
		t.Fatalf("expected backoff between failed polls, elapsed %v", elapsed)
	}
	if !health.Ready() {
		t.Fatalf("expected ready after a successful poll")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	cases := []worker.Config{
		{Queue: e.queue, Store: e.store, Consumer: "c"},
		{Executor: echoExecutor(model.LanguageC), Store: e.store, Consumer: "c"},
		{Executor: echoExecutor(model.LanguageC), Queue: e.queue, Consumer: "c"},
		{Executor: echoExecutor(model.LanguageC), Queue: e.queue, Store: e.store},
	}
	for i, cfg := range cases {
		if _, err := worker.New(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	w, err := worker.New(worker.Config{Executor: echoExecutor(model.LanguageC), Queue: e.queue, Store: e.store, Consumer: "c"})
	if err != nil || w.Language() != model.LanguageC {
		t.Fatalf("unexpected worker: %v %v", w, err)
	}
}
