package repository_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"coderun/internal/common/db"
	"coderun/internal/common/mq"
	"coderun/internal/runner/model"
	"coderun/internal/runner/repository"
	appErr "coderun/pkg/errors"
)

type fakeProducer struct {
	topic   string
	message *mq.Message
	err     error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.topic = topic
	f.message = message
	return f.err
}

func (f *fakeProducer) Ping(ctx context.Context) error { return nil }
func (f *fakeProducer) Close() error                   { return nil }

func TestResultEventPublisher(t *testing.T) {
	t.Parallel()
	producer := &fakeProducer{}
	pub := repository.NewMQResultEventPublisher(producer, "")
	task := model.Task{ID: "t-1", Language: model.LanguageC}
	finished := time.Unix(1700000000, 0)

	if err := pub.PublishResult(context.Background(), task, model.Success("", "", 0, 7), finished); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if producer.topic != repository.DefaultResultTopic {
		t.Fatalf("unexpected topic: %s", producer.topic)
	}
	if producer.message.ID != "t-1" {
		t.Fatalf("expected task id as message id, got %s", producer.message.ID)
	}
	var event repository.ResultEvent
	if err := json.Unmarshal(producer.message.Body, &event); err != nil {
		t.Fatalf("event is not json: %v", err)
	}
	if event.Status != model.StatusSuccess || event.DurationMs != 7 || event.FinishedAt != 1700000000 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestResultEventPublisherWrapsBrokerError(t *testing.T) {
	t.Parallel()
	pub := repository.NewMQResultEventPublisher(&fakeProducer{err: errors.New("broker down")}, "topic")
	err := pub.PublishResult(context.Background(), model.Task{ID: "t-1"}, model.Result{}, time.Now())
	if !appErr.Is(err, appErr.MessageQueueError) {
		t.Fatalf("expected MessageQueueError, got %v", err)
	}
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+objectKey] = data
	m.types[bucket+"/"+objectKey] = contentType
	return nil
}

func (m *memoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) EnsureBucket(ctx context.Context, bucket string) error { return nil }

func TestObjectResultArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	store := newMemoryStorage()
	archive, err := repository.NewObjectResultArchive(store, "results")
	if err != nil {
		t.Fatalf("new archive failed: %v", err)
	}
	defer archive.Close()

	finished := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	task := model.Task{ID: "t-9", Language: model.LanguagePython, Code: strings.Repeat("print(1)\n", 100)}
	res := model.Success(strings.Repeat("1\n", 100), "", 0, 30)

	if err := archive.Archive(context.Background(), task, res, finished); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	key := "results/results/2026/03/04/t-9.json.zst"
	raw, ok := store.objects[key]
	if !ok {
		t.Fatalf("expected object at %s, have %v", key, store.objects)
	}
	if len(raw) >= len(task.Code) {
		t.Fatalf("expected compressed payload, got %d bytes", len(raw))
	}
	if store.types[key] != "application/zstd" {
		t.Fatalf("unexpected content type %q", store.types[key])
	}

	record, err := archive.Load(context.Background(), "t-9", finished)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if record.Code != task.Code || record.Result != res {
		t.Fatalf("archived record mismatch: %+v", record)
	}
}

func TestArchiveKey(t *testing.T) {
	t.Parallel()
	got := repository.ArchiveKey("abc", time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC))
	if got != "results/2026/10/19/abc.json.zst" {
		t.Fatalf("unexpected key: %s", got)
	}
}

type execCall struct {
	query string
	args  []interface{}
}

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *sql.NullInt64:
			if r.values[i] == nil {
				*p = sql.NullInt64{}
			} else {
				*p = sql.NullInt64{Int64: r.values[i].(int64), Valid: true}
			}
		}
	}
	return nil
}

type fakeDB struct {
	calls []execCall
	row   fakeRow
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return nil, f.err
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return f.row
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func TestHistoryRecordsLifecycle(t *testing.T) {
	t.Parallel()
	database := &fakeDB{}
	repo := repository.NewMySQLHistoryRepository(database)
	ctx := context.Background()
	task := model.Task{ID: "t-1", Language: model.LanguageJava, Code: "class Main{}", SubmittedAt: 100}

	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}
	if err := repo.RecordQueued(ctx, task); err != nil {
		t.Fatalf("record queued failed: %v", err)
	}
	if err := repo.RecordFinished(ctx, task, model.Timeout(5000), time.Unix(200, 0)); err != nil {
		t.Fatalf("record finished failed: %v", err)
	}
	if len(database.calls) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(database.calls))
	}
	if !strings.Contains(database.calls[0].query, "CREATE TABLE IF NOT EXISTS task_history") {
		t.Fatalf("unexpected schema statement: %s", database.calls[0].query)
	}
	queued := database.calls[1].args
	if queued[0] != "t-1" || queued[3] != "queued" || queued[2] != len(task.Code) {
		t.Fatalf("unexpected queued args: %v", queued)
	}
	finished := database.calls[2].args
	if finished[3] != "timeout" || finished[6] != int64(200) {
		t.Fatalf("unexpected finished args: %v", finished)
	}
}

func TestHistoryGet(t *testing.T) {
	t.Parallel()
	database := &fakeDB{row: fakeRow{values: []interface{}{
		"t-1", "c", 12, "success", int64(0), int64(40), int64(100), int64(101),
	}}}
	repo := repository.NewMySQLHistoryRepository(database)

	rec, err := repo.Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Language != model.LanguageC || rec.Status != model.StatusSuccess || rec.CodeSize != 12 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.DurationMs == nil || *rec.DurationMs != 40 || rec.FinishedAt == nil {
		t.Fatalf("unexpected nullable fields: %+v", rec)
	}

	missing := repository.NewMySQLHistoryRepository(&fakeDB{row: fakeRow{err: sql.ErrNoRows}})
	if _, err := missing.Get(context.Background(), "nope"); !appErr.Is(err, appErr.TaskNotFound) {
		t.Fatalf("expected TaskNotFound, got %v", err)
	}
}

func TestHistoryWrapsDatabaseErrors(t *testing.T) {
	t.Parallel()
	repo := repository.NewMySQLHistoryRepository(&fakeDB{err: errors.New("conn reset")})
	err := repo.RecordQueued(context.Background(), model.Task{ID: "t-1"})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}
