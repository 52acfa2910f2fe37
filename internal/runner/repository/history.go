package repository

import (
	"context"
	"database/sql"
	"time"

	"coderun/internal/common/db"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
)

// HistorySchema creates the execution history table.
const HistorySchema = `CREATE TABLE IF NOT EXISTS task_history (
  task_id      VARCHAR(64)  NOT NULL PRIMARY KEY,
  language     VARCHAR(16)  NOT NULL,
  code_size    INT          NOT NULL DEFAULT 0,
  status       VARCHAR(32)  NOT NULL,
  exit_code    INT          NULL,
  duration_ms  BIGINT       NULL,
  submitted_at BIGINT       NOT NULL DEFAULT 0,
  finished_at  BIGINT       NULL,
  KEY idx_language_status (language, status)
)`

const (
	insertQueuedSQL = `INSERT INTO task_history (task_id, language, code_size, status, submitted_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE code_size = VALUES(code_size), submitted_at = VALUES(submitted_at)`

	upsertFinishedSQL = `INSERT INTO task_history (task_id, language, code_size, status, exit_code, duration_ms, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status), exit_code = VALUES(exit_code),
  duration_ms = VALUES(duration_ms), finished_at = VALUES(finished_at)`

	selectHistorySQL = `SELECT task_id, language, code_size, status, exit_code, duration_ms, submitted_at, finished_at
FROM task_history WHERE task_id = ?`
)

// HistoryRecord is one row of task_history.
type HistoryRecord struct {
	TaskID      string
	Language    model.Language
	CodeSize    int
	Status      model.Status
	ExitCode    *int
	DurationMs  *int64
	SubmittedAt int64
	FinishedAt  *int64
}

// HistoryRecorder tracks the lifecycle of tasks outside the TTL-bound store.
type HistoryRecorder interface {
	RecordQueued(ctx context.Context, task model.Task) error
	RecordFinished(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error
}

// MySQLHistoryRepository stores history rows in MySQL.
type MySQLHistoryRepository struct {
	db db.Database
}

// NewMySQLHistoryRepository creates a history repository.
func NewMySQLHistoryRepository(database db.Database) *MySQLHistoryRepository {
	return &MySQLHistoryRepository{db: database}
}

// EnsureSchema creates the table if it is missing.
func (r *MySQLHistoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, HistorySchema); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create task_history failed")
	}
	return nil
}

// RecordQueued inserts the row written at submission time.
func (r *MySQLHistoryRepository) RecordQueued(ctx context.Context, task model.Task) error {
	_, err := r.db.Exec(ctx, insertQueuedSQL,
		task.ID, string(task.Language), len(task.Code), string(model.StatusQueued), task.SubmittedAt)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "record queued task failed")
	}
	return nil
}

// RecordFinished stores the outcome. It also works when the gateway wrote no row.
func (r *MySQLHistoryRepository) RecordFinished(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	_, err := r.db.Exec(ctx, upsertFinishedSQL,
		task.ID, string(task.Language), len(task.Code), string(res.Status),
		res.ExitCode, res.DurationMs, finishedAt.Unix())
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "record finished task failed")
	}
	return nil
}

// Get loads one history row.
func (r *MySQLHistoryRepository) Get(ctx context.Context, taskID string) (HistoryRecord, error) {
	var (
		rec        HistoryRecord
		language   string
		status     string
		exitCode   sql.NullInt64
		durationMs sql.NullInt64
		finishedAt sql.NullInt64
	)
	err := r.db.QueryRow(ctx, selectHistorySQL, taskID).Scan(
		&rec.TaskID, &language, &rec.CodeSize, &status, &exitCode, &durationMs, &rec.SubmittedAt, &finishedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return HistoryRecord{}, appErr.New(appErr.TaskNotFound)
		}
		return HistoryRecord{}, appErr.Wrapf(err, appErr.DatabaseError, "load task history failed")
	}
	rec.Language = model.Language(language)
	rec.Status = model.Status(status)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		rec.ExitCode = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		rec.DurationMs = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Int64
		rec.FinishedAt = &v
	}
	return rec, nil
}
