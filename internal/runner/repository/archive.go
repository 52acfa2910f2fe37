package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"coderun/internal/common/storage"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const archiveContentType = "application/zstd"

// ArchivedResult is the long-term record of one execution.
type ArchivedResult struct {
	TaskID     string         `json:"task_id"`
	Language   model.Language `json:"language"`
	Code       string         `json:"code"`
	Stdin      string         `json:"input"`
	Result     model.Result   `json:"result"`
	FinishedAt int64          `json:"finished_at"`
}

// ResultArchiver keeps results beyond the store TTL.
type ResultArchiver interface {
	Archive(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error
}

// ObjectResultArchive writes zstd-compressed JSON records to object storage.
type ObjectResultArchive struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewObjectResultArchive creates an archive in the given bucket.
func NewObjectResultArchive(objectStorage storage.ObjectStorage, bucket string) (*ObjectResultArchive, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &ObjectResultArchive{storage: objectStorage, bucket: bucket, encoder: encoder, decoder: decoder}, nil
}

// ArchiveKey returns results/<yyyy>/<mm>/<dd>/<task id>.json.zst for the finish time (UTC).
func ArchiveKey(taskID string, finishedAt time.Time) string {
	return path.Join("results", finishedAt.UTC().Format("2006/01/02"), taskID+".json.zst")
}

// Archive compresses and uploads the record.
func (a *ObjectResultArchive) Archive(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	record := ArchivedResult{
		TaskID:     task.ID,
		Language:   task.Language,
		Code:       task.Code,
		Stdin:      task.Stdin,
		Result:     res,
		FinishedAt: finishedAt.Unix(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal archive record failed: %w", err)
	}
	compressed := a.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	key := ArchiveKey(task.ID, finishedAt)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), archiveContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "archive result failed")
	}
	return nil
}

// Load reads an archived record back.
func (a *ObjectResultArchive) Load(ctx context.Context, taskID string, finishedAt time.Time) (ArchivedResult, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, ArchiveKey(taskID, finishedAt))
	if err != nil {
		return ArchivedResult{}, appErr.Wrapf(err, appErr.StorageError, "open archived result failed")
	}
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return ArchivedResult{}, appErr.Wrapf(err, appErr.StorageError, "read archived result failed")
	}
	raw, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return ArchivedResult{}, fmt.Errorf("decompress archived result failed: %w", err)
	}
	var record ArchivedResult
	if err := json.Unmarshal(raw, &record); err != nil {
		return ArchivedResult{}, fmt.Errorf("unmarshal archived result failed: %w", err)
	}
	return record, nil
}

// Close releases the codec resources.
func (a *ObjectResultArchive) Close() error {
	a.decoder.Close()
	return a.encoder.Close()
}
