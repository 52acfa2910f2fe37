package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coderun/internal/common/mq"
	"coderun/internal/runner/model"
	appErr "coderun/pkg/errors"
)

// DefaultResultTopic receives one event per finished task.
const DefaultResultTopic = "coderun.results"

// ResultEvent is the payload published after a result is stored.
type ResultEvent struct {
	TaskID     string         `json:"task_id"`
	Language   model.Language `json:"language"`
	Status     model.Status   `json:"status"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	FinishedAt int64          `json:"finished_at"`
}

// ResultEventPublisher publishes result events for downstream consumers.
type ResultEventPublisher interface {
	PublishResult(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error
}

// MQResultEventPublisher publishes result events to a message queue.
type MQResultEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQResultEventPublisher creates a publisher. An empty topic means DefaultResultTopic.
func NewMQResultEventPublisher(producer mq.Producer, topic string) *MQResultEventPublisher {
	if topic == "" {
		topic = DefaultResultTopic
	}
	return &MQResultEventPublisher{producer: producer, topic: topic}
}

// PublishResult publishes the event keyed by task id.
func (p *MQResultEventPublisher) PublishResult(ctx context.Context, task model.Task, res model.Result, finishedAt time.Time) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if task.ID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	event := ResultEvent{
		TaskID:     task.ID,
		Language:   task.Language,
		Status:     res.Status,
		ExitCode:   res.ExitCode,
		DurationMs: res.DurationMs,
		FinishedAt: finishedAt.Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = task.ID
	message.SetHeader("language", string(task.Language))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish result event failed")
	}
	return nil
}
