package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postscheduler/internal/models"
)

const TaskTypePostExhausted = "post:exhausted"

type PostExhaustedPayload struct {
	PostID     int64           `json:"post_id"`
	Platform   models.Platform `json:"platform"`
	PageID     string          `json:"page_id"`
	RetryCount int             `json:"retry_count"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failed_at"`
}

// Enqueuer is the part of *asynq.Client the escalator needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Escalator hands posts that will never be retried to the asynq worker.
type Escalator struct {
	client Enqueuer
	logger *slog.Logger
}

func NewEscalator(client Enqueuer, logger *slog.Logger) *Escalator {
	return &Escalator{client: client, logger: logger}
}

func (e *Escalator) Escalate(ctx context.Context, post *models.ScheduledPost, reason string) error {
	payload := PostExhaustedPayload{
		PostID:     post.ID,
		Platform:   post.Platform,
		PageID:     post.PlatformPageID,
		RetryCount: post.RetryCount,
		Reason:     reason,
		FailedAt:   post.UpdatedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}

	task := asynq.NewTask(TaskTypePostExhausted, data)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("exhausted-%d", post.ID)),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return fmt.Errorf("enqueue escalation for post %d: %w", post.ID, err)
	}

	e.logger.Info("escalation enqueued", "post_id", post.ID, "task_id", info.ID, "queue", info.Queue)
	return nil
}
