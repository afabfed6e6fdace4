package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Alerter receives posts an operator needs to look at.
type Alerter interface {
	Alert(ctx context.Context, payload PostExhaustedPayload) error
}

type Worker struct {
	alerter Alerter
	logger  *slog.Logger
}

func NewWorker(alerter Alerter, logger *slog.Logger) *Worker {
	return &Worker{alerter: alerter, logger: logger}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePostExhausted, w.HandlePostExhaustedTask)
}

func (w *Worker) HandlePostExhaustedTask(ctx context.Context, task *asynq.Task) error {
	var payload PostExhaustedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypePostExhausted, err, asynq.SkipRetry)
	}

	if err := w.alerter.Alert(ctx, payload); err != nil {
		return fmt.Errorf("alert for post %d: %w", payload.PostID, err)
	}
	return nil
}

// LogAlerter raises alerts as ERROR log lines.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a LogAlerter) Alert(_ context.Context, p PostExhaustedPayload) error {
	a.Logger.Error("scheduled post permanently failed",
		"post_id", p.PostID,
		"platform", p.Platform,
		"page_id", p.PageID,
		"retry_count", p.RetryCount,
		"reason", p.Reason,
		"failed_at", p.FailedAt,
	)
	return nil
}
