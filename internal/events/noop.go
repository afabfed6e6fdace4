package events

import (
	"context"
	"log/slog"

	"github.com/maheshrc27/postscheduler/internal/models"
)

// Noop drops events. It is used when RABBITMQ_URL is not set.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Publish(_ context.Context, event models.LifecycleEvent) error {
	if n.Logger != nil {
		n.Logger.Debug("lifecycle event dropped", "post_id", event.PostID, "action", event.Action)
	}
	return nil
}

func (Noop) Close() error { return nil }
