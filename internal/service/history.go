package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

const eventPublishTimeout = 2 * time.Second

// historyRecorder appends audit entries and mirrors them as lifecycle events.
// Failures are logged and never returned to the caller.
type historyRecorder struct {
	log    repository.PublishHistoryRepository
	events EventPublisher
	clock  clock.Clock
	logger *slog.Logger
}

func (h *historyRecorder) record(ctx context.Context, post *models.ScheduledPost, action, message string, meta map[string]interface{}) {
	now := h.clock.Now()

	entry := &models.PublishHistory{
		ScheduledPostID: post.ID,
		Action:          action,
		Status:          post.Status,
		Message:         message,
		CreatedAt:       now,
	}
	if len(meta) > 0 {
		if raw, err := json.Marshal(meta); err == nil {
			entry.Metadata = raw
		}
	}

	if err := h.log.Append(ctx, entry); err != nil {
		h.logger.Error("failed to append publish history",
			"post_id", post.ID,
			"action", action,
			"error", err,
		)
	}

	if h.events == nil {
		return
	}

	event := models.LifecycleEvent{
		PostID:     post.ID,
		Platform:   post.Platform,
		Action:     action,
		Status:     post.Status,
		Message:    message,
		Simulated:  post.Simulated,
		RetryCount: post.RetryCount,
		OccurredAt: now,
	}
	if post.PostID != nil {
		event.PlatformPostID = *post.PostID
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := h.events.Publish(pubCtx, event); err != nil {
		h.logger.Warn("failed to publish lifecycle event",
			"post_id", post.ID,
			"action", action,
			"error", err,
		)
	}
}
