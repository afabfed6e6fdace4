package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/maheshrc27/postscheduler/internal/models"
)

// ContentProvider resolves approved content. It fails with NotFound or
// PreconditionFailed for unknown or unapproved items.
type ContentProvider interface {
	GetApproved(ctx context.Context, id int64) (*models.Content, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) error
	Close() error
}

// Escalator is notified once a post will never be retried again.
type Escalator interface {
	Escalate(ctx context.Context, post *models.ScheduledPost, reason string) error
}

type ObjectStorage interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	PublicURL(key string) string
}
