package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postscheduler/internal/models"
)

type PublishHistoryRepository interface {
	Append(ctx context.Context, entry *models.PublishHistory) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishHistory, error)
}

type publishHistoryRepository struct {
	db *sqlx.DB
}

func NewPublishHistoryRepository(db *sqlx.DB) PublishHistoryRepository {
	return &publishHistoryRepository{db: db}
}

func (r *publishHistoryRepository) Append(ctx context.Context, entry *models.PublishHistory) error {
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO publish_history (scheduled_post_id, action, status, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := getExecutor(ctx, r.db).QueryRowxContext(ctx, query,
		entry.ScheduledPostID,
		entry.Action,
		entry.Status,
		entry.Message,
		[]byte(entry.Metadata),
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append publish history for post %d: %w", entry.ScheduledPostID, err)
	}
	return nil
}

func (r *publishHistoryRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishHistory, error) {
	query := `
		SELECT id, scheduled_post_id, action, status, message, metadata, created_at
		FROM publish_history
		WHERE scheduled_post_id = $1
		ORDER BY id`

	var entries []*models.PublishHistory
	if err := getExecutor(ctx, r.db).SelectContext(ctx, &entries, query, postID); err != nil {
		return nil, fmt.Errorf("list publish history for post %d: %w", postID, err)
	}
	return entries, nil
}
