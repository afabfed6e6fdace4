package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
)

// ContentRepository reads generated content. Content is owned elsewhere;
// nothing here writes to generated_content.
type ContentRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Content, error)
	// GetApproved fails with NotFound or PreconditionFailed unless the item is APPROVED.
	GetApproved(ctx context.Context, id int64) (*models.Content, error)
}

type contentRepository struct {
	db *sqlx.DB
}

func NewContentRepository(db *sqlx.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) GetByID(ctx context.Context, id int64) (*models.Content, error) {
	query := `
		SELECT id, title, content, content_type, media_refs, status, approved_by, approved_at, created_at, updated_at
		FROM generated_content
		WHERE id = $1`

	var content models.Content
	if err := getExecutor(ctx, r.db).GetContext(ctx, &content, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get content %d: %w", id, err)
	}
	return &content, nil
}

func (r *contentRepository) GetApproved(ctx context.Context, id int64) (*models.Content, error) {
	content, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return CheckApproved(id, content)
}

// CheckApproved turns a looked-up content item into the provider contract.
func CheckApproved(id int64, content *models.Content) (*models.Content, error) {
	if content == nil {
		return nil, apperr.New(apperr.NotFound, "content %d not found", id)
	}
	if content.Status != models.ContentStatusApproved {
		return nil, apperr.New(apperr.PreconditionFailed, "content %d is %s, not %s", id, content.Status, models.ContentStatusApproved)
	}
	return content, nil
}
