package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
)

const scheduledPostColumns = `id, content_id, platform, platform_page_id, scheduled_time, post_type,
	media_urls, hashtags, call_to_action, status, post_id, simulated, published_at, publish_error,
	retry_count, next_attempt_at, likes_count, comments_count, shares_count, reach, created_by,
	created_at, updated_at`

type ScheduledPostRepository interface {
	Create(ctx context.Context, post *models.ScheduledPost) (int64, error)
	// GetByID returns nil, nil when no post has the id.
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	// GetForUpdate is GetByID with a row lock; call it inside a transaction.
	GetForUpdate(ctx context.Context, id int64) (*models.ScheduledPost, error)
	Update(ctx context.Context, post *models.ScheduledPost) error
	List(ctx context.Context, filter models.PostFilter) ([]*models.ScheduledPost, error)
	FindDue(ctx context.Context, from, to time.Time, status models.PostStatus) ([]*models.ScheduledPost, error)
	FindRetryable(ctx context.Context, before, now time.Time, retryLimit int) ([]*models.ScheduledPost, error)
	// Claim moves a post to PUBLISHING if it is still in one of params.From.
	// It returns nil, nil when another writer got there first.
	Claim(ctx context.Context, params models.ClaimParams) (*models.ScheduledPost, error)
	MarkPublished(ctx context.Context, res models.PublishSuccess) (*models.ScheduledPost, error)
	MarkFailed(ctx context.Context, res models.PublishFailure) (*models.ScheduledPost, error)
	// RecoverStale fails PUBLISHING posts whose claim is older than before and
	// counts the lost attempt against their retry budget.
	RecoverStale(ctx context.Context, before, now time.Time, reason string) ([]*models.ScheduledPost, error)
}

type scheduledPostRepository struct {
	db *sqlx.DB
}

func NewScheduledPostRepository(db *sqlx.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

func (r *scheduledPostRepository) Create(ctx context.Context, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO scheduled_posts (
			content_id, platform, platform_page_id, scheduled_time, post_type, media_urls,
			hashtags, call_to_action, status, retry_count, created_by, created_at, updated_at
		) VALUES (
			:content_id, :platform, :platform_page_id, :scheduled_time, :post_type, :media_urls,
			:hashtags, :call_to_action, :status, :retry_count, :created_by, :created_at, :updated_at
		)
		RETURNING id`

	exec := getExecutor(ctx, r.db)
	query, args, err := exec.BindNamed(query, post)
	if err != nil {
		return 0, fmt.Errorf("bind insert scheduled post: %w", err)
	}

	var id int64
	if err := exec.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		slog.Info(err.Error())
		return 0, fmt.Errorf("insert scheduled post: %w", err)
	}
	post.ID = id
	return id, nil
}

func (r *scheduledPostRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	return r.get(ctx, `SELECT `+scheduledPostColumns+` FROM scheduled_posts WHERE id = $1`, id)
}

func (r *scheduledPostRepository) GetForUpdate(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	return r.get(ctx, `SELECT `+scheduledPostColumns+` FROM scheduled_posts WHERE id = $1 FOR UPDATE`, id)
}

func (r *scheduledPostRepository) get(ctx context.Context, query string, id int64) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := getExecutor(ctx, r.db).GetContext(ctx, &post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduled post %d: %w", id, err)
	}
	return &post, nil
}

func (r *scheduledPostRepository) Update(ctx context.Context, post *models.ScheduledPost) error {
	query := `
		UPDATE scheduled_posts SET
			content_id = :content_id,
			platform = :platform,
			platform_page_id = :platform_page_id,
			scheduled_time = :scheduled_time,
			post_type = :post_type,
			media_urls = :media_urls,
			hashtags = :hashtags,
			call_to_action = :call_to_action,
			status = :status,
			updated_at = :updated_at
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, getExecutor(ctx, r.db), query, post)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("update scheduled post %d: %w", post.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scheduled post %d: %w", post.ID, err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "scheduled post %d not found", post.ID)
	}
	return nil
}

func (r *scheduledPostRepository) List(ctx context.Context, filter models.PostFilter) ([]*models.ScheduledPost, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Platform != "" {
		add("platform = $%d", filter.Platform)
	}
	if filter.From != nil {
		add("scheduled_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("scheduled_time < $%d", *filter.To)
	}

	query := `SELECT ` + scheduledPostColumns + ` FROM scheduled_posts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY scheduled_time, id`

	return r.selectPosts(ctx, query, args...)
}

func (r *scheduledPostRepository) FindDue(ctx context.Context, from, to time.Time, status models.PostStatus) ([]*models.ScheduledPost, error) {
	query := `
		SELECT ` + scheduledPostColumns + `
		FROM scheduled_posts
		WHERE status = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		ORDER BY scheduled_time, id`

	return r.selectPosts(ctx, query, status, from, to)
}

func (r *scheduledPostRepository) FindRetryable(ctx context.Context, before, now time.Time, retryLimit int) ([]*models.ScheduledPost, error) {
	query := `
		SELECT ` + scheduledPostColumns + `
		FROM scheduled_posts
		WHERE status = 'FAILED'
		  AND retry_count < $1
		  AND scheduled_time < $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY scheduled_time, id`

	return r.selectPosts(ctx, query, retryLimit, before, now)
}

func (r *scheduledPostRepository) selectPosts(ctx context.Context, query string, args ...interface{}) ([]*models.ScheduledPost, error) {
	var posts []*models.ScheduledPost
	if err := getExecutor(ctx, r.db).SelectContext(ctx, &posts, query, args...); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("select scheduled posts: %w", err)
	}
	return posts, nil
}

func (r *scheduledPostRepository) Claim(ctx context.Context, params models.ClaimParams) (*models.ScheduledPost, error) {
	from := make([]string, len(params.From))
	for i, s := range params.From {
		from[i] = string(s)
	}

	query := `
		UPDATE scheduled_posts
		SET status = 'PUBLISHING', updated_at = $4
		WHERE id = $1
		  AND status = ANY($2)
		  AND (status <> 'FAILED' OR retry_count < $3)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $4)
		RETURNING ` + scheduledPostColumns

	var post models.ScheduledPost
	err := getExecutor(ctx, r.db).GetContext(ctx, &post, query, params.ID, pq.Array(from), params.RetryLimit, params.Now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim scheduled post %d: %w", params.ID, err)
	}
	return &post, nil
}

func (r *scheduledPostRepository) MarkPublished(ctx context.Context, res models.PublishSuccess) (*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'PUBLISHED',
			post_id = $2,
			simulated = $3,
			published_at = $4,
			publish_error = NULL,
			next_attempt_at = NULL,
			updated_at = $4
		WHERE id = $1 AND status = 'PUBLISHING'
		RETURNING ` + scheduledPostColumns

	var post models.ScheduledPost
	err := getExecutor(ctx, r.db).GetContext(ctx, &post, query, res.ID, res.PlatformPostID, res.Simulated, res.At)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.InvalidState, "scheduled post %d is not PUBLISHING", res.ID)
		}
		return nil, fmt.Errorf("mark scheduled post %d published: %w", res.ID, err)
	}
	return &post, nil
}

func (r *scheduledPostRepository) MarkFailed(ctx context.Context, res models.PublishFailure) (*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'FAILED',
			publish_error = $2,
			next_attempt_at = $3,
			retry_count = CASE WHEN $4::boolean
				THEN GREATEST(retry_count + 1, $5::integer)
				ELSE retry_count + 1 END,
			updated_at = $6
		WHERE id = $1 AND status = 'PUBLISHING'
		RETURNING ` + scheduledPostColumns

	var post models.ScheduledPost
	err := getExecutor(ctx, r.db).GetContext(ctx, &post, query,
		res.ID, res.Reason, res.NextAttemptAt, res.Exhaust, res.RetryLimit, res.At)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.InvalidState, "scheduled post %d is not PUBLISHING", res.ID)
		}
		return nil, fmt.Errorf("mark scheduled post %d failed: %w", res.ID, err)
	}
	return &post, nil
}

func (r *scheduledPostRepository) RecoverStale(ctx context.Context, before, now time.Time, reason string) ([]*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'FAILED',
			publish_error = $2,
			retry_count = retry_count + 1,
			next_attempt_at = NULL,
			updated_at = $3
		WHERE status = 'PUBLISHING' AND updated_at < $1
		RETURNING ` + scheduledPostColumns

	var posts []*models.ScheduledPost
	if err := getExecutor(ctx, r.db).SelectContext(ctx, &posts, query, before, reason, now); err != nil {
		return nil, fmt.Errorf("recover stale scheduled posts: %w", err)
	}
	return posts, nil
}
