package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

type ScheduleRequest struct {
	ContentID     int64
	Platform      models.Platform
	PageID        string
	ScheduledTime time.Time
	PostType      string
	MediaURLs     []string
	Hashtags      []string
	CallToAction  *string
	CreatedBy     *int64
}

// UpdateRequest carries a partial update. Nil fields are left untouched.
type UpdateRequest struct {
	ContentID     *int64
	Platform      *models.Platform
	PageID        *string
	ScheduledTime *time.Time
	PostType      *string
	MediaURLs     *[]string
	Hashtags      *[]string
	CallToAction  *string
}

type BulkResult struct {
	Index int                   `json:"index"`
	Post  *models.ScheduledPost `json:"post,omitempty"`
	Err   error                 `json:"-"`
}

type SchedulingOptions struct {
	MissedGrace time.Duration
	RetryBudget int
}

type SchedulingService interface {
	Schedule(ctx context.Context, req ScheduleRequest) (*models.ScheduledPost, error)
	BulkSchedule(ctx context.Context, reqs []ScheduleRequest) []BulkResult
	Update(ctx context.Context, id int64, req UpdateRequest) (*models.ScheduledPost, error)
	Reschedule(ctx context.Context, id int64, at time.Time) (*models.ScheduledPost, error)
	Cancel(ctx context.Context, id int64) (*models.ScheduledPost, error)
	Get(ctx context.Context, id int64) (*models.ScheduledPost, error)
	List(ctx context.Context, filter models.PostFilter) ([]*models.ScheduledPost, error)
	Upcoming(ctx context.Context, within time.Duration) ([]*models.ScheduledPost, error)
	Calendar(ctx context.Context, from, to time.Time) (map[string][]*models.ScheduledPost, error)
	History(ctx context.Context, id int64) ([]*models.PublishHistory, error)
	// DueForDispatch returns PENDING posts scheduled in [now-grace, now+window)
	// followed by FAILED posts that still have retry budget.
	DueForDispatch(ctx context.Context, window time.Duration) ([]*models.ScheduledPost, error)
}

type schedulingService struct {
	posts    repository.ScheduledPostRepository
	contents ContentProvider
	tx       repository.TransactionManager
	history  *historyRecorder
	clock    clock.Clock
	opts     SchedulingOptions
	logger   *slog.Logger
}

func NewSchedulingService(
	posts repository.ScheduledPostRepository,
	history repository.PublishHistoryRepository,
	contents ContentProvider,
	tx repository.TransactionManager,
	events EventPublisher,
	clk clock.Clock,
	opts SchedulingOptions,
	logger *slog.Logger,
) SchedulingService {
	logger = logger.With("component", "scheduling_service")
	return &schedulingService{
		posts:    posts,
		contents: contents,
		tx:       tx,
		history:  &historyRecorder{log: history, events: events, clock: clk, logger: logger},
		clock:    clk,
		opts:     opts,
		logger:   logger,
	}
}

func (s *schedulingService) Schedule(ctx context.Context, req ScheduleRequest) (*models.ScheduledPost, error) {
	if !req.Platform.Valid() {
		return nil, apperr.New(apperr.UnsupportedPlatform, "unsupported platform %q", req.Platform)
	}
	if _, err := s.contents.GetApproved(ctx, req.ContentID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !req.ScheduledTime.After(now) {
		return nil, apperr.New(apperr.InvalidSchedule, "scheduled time %s must be in the future", req.ScheduledTime.UTC().Format(time.RFC3339))
	}

	post := &models.ScheduledPost{
		ContentID:      req.ContentID,
		Platform:       req.Platform,
		PlatformPageID: req.PageID,
		ScheduledTime:  req.ScheduledTime.UTC(),
		PostType:       req.PostType,
		MediaURLs:      append([]string{}, req.MediaURLs...),
		Hashtags:       append([]string{}, req.Hashtags...),
		CallToAction:   req.CallToAction,
		Status:         models.PostStatusPending,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := s.posts.Create(ctx, post); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create scheduled post")
	}

	s.history.record(ctx, post, models.HistoryActionCreated, "Scheduled post created", map[string]interface{}{
		"scheduled_time": post.ScheduledTime,
		"platform":       post.Platform,
	})
	s.logger.Info("post scheduled", "post_id", post.ID, "platform", post.Platform, "scheduled_time", post.ScheduledTime)
	return post, nil
}

func (s *schedulingService) BulkSchedule(ctx context.Context, reqs []ScheduleRequest) []BulkResult {
	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		post, err := s.Schedule(ctx, req)
		results[i] = BulkResult{Index: i, Post: post, Err: err}
	}
	return results
}

func (s *schedulingService) Update(ctx context.Context, id int64, req UpdateRequest) (*models.ScheduledPost, error) {
	var updated *models.ScheduledPost

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		post, err := s.pendingForUpdate(ctx, id, "update")
		if err != nil {
			return err
		}
		now := s.clock.Now()

		if req.ContentID != nil {
			if _, err := s.contents.GetApproved(ctx, *req.ContentID); err != nil {
				return err
			}
			post.ContentID = *req.ContentID
		}
		if req.Platform != nil {
			if !req.Platform.Valid() {
				return apperr.New(apperr.UnsupportedPlatform, "unsupported platform %q", *req.Platform)
			}
			post.Platform = *req.Platform
		}
		if req.PageID != nil {
			post.PlatformPageID = *req.PageID
		}
		if req.ScheduledTime != nil {
			if !req.ScheduledTime.After(now) {
				return apperr.New(apperr.InvalidSchedule, "scheduled time %s must be in the future", req.ScheduledTime.UTC().Format(time.RFC3339))
			}
			post.ScheduledTime = req.ScheduledTime.UTC()
		}
		if req.PostType != nil {
			post.PostType = *req.PostType
		}
		if req.MediaURLs != nil {
			post.MediaURLs = append([]string{}, (*req.MediaURLs)...)
		}
		if req.Hashtags != nil {
			post.Hashtags = append([]string{}, (*req.Hashtags)...)
		}
		if req.CallToAction != nil {
			cta := *req.CallToAction
			post.CallToAction = &cta
		}
		post.UpdatedAt = now

		if err := s.posts.Update(ctx, post); err != nil {
			return err
		}
		updated = post
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.history.record(ctx, updated, models.HistoryActionUpdated, "Scheduled post updated", nil)
	return updated, nil
}

func (s *schedulingService) Reschedule(ctx context.Context, id int64, at time.Time) (*models.ScheduledPost, error) {
	return s.Update(ctx, id, UpdateRequest{ScheduledTime: &at})
}

func (s *schedulingService) Cancel(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	var cancelled *models.ScheduledPost

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		post, err := s.pendingForUpdate(ctx, id, "cancel")
		if err != nil {
			return err
		}
		post.Status = models.PostStatusCancelled
		post.UpdatedAt = s.clock.Now()
		if err := s.posts.Update(ctx, post); err != nil {
			return err
		}
		cancelled = post
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.history.record(ctx, cancelled, models.HistoryActionCancelled, "Scheduled post cancelled", nil)
	s.logger.Info("post cancelled", "post_id", cancelled.ID)
	return cancelled, nil
}

func (s *schedulingService) pendingForUpdate(ctx context.Context, id int64, op string) (*models.ScheduledPost, error) {
	post, err := s.posts.GetForUpdate(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load scheduled post")
	}
	if post == nil {
		return nil, apperr.New(apperr.NotFound, "scheduled post %d not found", id)
	}
	if post.Status != models.PostStatusPending {
		return nil, apperr.New(apperr.InvalidState, "cannot %s post %d in status %s", op, id, post.Status)
	}
	return post, nil
}

func (s *schedulingService) Get(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load scheduled post")
	}
	if post == nil {
		return nil, apperr.New(apperr.NotFound, "scheduled post %d not found", id)
	}
	return post, nil
}

func (s *schedulingService) List(ctx context.Context, filter models.PostFilter) ([]*models.ScheduledPost, error) {
	posts, err := s.posts.List(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to list scheduled posts")
	}
	return posts, nil
}

func (s *schedulingService) Upcoming(ctx context.Context, within time.Duration) ([]*models.ScheduledPost, error) {
	now := s.clock.Now()
	to := now.Add(within)
	return s.List(ctx, models.PostFilter{Status: models.PostStatusPending, From: &now, To: &to})
}

// Calendar groups posts scheduled in [from, to) by their UTC date (YYYY-MM-DD).
func (s *schedulingService) Calendar(ctx context.Context, from, to time.Time) (map[string][]*models.ScheduledPost, error) {
	if !to.After(from) {
		return nil, apperr.New(apperr.InvalidRequest, "calendar end must be after start")
	}
	posts, err := s.List(ctx, models.PostFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	days := make(map[string][]*models.ScheduledPost)
	for _, p := range posts {
		day := p.ScheduledTime.UTC().Format(time.DateOnly)
		days[day] = append(days[day], p)
	}
	return days, nil
}

func (s *schedulingService) History(ctx context.Context, id int64) ([]*models.PublishHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.history.log.ListByPostID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load publish history")
	}
	return entries, nil
}

func (s *schedulingService) DueForDispatch(ctx context.Context, window time.Duration) ([]*models.ScheduledPost, error) {
	now := s.clock.Now()
	until := now.Add(window)

	pending, err := s.posts.FindDue(ctx, now.Add(-s.opts.MissedGrace), until, models.PostStatusPending)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to find due posts")
	}
	retryable, err := s.posts.FindRetryable(ctx, until, now, s.opts.RetryBudget)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to find retryable posts")
	}

	due := append(pending, retryable...)
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledTime.Before(due[j].ScheduledTime)
	})
	return due, nil
}
