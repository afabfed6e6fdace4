package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/platform"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/telemetry"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

// ErrNotClaimed is returned when another worker moved the post out of a
// claimable status first. The caller should skip the post.
var ErrNotClaimed = errors.New("post was not claimable")

const interruptedReason = "publish attempt interrupted"

type PublishOptions struct {
	RetryBudget int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// StaleAfter is how long a post may stay PUBLISHING before RecoverStale
	// fails it. Zero means twice Timeout.
	StaleAfter time.Duration
}

type PublishService interface {
	// Publish runs one attempt for a post picked by the dispatcher. It returns
	// the post in its terminal status for the attempt, or ErrNotClaimed.
	Publish(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error)
	// PublishNow publishes a PENDING post immediately.
	PublishNow(ctx context.Context, id int64) (*models.ScheduledPost, error)
	// RecoverStale fails posts left PUBLISHING by an attempt that never
	// finished and returns how many it recovered.
	RecoverStale(ctx context.Context) (int, error)
}

type publishService struct {
	posts     repository.ScheduledPostRepository
	contents  ContentProvider
	registry  *platform.Registry
	history   *historyRecorder
	escalator Escalator
	clock     clock.Clock
	opts      PublishOptions
	logger    *slog.Logger
}

func NewPublishService(
	posts repository.ScheduledPostRepository,
	history repository.PublishHistoryRepository,
	contents ContentProvider,
	registry *platform.Registry,
	events EventPublisher,
	escalator Escalator,
	clk clock.Clock,
	opts PublishOptions,
	logger *slog.Logger,
) PublishService {
	logger = logger.With("component", "publish_orchestrator")
	return &publishService{
		posts:     posts,
		contents:  contents,
		registry:  registry,
		history:   &historyRecorder{log: history, events: events, clock: clk, logger: logger},
		escalator: escalator,
		clock:     clk,
		opts:      opts,
		logger:    logger,
	}
}

// attemptFailure describes why a claimed post could not be published.
type attemptFailure struct {
	kind    apperr.Kind
	reason  string
	exhaust bool
	timeout bool
}

func (s *publishService) Publish(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
	result, _, err := s.attempt(ctx, post.ID, []models.PostStatus{models.PostStatusPending, models.PostStatusFailed})
	return result, err
}

func (s *publishService) PublishNow(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load scheduled post")
	}
	if post == nil {
		return nil, apperr.New(apperr.NotFound, "scheduled post %d not found", id)
	}
	if post.Status != models.PostStatusPending {
		return nil, apperr.New(apperr.InvalidState, "cannot publish post %d in status %s", id, post.Status)
	}

	result, failure, err := s.attempt(ctx, id, []models.PostStatus{models.PostStatusPending})
	if errors.Is(err, ErrNotClaimed) {
		return nil, apperr.New(apperr.InvalidState, "post %d is no longer PENDING", id)
	}
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return result, apperr.New(failure.kind, "%s", failure.reason)
	}
	return result, nil
}

func (s *publishService) attempt(ctx context.Context, id int64, from []models.PostStatus) (*models.ScheduledPost, *attemptFailure, error) {
	claimed, err := s.posts.Claim(ctx, models.ClaimParams{
		ID:         id,
		From:       from,
		RetryLimit: s.opts.RetryBudget,
		Now:        s.clock.Now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("claim post %d: %w", id, err)
	}
	if claimed == nil {
		telemetry.ClaimsLost.Inc()
		return nil, nil, ErrNotClaimed
	}

	logger := s.logger.With("post_id", claimed.ID, "platform", claimed.Platform, "retry_count", claimed.RetryCount)

	// The post must leave PUBLISHING even when the caller gives up mid-attempt.
	writeCtx := context.WithoutCancel(ctx)
	s.history.record(writeCtx, claimed, models.HistoryActionPublishing, "PUBLISHING started", nil)

	res, failure := s.publishClaimed(ctx, claimed)
	if failure != nil {
		failed, err := s.fail(writeCtx, claimed, failure)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("publish attempt failed", "reason", failure.reason, "retry_count", failed.RetryCount)
		return failed, failure, nil
	}

	published, err := s.posts.MarkPublished(writeCtx, models.PublishSuccess{
		ID:             claimed.ID,
		PlatformPostID: res.PostID,
		Simulated:      res.Simulated,
		At:             s.clock.Now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("mark post %d published: %w", claimed.ID, err)
	}

	message := "PUBLISHED"
	outcome := telemetry.OutcomePublished
	if res.Simulated {
		message = "PUBLISHED [SIMULATED: no platform credentials configured]"
		outcome = telemetry.OutcomeSimulated
	}
	telemetry.PublishAttempts.WithLabelValues(string(published.Platform), outcome).Inc()
	s.history.record(writeCtx, published, models.HistoryActionPublished, message, map[string]interface{}{
		"platform_post_id": res.PostID,
		"simulated":        res.Simulated,
	})

	logger.Info("post published", "platform_post_id", res.PostID, "simulated", res.Simulated)
	return published, nil, nil
}

func (s *publishService) publishClaimed(ctx context.Context, post *models.ScheduledPost) (platform.Result, *attemptFailure) {
	content, err := s.contents.GetApproved(ctx, post.ContentID)
	if err != nil {
		return platform.Result{}, &attemptFailure{kind: apperr.KindOf(err), reason: err.Error()}
	}

	publisher, err := s.registry.Get(post.Platform)
	if err != nil {
		return platform.Result{}, &attemptFailure{kind: apperr.UnsupportedPlatform, reason: err.Error(), exhaust: true}
	}

	mediaURLs := []string(post.MediaURLs)
	if len(mediaURLs) == 0 {
		mediaURLs = content.MediaRefs
	}
	payload := platform.Content{
		Message:  composeMessage(content.Body, post.CallToAction, post.Hashtags),
		Title:    content.Title,
		PostType: post.PostType,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	res, err := callPublisher(attemptCtx, publisher, post.PlatformPageID, payload, mediaURLs)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return platform.Result{}, &attemptFailure{
				kind:    apperr.PlatformAPI,
				reason:  fmt.Sprintf("publish timed out after %s", s.opts.Timeout),
				timeout: true,
			}
		}
		return platform.Result{}, &attemptFailure{kind: apperr.PlatformAPI, reason: err.Error()}
	}
	if res.PostID == "" {
		return platform.Result{}, &attemptFailure{kind: apperr.PlatformAPI, reason: "platform returned an empty post id"}
	}
	return res, nil
}

func callPublisher(ctx context.Context, p platform.Publisher, pageID string, content platform.Content, mediaURLs []string) (res platform.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return p.Publish(ctx, pageID, content, mediaURLs)
}

func (s *publishService) fail(ctx context.Context, post *models.ScheduledPost, failure *attemptFailure) (*models.ScheduledPost, error) {
	now := s.clock.Now()
	retry := post.RetryCount + 1
	exhausted := failure.exhaust || retry >= s.opts.RetryBudget

	var next *time.Time
	if !exhausted && s.opts.BackoffBase > 0 {
		at := now.Add(backoff(s.opts.BackoffBase, s.opts.BackoffMax, retry))
		next = &at
	}

	failed, err := s.posts.MarkFailed(ctx, models.PublishFailure{
		ID:            post.ID,
		Reason:        failure.reason,
		NextAttemptAt: next,
		Exhaust:       failure.exhaust,
		RetryLimit:    s.opts.RetryBudget,
		At:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("mark post %d failed: %w", post.ID, err)
	}

	outcome := telemetry.OutcomeFailed
	if failure.timeout {
		outcome = telemetry.OutcomeTimeout
	}
	telemetry.PublishAttempts.WithLabelValues(string(failed.Platform), outcome).Inc()

	meta := map[string]interface{}{
		"kind":        failure.kind,
		"retry_count": failed.RetryCount,
		"exhausted":   exhausted,
	}
	if next != nil {
		meta["next_attempt_at"] = *next
	}
	s.history.record(ctx, failed, models.HistoryActionFailed, "FAILED: "+failure.reason, meta)

	if exhausted {
		s.escalate(ctx, failed, failure.reason)
	}
	return failed, nil
}

func (s *publishService) escalate(ctx context.Context, post *models.ScheduledPost, reason string) {
	telemetry.Escalations.Inc()
	if s.escalator == nil {
		return
	}
	if err := s.escalator.Escalate(ctx, post, reason); err != nil {
		s.logger.Error("failed to escalate exhausted post", "post_id", post.ID, "error", err)
	}
}

func (s *publishService) RecoverStale(ctx context.Context) (int, error) {
	staleAfter := s.opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 2 * s.opts.Timeout
	}
	if staleAfter <= 0 {
		return 0, nil
	}

	now := s.clock.Now()
	recovered, err := s.posts.RecoverStale(ctx, now.Add(-staleAfter), now, interruptedReason)
	if err != nil {
		return 0, err
	}

	telemetry.StaleRecovered.Add(float64(len(recovered)))
	for _, post := range recovered {
		exhausted := post.RetryCount >= s.opts.RetryBudget
		telemetry.PublishAttempts.WithLabelValues(string(post.Platform), telemetry.OutcomeFailed).Inc()
		s.logger.Warn("recovered stale publish claim", "post_id", post.ID, "retry_count", post.RetryCount)
		s.history.record(ctx, post, models.HistoryActionFailed, "FAILED: "+interruptedReason, map[string]interface{}{
			"kind":        apperr.Internal,
			"retry_count": post.RetryCount,
			"exhausted":   exhausted,
		})
		if exhausted {
			s.escalate(ctx, post, interruptedReason)
		}
	}
	return len(recovered), nil
}

// backoff returns base * 2^(retry-1), capped at limit when limit is positive.
func backoff(base, limit time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(retry-1)))
	if wait <= 0 || (limit > 0 && wait > limit) {
		return limit
	}
	return wait
}

// composeMessage joins the content text, the call to action and the hashtags
// into the text sent to the platform.
func composeMessage(body string, cta *string, hashtags []string) string {
	var parts []string
	if b := strings.TrimSpace(body); b != "" {
		parts = append(parts, b)
	}
	if cta != nil {
		if c := strings.TrimSpace(*cta); c != "" {
			parts = append(parts, c)
		}
	}

	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	if len(tags) > 0 {
		parts = append(parts, strings.Join(tags, " "))
	}
	return strings.Join(parts, "\n\n")
}
