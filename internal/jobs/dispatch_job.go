package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/internal/telemetry"
	"github.com/maheshrc27/postscheduler/pkg/clock"
	"golang.org/x/sync/errgroup"
)

// DueSource returns the posts a dispatch cycle should attempt.
type DueSource interface {
	DueForDispatch(ctx context.Context, window time.Duration) ([]*models.ScheduledPost, error)
}

// PostPublisher runs a single publish attempt.
type PostPublisher interface {
	Publish(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error)
}

// StaleRecoverer releases posts stuck in PUBLISHING. Publishers that
// implement it are asked to recover before each cycle loads due work.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

type DispatcherConfig struct {
	Lookahead   time.Duration
	Concurrency int
	// CycleTimeout bounds one whole cycle. Zero means no bound beyond the per-attempt timeout.
	CycleTimeout time.Duration
}

// DueWorkDispatcher is the periodic trigger of the publish pipeline. A tick
// that fires while the previous cycle is still running is skipped.
type DueWorkDispatcher struct {
	due       DueSource
	publisher PostPublisher
	cfg       DispatcherConfig
	clock     clock.Clock
	logger    *slog.Logger

	running  sync.Mutex
	draining atomic.Bool

	mu   sync.RWMutex
	last *models.DispatchStats
}

func NewDueWorkDispatcher(due DueSource, publisher PostPublisher, cfg DispatcherConfig, clk clock.Clock, logger *slog.Logger) *DueWorkDispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &DueWorkDispatcher{
		due:       due,
		publisher: publisher,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Job adapts the dispatcher to cron.AddFunc. Cycles stop picking up work once ctx is done.
func (d *DueWorkDispatcher) Job(ctx context.Context) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		d.RunCycle(ctx)
	}
}

// RunCycle dispatches every due post once. The returned flag is false when
// the cycle was skipped because another one was in flight.
func (d *DueWorkDispatcher) RunCycle(ctx context.Context) (models.DispatchStats, bool) {
	if !d.running.TryLock() {
		telemetry.DispatchOverlaps.Inc()
		d.logger.Warn("previous dispatch cycle still running, skipping tick")
		return models.DispatchStats{}, false
	}
	defer d.running.Unlock()

	if d.draining.Load() {
		return models.DispatchStats{}, false
	}

	if d.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CycleTimeout)
		defer cancel()
	}

	stats := models.DispatchStats{StartedAt: d.clock.Now()}
	telemetry.DispatchCycles.Inc()

	if r, ok := d.publisher.(StaleRecoverer); ok {
		n, err := r.RecoverStale(ctx)
		if err != nil {
			stats.Errors++
			d.logger.Error("failed to recover stale publish claims", "error", err)
		}
		stats.Recovered = n
	}

	due, err := d.due.DueForDispatch(ctx, d.cfg.Lookahead)
	if err != nil {
		stats.Errors++
		d.logger.Error("failed to load due posts", "error", err)
		return d.finish(stats), true
	}
	stats.Due = len(due)
	telemetry.DuePosts.Set(float64(len(due)))

	var succeeded, failed, skipped, errored atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, post := range due {
		g.Go(func() error {
			switch d.publishOne(ctx, post) {
			case models.PostStatusPublished:
				succeeded.Add(1)
			case models.PostStatusFailed:
				failed.Add(1)
			case models.PostStatusPublishing:
				skipped.Add(1)
			default:
				errored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Succeeded = int(succeeded.Load())
	stats.Failed = int(failed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Errors += int(errored.Load())
	stats.Attempted = stats.Succeeded + stats.Failed + int(errored.Load())
	return d.finish(stats), true
}

// publishOne returns the status the attempt ended in. PUBLISHING stands for a
// lost claim and the empty status for an unexpected error.
func (d *DueWorkDispatcher) publishOne(ctx context.Context, post *models.ScheduledPost) (status models.PostStatus) {
	logger := d.logger.With("post_id", post.ID, "platform", post.Platform)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("publish attempt panicked", "panic", fmt.Sprint(r))
			status = ""
		}
	}()

	result, err := d.publisher.Publish(ctx, post)
	if errors.Is(err, service.ErrNotClaimed) {
		logger.Debug("post claimed elsewhere, skipping")
		return models.PostStatusPublishing
	}
	if err != nil {
		logger.Error("publish attempt errored", "error", err)
		return ""
	}
	return result.Status
}

// Wait stops new cycles from starting and blocks until the one in flight,
// if any, has finished or ctx is done.
func (d *DueWorkDispatcher) Wait(ctx context.Context) error {
	d.draining.Store(true)

	done := make(chan struct{})
	go func() {
		d.running.Lock()
		d.running.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for dispatch cycle: %w", ctx.Err())
	}
}

func (d *DueWorkDispatcher) finish(stats models.DispatchStats) models.DispatchStats {
	stats.Duration = d.clock.Now().Sub(stats.StartedAt)
	telemetry.DispatchDuration.Observe(stats.Duration.Seconds())

	d.mu.Lock()
	last := stats
	d.last = &last
	d.mu.Unlock()

	d.logger.Info("dispatch cycle finished",
		"due", stats.Due,
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"recovered", stats.Recovered,
		"duration", stats.Duration,
	)
	return stats
}

// LastStats returns the summary of the most recent completed cycle, or nil.
func (d *DueWorkDispatcher) LastStats() *models.DispatchStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return nil
	}
	s := *d.last
	return &s
}
