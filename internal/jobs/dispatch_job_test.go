package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDue struct {
	posts  []*models.ScheduledPost
	err    error
	window time.Duration
}

func (f *fakeDue) DueForDispatch(_ context.Context, window time.Duration) ([]*models.ScheduledPost, error) {
	f.window = window
	return f.posts, f.err
}

type fakePublisher struct {
	mu    sync.Mutex
	order []int64
	fn    func(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error)
}

func (f *fakePublisher) Publish(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
	f.mu.Lock()
	f.order = append(f.order, post.ID)
	f.mu.Unlock()
	return f.fn(ctx, post)
}

func withStatus(post *models.ScheduledPost, status models.PostStatus) *models.ScheduledPost {
	out := post.Clone()
	out.Status = status
	return out
}

func posts(ids ...int64) []*models.ScheduledPost {
	out := make([]*models.ScheduledPost, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.ScheduledPost{ID: id, Platform: models.PlatformFacebook, Status: models.PostStatusPending})
	}
	return out
}

func TestRunCycle_CountsEveryOutcome(t *testing.T) {
	due := &fakeDue{posts: posts(1, 2, 3, 4, 5)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		switch post.ID {
		case 1:
			return withStatus(post, models.PostStatusPublished), nil
		case 2:
			return withStatus(post, models.PostStatusFailed), nil
		case 3:
			return nil, service.ErrNotClaimed
		case 4:
			return nil, errors.New("connection reset")
		default:
			panic("unexpected")
		}
	}}

	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: 5 * time.Minute}, clock.NewMock(testEpoch), discardLogger())
	stats, ran := d.RunCycle(context.Background())

	require.True(t, ran)
	assert.Equal(t, 5*time.Minute, due.window)
	assert.Equal(t, 5, stats.Due)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 4, stats.Attempted)
	assert.Equal(t, testEpoch, stats.StartedAt)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, pub.order)

	last := d.LastStats()
	require.NotNil(t, last)
	assert.Equal(t, stats, *last)
}

func TestRunCycle_LoadErrorIsRecorded(t *testing.T) {
	due := &fakeDue{err: errors.New("db down")}
	pub := &fakePublisher{fn: func(context.Context, *models.ScheduledPost) (*models.ScheduledPost, error) {
		t.Fatal("publish must not be called")
		return nil, nil
	}}

	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())
	assert.Nil(t, d.LastStats())

	stats, ran := d.RunCycle(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.Attempted)
	assert.NotNil(t, d.LastStats())
}

func TestRunCycle_SkipsOverlappingTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	due := &fakeDue{posts: posts(1)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		close(started)
		<-release
		return withStatus(post, models.PostStatusPublished), nil
	}}

	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())

	done := make(chan models.DispatchStats)
	go func() {
		stats, _ := d.RunCycle(context.Background())
		done <- stats
	}()
	<-started

	_, ran := d.RunCycle(context.Background())
	assert.False(t, ran)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Succeeded)
	assert.Equal(t, []int64{1}, pub.order)
}

func TestRunCycle_BoundsParallelAttempts(t *testing.T) {
	var inFlight, peak atomic.Int64
	due := &fakeDue{posts: posts(1, 2, 3, 4, 5, 6)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return withStatus(post, models.PostStatusPublished), nil
	}}

	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute, Concurrency: 2}, clock.NewMock(testEpoch), discardLogger())
	stats, ran := d.RunCycle(context.Background())

	require.True(t, ran)
	assert.Equal(t, 6, stats.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestJob_StopsAfterContextDone(t *testing.T) {
	due := &fakeDue{posts: posts(1)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		return withStatus(post, models.PostStatusPublished), nil
	}}
	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	job := d.Job(ctx)
	job()
	cancel()
	job()

	assert.Equal(t, []int64{1}, pub.order)
}

func TestWait_DrainsInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	due := &fakeDue{posts: posts(1)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		close(started)
		<-release
		return withStatus(post, models.PostStatusPublished), nil
	}}
	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())

	go d.RunCycle(context.Background())
	<-started

	waited := make(chan error, 1)
	go func() { waited <- d.Wait(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("Wait returned while a cycle was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-waited)
	require.NotNil(t, d.LastStats())
	assert.Equal(t, 1, d.LastStats().Succeeded)

	_, ran := d.RunCycle(context.Background())
	assert.False(t, ran)
	assert.Equal(t, []int64{1}, pub.order)
}

func TestWait_GivesUpWhenContextExpires(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	due := &fakeDue{posts: posts(1)}
	pub := &fakePublisher{fn: func(_ context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
		close(started)
		<-release
		return withStatus(post, models.PostStatusPublished), nil
	}}
	d := NewDueWorkDispatcher(due, pub, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())

	go d.RunCycle(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait_IdleDispatcherReturnsImmediately(t *testing.T) {
	d := NewDueWorkDispatcher(&fakeDue{}, &fakePublisher{}, DispatcherConfig{Lookahead: time.Minute}, clock.NewMock(testEpoch), discardLogger())
	require.NoError(t, d.Wait(context.Background()))
}
