package job

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/maheshrc27/postscheduler/internal/platform"
	"golang.org/x/sync/errgroup"
)

type TokenRefreshJob struct {
	refreshers []platform.TokenRefresher
	logger     *slog.Logger
}

func NewTokenRefreshJob(refreshers []platform.TokenRefresher, logger *slog.Logger) *TokenRefreshJob {
	return &TokenRefreshJob{
		refreshers: refreshers,
		logger:     logger.With("component", "token_refresh"),
	}
}

func (j *TokenRefreshJob) Job(ctx context.Context) func() {
	return func() {
		j.RefreshTokens(ctx)
	}
}

// RefreshTokens refreshes every publisher that supports it and returns how
// many refreshes failed. One failure does not stop the others.
func (j *TokenRefreshJob) RefreshTokens(ctx context.Context) int {
	var failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, r := range j.refreshers {
		g.Go(func() error {
			if err := r.RefreshToken(ctx); err != nil {
				failed.Add(1)
				j.logger.Error("unable to refresh token", "platform", r.Platform(), "error", err)
				return nil
			}
			j.logger.Info("token refreshed", "platform", r.Platform())
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}
