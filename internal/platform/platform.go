// Package platform contains one Publisher per supported social network and the
// Registry that maps a post's platform to its publisher.
package platform

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"golang.org/x/time/rate"
)

//go:generate mockgen -source=platform.go -destination=mocks/mocks.go -package=mocks

// SimulatedPrefix marks post ids that were never confirmed by a platform.
const SimulatedPrefix = "SIMULATED_"

type Content struct {
	Message  string
	Title    string
	PostType string
}

type Result struct {
	PostID    string
	Simulated bool
}

type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, pageID string, content Content, mediaURLs []string) (Result, error)
}

// TokenRefresher is implemented by publishers holding expiring credentials.
type TokenRefresher interface {
	Platform() models.Platform
	RefreshToken(ctx context.Context) error
}

// APIError is any transport or API-level failure while talking to a platform.
// Error returns the platform's message unchanged.
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type Registry struct {
	publishers map[models.Platform]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[models.Platform]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Get(p models.Platform) (Publisher, error) {
	pub, ok := r.publishers[p]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedPlatform, "unsupported platform %q", p)
	}
	return pub, nil
}

func (r *Registry) Supports(p models.Platform) bool {
	_, ok := r.publishers[p]
	return ok
}

func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Refreshers() []TokenRefresher {
	var out []TokenRefresher
	for _, p := range r.Platforms() {
		if tr, ok := r.publishers[p].(TokenRefresher); ok {
			out = append(out, tr)
		}
	}
	return out
}

func simulate(logger *slog.Logger, p models.Platform, pageID string) Result {
	id := SimulatedPrefix + uuid.NewString()
	logger.Warn("credentials not configured, simulating publish",
		"platform", p,
		"page_id", pageID,
		"post_id", id,
		"simulated", true,
		"kind", apperr.ConfigurationMissing,
	)
	return Result{PostID: id, Simulated: true}
}

// newLimiter allows perMinute requests per minute; zero or less disables limiting.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
