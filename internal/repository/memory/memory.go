// Package memory holds map-backed repositories with the same semantics as the
// postgres ones. Services and jobs use them in tests.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/repository"
)

var (
	_ repository.ScheduledPostRepository  = (*Store)(nil)
	_ repository.PublishHistoryRepository = (*HistoryLog)(nil)
	_ repository.ContentRepository        = (*ContentStore)(nil)
	_ repository.TransactionManager       = TxManager{}
)

type Store struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.ScheduledPost
}

func NewStore() *Store {
	return &Store{posts: make(map[int64]*models.ScheduledPost)}
}

func (s *Store) Create(_ context.Context, post *models.ScheduledPost) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	post.ID = s.nextID
	s.posts[post.ID] = post.Clone()
	return post.ID, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[id].Clone(), nil
}

func (s *Store) GetForUpdate(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	return s.GetByID(ctx, id)
}

func (s *Store) Update(_ context.Context, post *models.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.posts[post.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "scheduled post %d not found", post.ID)
	}
	next := cur.Clone()
	next.ContentID = post.ContentID
	next.Platform = post.Platform
	next.PlatformPageID = post.PlatformPageID
	next.ScheduledTime = post.ScheduledTime
	next.PostType = post.PostType
	next.MediaURLs = append(next.MediaURLs[:0:0], post.MediaURLs...)
	next.Hashtags = append(next.Hashtags[:0:0], post.Hashtags...)
	next.CallToAction = post.Clone().CallToAction
	next.Status = post.Status
	next.UpdatedAt = post.UpdatedAt
	s.posts[post.ID] = next
	return nil
}

func (s *Store) List(_ context.Context, filter models.PostFilter) ([]*models.ScheduledPost, error) {
	return s.collect(func(p *models.ScheduledPost) bool {
		if filter.Status != "" && p.Status != filter.Status {
			return false
		}
		if filter.Platform != "" && p.Platform != filter.Platform {
			return false
		}
		if filter.From != nil && p.ScheduledTime.Before(*filter.From) {
			return false
		}
		if filter.To != nil && !p.ScheduledTime.Before(*filter.To) {
			return false
		}
		return true
	}), nil
}

func (s *Store) FindDue(_ context.Context, from, to time.Time, status models.PostStatus) ([]*models.ScheduledPost, error) {
	return s.collect(func(p *models.ScheduledPost) bool {
		return p.Status == status && !p.ScheduledTime.Before(from) && p.ScheduledTime.Before(to)
	}), nil
}

func (s *Store) FindRetryable(_ context.Context, before, now time.Time, retryLimit int) ([]*models.ScheduledPost, error) {
	return s.collect(func(p *models.ScheduledPost) bool {
		return p.Status == models.PostStatusFailed &&
			p.RetryCount < retryLimit &&
			p.ScheduledTime.Before(before) &&
			(p.NextAttemptAt == nil || !p.NextAttemptAt.After(now))
	}), nil
}

func (s *Store) collect(match func(*models.ScheduledPost) bool) []*models.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ScheduledPost
	for _, p := range s.posts {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}

func (s *Store) Claim(_ context.Context, params models.ClaimParams) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[params.ID]
	if !ok || !slices.Contains(params.From, p.Status) {
		return nil, nil
	}
	if p.Status == models.PostStatusFailed && p.RetryCount >= params.RetryLimit {
		return nil, nil
	}
	if p.NextAttemptAt != nil && p.NextAttemptAt.After(params.Now) {
		return nil, nil
	}
	p.Status = models.PostStatusPublishing
	p.UpdatedAt = params.Now
	return p.Clone(), nil
}

func (s *Store) MarkPublished(_ context.Context, res models.PublishSuccess) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[res.ID]
	if !ok || p.Status != models.PostStatusPublishing {
		return nil, apperr.New(apperr.InvalidState, "scheduled post %d is not PUBLISHING", res.ID)
	}
	postID, at := res.PlatformPostID, res.At
	p.Status = models.PostStatusPublished
	p.PostID = &postID
	p.Simulated = res.Simulated
	p.PublishedAt = &at
	p.PublishError = nil
	p.NextAttemptAt = nil
	p.UpdatedAt = res.At
	return p.Clone(), nil
}

func (s *Store) MarkFailed(_ context.Context, res models.PublishFailure) (*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[res.ID]
	if !ok || p.Status != models.PostStatusPublishing {
		return nil, apperr.New(apperr.InvalidState, "scheduled post %d is not PUBLISHING", res.ID)
	}
	reason := res.Reason
	p.Status = models.PostStatusFailed
	p.PublishError = &reason
	p.RetryCount++
	if res.Exhaust && p.RetryCount < res.RetryLimit {
		p.RetryCount = res.RetryLimit
	}
	p.NextAttemptAt = nil
	if res.NextAttemptAt != nil {
		next := *res.NextAttemptAt
		p.NextAttemptAt = &next
	}
	p.UpdatedAt = res.At
	return p.Clone(), nil
}

func (s *Store) RecoverStale(_ context.Context, before, now time.Time, reason string) ([]*models.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ScheduledPost
	for _, p := range s.posts {
		if p.Status != models.PostStatusPublishing || !p.UpdatedAt.Before(before) {
			continue
		}
		msg := reason
		p.Status = models.PostStatusFailed
		p.PublishError = &msg
		p.RetryCount++
		p.NextAttemptAt = nil
		p.UpdatedAt = now
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores post as-is, bypassing validation. Tests use it to seed any state.
func (s *Store) Put(post *models.ScheduledPost) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ID == 0 {
		s.nextID++
		post.ID = s.nextID
	} else if post.ID > s.nextID {
		s.nextID = post.ID
	}
	s.posts[post.ID] = post.Clone()
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

type HistoryLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.PublishHistory
	// Err, when set, is returned by Append.
	Err error
}

func NewHistoryLog() *HistoryLog {
	return &HistoryLog{}
}

func (h *HistoryLog) Append(_ context.Context, entry *models.PublishHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Err != nil {
		return h.Err
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage(`{}`)
	}
	h.nextID++
	entry.ID = h.nextID
	c := *entry
	h.entries = append(h.entries, &c)
	return nil
}

func (h *HistoryLog) ListByPostID(_ context.Context, postID int64) ([]*models.PublishHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*models.PublishHistory
	for _, e := range h.entries {
		if e.ScheduledPostID == postID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// Messages returns the message of every entry for postID, oldest first.
func (h *HistoryLog) Messages(postID int64) []string {
	entries, _ := h.ListByPostID(context.Background(), postID)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

type ContentStore struct {
	mu    sync.Mutex
	items map[int64]*models.Content
}

func NewContentStore(items ...*models.Content) *ContentStore {
	c := &ContentStore{items: make(map[int64]*models.Content)}
	for _, it := range items {
		c.Put(it)
	}
	return c
}

func (c *ContentStore) Put(item *models.Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *item
	c.items[item.ID] = &cp
}

func (c *ContentStore) GetByID(_ context.Context, id int64) (*models.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (c *ContentStore) GetApproved(ctx context.Context, id int64) (*models.Content, error) {
	item, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return repository.CheckApproved(id, item)
}

// TxManager runs fn directly; each Store call is already atomic.
type TxManager struct{}

func (TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
