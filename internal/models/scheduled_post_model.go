package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostStatus string

const (
	PostStatusPending    PostStatus = "PENDING"
	PostStatusPublishing PostStatus = "PUBLISHING"
	PostStatusPublished  PostStatus = "PUBLISHED"
	PostStatusFailed     PostStatus = "FAILED"
	PostStatusCancelled  PostStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s without a retry.
func (s PostStatus) Terminal() bool {
	return s == PostStatusPublished || s == PostStatusCancelled
}

type Platform string

const (
	PlatformFacebook  Platform = "FACEBOOK"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformYouTube   Platform = "YOUTUBE"
)

func ParsePlatform(s string) Platform {
	return Platform(strings.ToUpper(strings.TrimSpace(s)))
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformYouTube:
		return true
	}
	return false
}

type ScheduledPost struct {
	ID             int64          `db:"id" json:"id"`
	ContentID      int64          `db:"content_id" json:"content_id"`
	Platform       Platform       `db:"platform" json:"platform"`
	PlatformPageID string         `db:"platform_page_id" json:"platform_page_id"`
	ScheduledTime  time.Time      `db:"scheduled_time" json:"scheduled_time"`
	PostType       string         `db:"post_type" json:"post_type"`
	MediaURLs      pq.StringArray `db:"media_urls" json:"media_urls"`
	Hashtags       pq.StringArray `db:"hashtags" json:"hashtags"`
	CallToAction   *string        `db:"call_to_action" json:"call_to_action,omitempty"`
	Status         PostStatus     `db:"status" json:"status"`
	PostID         *string        `db:"post_id" json:"post_id,omitempty"` // platform-assigned, set only when PUBLISHED
	Simulated      bool           `db:"simulated" json:"simulated"`
	PublishedAt    *time.Time     `db:"published_at" json:"published_at,omitempty"`
	PublishError   *string        `db:"publish_error" json:"publish_error,omitempty"`
	RetryCount     int            `db:"retry_count" json:"retry_count"`
	NextAttemptAt  *time.Time     `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LikesCount     int            `db:"likes_count" json:"likes_count"`
	CommentsCount  int            `db:"comments_count" json:"comments_count"`
	SharesCount    int            `db:"shares_count" json:"shares_count"`
	Reach          int            `db:"reach" json:"reach"`
	CreatedBy      *int64         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (p *ScheduledPost) Clone() *ScheduledPost {
	if p == nil {
		return nil
	}
	c := *p
	c.MediaURLs = append(pq.StringArray(nil), p.MediaURLs...)
	c.Hashtags = append(pq.StringArray(nil), p.Hashtags...)
	c.CallToAction = clonePtr(p.CallToAction)
	c.PostID = clonePtr(p.PostID)
	c.PublishError = clonePtr(p.PublishError)
	c.PublishedAt = clonePtr(p.PublishedAt)
	c.NextAttemptAt = clonePtr(p.NextAttemptAt)
	c.CreatedBy = clonePtr(p.CreatedBy)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// PostFilter narrows List queries. Zero values match everything.
type PostFilter struct {
	Status   PostStatus
	Platform Platform
	From     *time.Time
	To       *time.Time
}

// ClaimParams describes the conditional PENDING/FAILED -> PUBLISHING transition.
type ClaimParams struct {
	ID         int64
	From       []PostStatus
	RetryLimit int
	Now        time.Time
}

type PublishSuccess struct {
	ID             int64
	PlatformPostID string
	Simulated      bool
	At             time.Time
}

type PublishFailure struct {
	ID            int64
	Reason        string
	NextAttemptAt *time.Time
	// Exhaust forces the retry counter up to RetryLimit so the post is never retried.
	Exhaust    bool
	RetryLimit int
	At         time.Time
}
