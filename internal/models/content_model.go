package models

import (
	"time"

	"github.com/lib/pq"
)

const (
	ContentStatusDraft    = "DRAFT"
	ContentStatusApproved = "APPROVED"
	ContentStatusRejected = "REJECTED"
)

// Content is a generated content item. The scheduling core only reads it.
type Content struct {
	ID          int64          `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Body        string         `db:"content" json:"content"`
	ContentType string         `db:"content_type" json:"content_type"`
	MediaRefs   pq.StringArray `db:"media_refs" json:"media_refs"`
	Status      string         `db:"status" json:"status"`
	ApprovedBy  *int64         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
