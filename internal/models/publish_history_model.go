package models

import (
	"encoding/json"
	"time"
)

const (
	HistoryActionCreated    = "CREATED"
	HistoryActionUpdated    = "UPDATED"
	HistoryActionCancelled  = "CANCELLED"
	HistoryActionPublishing = "PUBLISHING"
	HistoryActionPublished  = "PUBLISHED"
	HistoryActionFailed     = "FAILED"
)

// PublishHistory is an immutable audit record, one per lifecycle transition.
type PublishHistory struct {
	ID              int64           `db:"id" json:"id"`
	ScheduledPostID int64           `db:"scheduled_post_id" json:"scheduled_post_id"`
	Action          string          `db:"action" json:"action"`
	Status          PostStatus      `db:"status" json:"status"`
	Message         string          `db:"message" json:"message"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
