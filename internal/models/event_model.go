package models

import "time"

// LifecycleEvent mirrors a history entry for downstream consumers.
type LifecycleEvent struct {
	PostID         int64      `json:"post_id"`
	Platform       Platform   `json:"platform"`
	Action         string     `json:"action"`
	Status         PostStatus `json:"status"`
	Message        string     `json:"message"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	Simulated      bool       `json:"simulated,omitempty"`
	RetryCount     int        `json:"retry_count"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// DispatchStats summarises one dispatcher cycle.
type DispatchStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	// Recovered counts stale PUBLISHING claims failed at the start of the cycle.
	Recovered int `json:"recovered"`
}
