package transfer

import (
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
)

type ScheduledPostRequest struct {
	ContentID     int64     `json:"content_id"`
	Platform      string    `json:"platform"`
	PageID        string    `json:"page_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	PostType      string    `json:"post_type"`
	MediaURLs     []string  `json:"media_urls"`
	Hashtags      []string  `json:"hashtags"`
	CallToAction  *string   `json:"call_to_action"`
}

// ScheduledPostUpdate is a partial update; omitted fields keep their value.
type ScheduledPostUpdate struct {
	ContentID     *int64     `json:"content_id"`
	Platform      *string    `json:"platform"`
	PageID        *string    `json:"page_id"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	PostType      *string    `json:"post_type"`
	MediaURLs     *[]string  `json:"media_urls"`
	Hashtags      *[]string  `json:"hashtags"`
	CallToAction  *string    `json:"call_to_action"`
}

type RescheduleRequest struct {
	ScheduledTime time.Time `json:"scheduled_time"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type BulkItemResult struct {
	Index int                   `json:"index"`
	Post  *models.ScheduledPost `json:"post,omitempty"`
	Error *ErrorBody            `json:"error,omitempty"`
}

type BulkScheduleResponse struct {
	Scheduled int              `json:"scheduled"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

type PublishNowResponse struct {
	Post  *models.ScheduledPost `json:"post"`
	Error *ErrorBody            `json:"error,omitempty"`
}

type StatusResponse struct {
	Status     string                `json:"status"`
	Database   string                `json:"database"`
	Dispatcher string                `json:"dispatcher"`
	LastBeat   *time.Time            `json:"last_heartbeat,omitempty"`
	LastCycle  *models.DispatchStats `json:"last_cycle,omitempty"`
	Platforms  []models.Platform     `json:"platforms"`
	Time       time.Time             `json:"time"`
}
