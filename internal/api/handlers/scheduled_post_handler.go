package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

const (
	defaultUpcomingHours = 24
	defaultCalendarDays  = 30
)

type ScheduledPostHandler struct {
	scheduling service.SchedulingService
	publish    service.PublishService
	clock      clock.Clock
}

func NewScheduledPostHandler(scheduling service.SchedulingService, publish service.PublishService, clk clock.Clock) *ScheduledPostHandler {
	return &ScheduledPostHandler{scheduling: scheduling, publish: publish, clock: clk}
}

// Register mounts the routes on r. Static paths go before /:id.
func (h *ScheduledPostHandler) Register(r fiber.Router) {
	r.Post("/", h.Create)
	r.Post("/bulk", h.BulkCreate)
	r.Get("/", h.List)
	r.Get("/upcoming", h.Upcoming)
	r.Get("/calendar", h.Calendar)
	r.Get("/:id", h.Get)
	r.Get("/:id/history", h.History)
	r.Put("/:id", h.Update)
	r.Post("/:id/reschedule", h.Reschedule)
	r.Delete("/:id", h.Cancel)
	r.Post("/:id/publish-now", h.PublishNow)
}

func toScheduleRequest(in transfer.ScheduledPostRequest, userID *int64) service.ScheduleRequest {
	return service.ScheduleRequest{
		ContentID:     in.ContentID,
		Platform:      models.ParsePlatform(in.Platform),
		PageID:        in.PageID,
		ScheduledTime: in.ScheduledTime,
		PostType:      in.PostType,
		MediaURLs:     in.MediaURLs,
		Hashtags:      in.Hashtags,
		CallToAction:  in.CallToAction,
		CreatedBy:     userID,
	}
}

func (h *ScheduledPostHandler) Create(c *fiber.Ctx) error {
	var in transfer.ScheduledPostRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "unable to parse request body")
	}

	post, err := h.scheduling.Schedule(c.Context(), toScheduleRequest(in, GetUserID(c)))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *ScheduledPostHandler) BulkCreate(c *fiber.Ctx) error {
	var in []transfer.ScheduledPostRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "unable to parse request body")
	}
	if len(in) == 0 {
		return badRequest(c, "at least one post is required")
	}

	userID := GetUserID(c)
	reqs := make([]service.ScheduleRequest, 0, len(in))
	for _, item := range in {
		reqs = append(reqs, toScheduleRequest(item, userID))
	}

	resp := transfer.BulkScheduleResponse{Results: make([]transfer.BulkItemResult, 0, len(in))}
	for _, r := range h.scheduling.BulkSchedule(c.Context(), reqs) {
		item := transfer.BulkItemResult{Index: r.Index, Post: r.Post}
		if r.Err != nil {
			item.Error = errorBody(r.Err)
			resp.Failed++
		} else {
			resp.Scheduled++
		}
		resp.Results = append(resp.Results, item)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *ScheduledPostHandler) List(c *fiber.Ctx) error {
	filter := models.PostFilter{
		Status: models.PostStatus(c.Query("status")),
	}
	if p := c.Query("platform"); p != "" {
		filter.Platform = models.ParsePlatform(p)
	}

	posts, err := h.scheduling.List(c.Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(nonNil(posts))
}

func (h *ScheduledPostHandler) Upcoming(c *fiber.Ctx) error {
	hours := c.QueryInt("hours", defaultUpcomingHours)
	if hours <= 0 {
		return badRequest(c, "hours must be positive")
	}

	posts, err := h.scheduling.Upcoming(c.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(nonNil(posts))
}

// Calendar takes from/to as YYYY-MM-DD (UTC). to is inclusive.
func (h *ScheduledPostHandler) Calendar(c *fiber.Ctx) error {
	now := h.clock.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, defaultCalendarDays)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return badRequest(c, "invalid from date %q", v)
		}
		from = t
		to = from.AddDate(0, 0, defaultCalendarDays)
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return badRequest(c, "invalid to date %q", v)
		}
		to = t.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return badRequest(c, "to must not be before from")
	}

	days, err := h.scheduling.Calendar(c.Context(), from, to)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(days)
}

func (h *ScheduledPostHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	post, err := h.scheduling.Get(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *ScheduledPostHandler) History(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	entries, err := h.scheduling.History(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []*models.PublishHistory{}
	}
	return c.Status(fiber.StatusOK).JSON(entries)
}

func (h *ScheduledPostHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	var in transfer.ScheduledPostUpdate
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "unable to parse request body")
	}

	req := service.UpdateRequest{
		ContentID:     in.ContentID,
		PageID:        in.PageID,
		ScheduledTime: in.ScheduledTime,
		PostType:      in.PostType,
		MediaURLs:     in.MediaURLs,
		Hashtags:      in.Hashtags,
		CallToAction:  in.CallToAction,
	}
	if in.Platform != nil {
		p := models.ParsePlatform(*in.Platform)
		req.Platform = &p
	}

	post, err := h.scheduling.Update(c.Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *ScheduledPostHandler) Reschedule(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	var in transfer.RescheduleRequest
	if err := c.BodyParser(&in); err != nil || in.ScheduledTime.IsZero() {
		return badRequest(c, "scheduled_time is required")
	}

	post, err := h.scheduling.Reschedule(c.Context(), id, in.ScheduledTime)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *ScheduledPostHandler) Cancel(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	post, err := h.scheduling.Cancel(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

// PublishNow reports a failed attempt as 502 together with the FAILED post.
func (h *ScheduledPostHandler) PublishNow(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}

	post, err := h.publish.PublishNow(c.Context(), id)
	if err != nil && post == nil {
		return writeError(c, err)
	}
	if err != nil {
		body := errorBody(err)
		return c.Status(statusFor(apperr.Kind(body.Kind))).JSON(transfer.PublishNowResponse{Post: post, Error: body})
	}
	return c.Status(fiber.StatusOK).JSON(transfer.PublishNowResponse{Post: post})
}

func nonNil(posts []*models.ScheduledPost) []*models.ScheduledPost {
	if posts == nil {
		return []*models.ScheduledPost{}
	}
	return posts
}
