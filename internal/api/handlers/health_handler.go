package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	job "github.com/maheshrc27/postscheduler/internal/jobs"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/maheshrc27/postscheduler/pkg/clock"
)

const serviceName = "post-scheduler"

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HeartbeatReader func(ctx context.Context) (*job.Heartbeat, error)

type HealthHandler struct {
	db        Pinger
	heartbeat HeartbeatReader
	platforms []models.Platform
	clock     clock.Clock
}

func NewHealthHandler(db Pinger, heartbeat HeartbeatReader, platforms []models.Platform, clk clock.Clock) *HealthHandler {
	return &HealthHandler{db: db, heartbeat: heartbeat, platforms: platforms, clock: clk}
}

func (h *HealthHandler) Register(r fiber.Router) {
	r.Get("/", h.Health)
	r.Get("/ping", h.Ping)
	r.Get("/status", h.Status)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "UP",
		"service":   serviceName,
		"timestamp": h.clock.Now(),
	})
}

func (h *HealthHandler) Ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

// Status reports database reachability and dispatcher liveness. It answers
// 503 when the database is down.
func (h *HealthHandler) Status(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	resp := transfer.StatusResponse{
		Status:     "UP",
		Database:   "UP",
		Dispatcher: "UNKNOWN",
		Platforms:  h.platforms,
		Time:       h.clock.Now(),
	}
	if resp.Platforms == nil {
		resp.Platforms = []models.Platform{}
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			slog.Warn("database ping failed", "error", err)
			resp.Database = "DOWN"
			resp.Status = "DEGRADED"
		}
	}

	if h.heartbeat != nil {
		hb, err := h.heartbeat(ctx)
		switch {
		case err != nil:
			slog.Warn("unable to read dispatcher heartbeat", "error", err)
		case hb == nil:
			resp.Dispatcher = "STALE"
		default:
			resp.Dispatcher = "UP"
			resp.LastBeat = &hb.At
			resp.LastCycle = hb.LastCycle
		}
	}

	status := fiber.StatusOK
	if resp.Database == "DOWN" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}
