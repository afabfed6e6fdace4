package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/telemetry"
	"github.com/maheshrc27/postscheduler/pkg/clock"
	"github.com/redis/go-redis/v9"
)

const HeartbeatKey = "scheduler:heartbeat"

type Heartbeat struct {
	At        time.Time             `json:"at"`
	LastCycle *models.DispatchStats `json:"last_cycle,omitempty"`
}

// StatsSource exposes the last dispatch cycle summary.
type StatsSource interface {
	LastStats() *models.DispatchStats
}

// HeartbeatJob asserts dispatcher liveness. It never reads or writes posts.
type HeartbeatJob struct {
	rdb      redis.Cmdable
	stats    StatsSource
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

func NewHeartbeatJob(rdb redis.Cmdable, stats StatsSource, interval time.Duration, clk clock.Clock, logger *slog.Logger) *HeartbeatJob {
	return &HeartbeatJob{
		rdb:      rdb,
		stats:    stats,
		interval: interval,
		clock:    clk,
		logger:   logger.With("component", "heartbeat"),
	}
}

func (h *HeartbeatJob) Job(ctx context.Context) func() {
	return func() {
		if err := h.Beat(ctx); err != nil {
			h.logger.Error("heartbeat failed", "error", err)
		}
	}
}

// Beat stores the current heartbeat with a TTL of three intervals.
func (h *HeartbeatJob) Beat(ctx context.Context) error {
	hb := Heartbeat{At: h.clock.Now()}
	if h.stats != nil {
		hb.LastCycle = h.stats.LastStats()
	}

	telemetry.LastHeartbeat.Set(float64(hb.At.Unix()))
	h.logger.Info("dispatcher alive", "at", hb.At)

	if h.rdb == nil {
		return nil
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := h.rdb.Set(ctx, HeartbeatKey, data, 3*h.interval).Err(); err != nil {
		return fmt.Errorf("store heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat returns the stored heartbeat, or nil when it has expired.
func ReadHeartbeat(ctx context.Context, rdb redis.Cmdable) (*Heartbeat, error) {
	data, err := rdb.Get(ctx, HeartbeatKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	return &hb, nil
}
