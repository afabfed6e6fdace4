package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/telemetry"
)

const (
	DefaultAsyncBuffer  = 256
	asyncPublishTimeout = 2 * time.Second
)

var (
	ErrBufferFull = errors.New("lifecycle event buffer is full")
	ErrClosed     = errors.New("lifecycle event publisher is closed")
)

type Publisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) error
	Close() error
}

// Async queues events for a background goroutine so a slow broker never holds
// up a post transition. Events are dropped while the buffer is full.
type Async struct {
	next    Publisher
	events  chan models.LifecycleEvent
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Publisher, buffer int, logger *slog.Logger) *Async {
	if buffer < 1 {
		buffer = DefaultAsyncBuffer
	}
	a := &Async{
		next:    next,
		events:  make(chan models.LifecycleEvent, buffer),
		timeout: asyncPublishTimeout,
		logger:  logger.With("component", "event_publisher"),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Publish(_ context.Context, event models.LifecycleEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.events <- event:
		return nil
	default:
		telemetry.EventsDropped.Inc()
		return ErrBufferFull
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for event := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, event); err != nil {
			a.logger.Warn("failed to publish lifecycle event",
				"post_id", event.PostID,
				"action", event.Action,
				"error", err,
			)
		}
		cancel()
	}
}

// Close delivers the queued events, then closes the underlying publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
