package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/platform"
	platformmocks "github.com/maheshrc27/postscheduler/internal/platform/mocks"
	"github.com/maheshrc27/postscheduler/internal/repository/memory"
	"github.com/maheshrc27/postscheduler/internal/service/mocks"
	"github.com/maheshrc27/postscheduler/pkg/clock"
	"go.uber.org/mock/gomock"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const approvedContentID = int64(42)

type testEnv struct {
	ctrl      *gomock.Controller
	clock     *clock.Mock
	store     *memory.Store
	history   *memory.HistoryLog
	contents  *memory.ContentStore
	events    *mocks.MockEventPublisher
	escalator *mocks.MockEscalator
	facebook  *platformmocks.MockPublisher
	logger    *slog.Logger

	scheduling SchedulingService
	publish    PublishService
	opts       PublishOptions
}

func defaultPublishOptions() PublishOptions {
	return PublishOptions{RetryBudget: 3, Timeout: time.Second}
}

func newTestEnv(t *testing.T, opts PublishOptions) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	env := &testEnv{
		ctrl:    ctrl,
		clock:   clock.NewMock(testEpoch),
		store:   memory.NewStore(),
		history: memory.NewHistoryLog(),
		contents: memory.NewContentStore(
			&models.Content{ID: approvedContentID, Title: "Spring sale", Body: "Hello world", Status: models.ContentStatusApproved},
			&models.Content{ID: 7, Title: "Draft", Body: "wip", Status: models.ContentStatusDraft},
		),
		events:    mocks.NewMockEventPublisher(ctrl),
		escalator: mocks.NewMockEscalator(ctrl),
		facebook:  platformmocks.NewMockPublisher(ctrl),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts:      opts,
	}

	env.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	env.facebook.EXPECT().Platform().Return(models.PlatformFacebook).AnyTimes()

	registry := platform.NewRegistry(env.facebook)

	env.scheduling = NewSchedulingService(env.store, env.history, env.contents, memory.TxManager{}, env.events, env.clock,
		SchedulingOptions{RetryBudget: opts.RetryBudget}, env.logger)
	env.publish = NewPublishService(env.store, env.history, env.contents, registry, env.events, env.escalator, env.clock,
		opts, env.logger)
	return env
}

func (e *testEnv) schedule(t *testing.T, in time.Duration, p models.Platform) *models.ScheduledPost {
	t.Helper()
	cta := "Shop now"
	post, err := e.scheduling.Schedule(context.Background(), ScheduleRequest{
		ContentID:     approvedContentID,
		Platform:      p,
		PageID:        "page-1",
		ScheduledTime: e.clock.Now().Add(in),
		PostType:      "TEXT",
		MediaURLs:     []string{"https://cdn.example.com/a.jpg"},
		Hashtags:      []string{"go", "#golang"},
		CallToAction:  &cta,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return post
}

func expectedContent() platform.Content {
	return platform.Content{
		Message:  "Hello world\n\nShop now\n\n#go #golang",
		Title:    "Spring sale",
		PostType: "TEXT",
	}
}
