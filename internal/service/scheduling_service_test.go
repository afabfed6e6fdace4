package service

import (
	"context"
	"testing"
	"time"

	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/stretchr/testify/suite"
)

type SchedulingServiceTestSuite struct {
	suite.Suite
	ctx context.Context
	env *testEnv
}

func (s *SchedulingServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.env = newTestEnv(s.T(), defaultPublishOptions())
}

func TestSchedulingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulingServiceTestSuite))
}

func (s *SchedulingServiceTestSuite) request(at time.Time) ScheduleRequest {
	return ScheduleRequest{
		ContentID:     approvedContentID,
		Platform:      models.PlatformFacebook,
		PageID:        "page-1",
		ScheduledTime: at,
	}
}

func (s *SchedulingServiceTestSuite) TestSchedule_CreatesPendingPost() {
	post := s.env.schedule(s.T(), 10*time.Minute, models.PlatformFacebook)

	s.Equal(models.PostStatusPending, post.Status)
	s.Equal(0, post.RetryCount)
	s.Nil(post.PostID)
	s.Equal(testEpoch.Add(10*time.Minute), post.ScheduledTime)
	s.Equal([]string{"Scheduled post created"}, s.env.history.Messages(post.ID))

	entries, err := s.env.scheduling.History(s.ctx, post.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.HistoryActionCreated, entries[0].Action)
	s.Equal(models.PostStatusPending, entries[0].Status)
}

func (s *SchedulingServiceTestSuite) TestSchedule_RejectsPastOrPresentTime() {
	for _, at := range []time.Time{testEpoch, testEpoch.Add(-time.Second), testEpoch.Add(-24 * time.Hour)} {
		_, err := s.env.scheduling.Schedule(s.ctx, s.request(at))
		s.True(apperr.IsKind(err, apperr.InvalidSchedule), "at %s", at)
	}
	s.Equal(0, s.env.store.Count())
}

func (s *SchedulingServiceTestSuite) TestSchedule_RejectsUnapprovedContent() {
	req := s.request(testEpoch.Add(time.Hour))
	req.ContentID = 7

	_, err := s.env.scheduling.Schedule(s.ctx, req)
	s.True(apperr.IsKind(err, apperr.PreconditionFailed))

	req.ContentID = 999
	_, err = s.env.scheduling.Schedule(s.ctx, req)
	s.True(apperr.IsKind(err, apperr.NotFound))

	s.Equal(0, s.env.store.Count())
}

func (s *SchedulingServiceTestSuite) TestSchedule_RejectsUnknownPlatform() {
	req := s.request(testEpoch.Add(time.Hour))
	req.Platform = "MYSPACE"

	_, err := s.env.scheduling.Schedule(s.ctx, req)
	s.True(apperr.IsKind(err, apperr.UnsupportedPlatform))
	s.Equal(0, s.env.store.Count())
}

func (s *SchedulingServiceTestSuite) TestBulkSchedule_ReportsPerItem() {
	results := s.env.scheduling.BulkSchedule(s.ctx, []ScheduleRequest{
		s.request(testEpoch.Add(time.Hour)),
		s.request(testEpoch.Add(-time.Hour)),
		s.request(testEpoch.Add(2 * time.Hour)),
	})

	s.Require().Len(results, 3)
	s.NoError(results[0].Err)
	s.NotNil(results[0].Post)
	s.True(apperr.IsKind(results[1].Err, apperr.InvalidSchedule))
	s.Nil(results[1].Post)
	s.NoError(results[2].Err)
	s.Equal(2, s.env.store.Count())
}

func (s *SchedulingServiceTestSuite) TestUpdate_OnlyTouchesSuppliedFields() {
	post := s.env.schedule(s.T(), time.Hour, models.PlatformFacebook)
	s.env.clock.Advance(time.Minute)

	page := "page-2"
	tags := []string{"#new"}
	updated, err := s.env.scheduling.Update(s.ctx, post.ID, UpdateRequest{PageID: &page, Hashtags: &tags})
	s.Require().NoError(err)

	s.Equal("page-2", updated.PlatformPageID)
	s.Equal([]string{"#new"}, []string(updated.Hashtags))
	s.Equal(post.ScheduledTime, updated.ScheduledTime)
	s.Equal([]string(post.MediaURLs), []string(updated.MediaURLs))
	s.Equal(*post.CallToAction, *updated.CallToAction)
	s.Equal(testEpoch.Add(time.Minute), updated.UpdatedAt)
	s.Equal([]string{"Scheduled post created", "Scheduled post updated"}, s.env.history.Messages(post.ID))
}

func (s *SchedulingServiceTestSuite) TestUpdate_RevalidatesScheduledTime() {
	post := s.env.schedule(s.T(), time.Hour, models.PlatformFacebook)

	past := testEpoch.Add(-time.Minute)
	_, err := s.env.scheduling.Update(s.ctx, post.ID, UpdateRequest{ScheduledTime: &past})
	s.True(apperr.IsKind(err, apperr.InvalidSchedule))

	got, err := s.env.scheduling.Get(s.ctx, post.ID)
	s.Require().NoError(err)
	s.Equal(post.ScheduledTime, got.ScheduledTime)
	s.Len(s.env.history.Messages(post.ID), 1)
}

func (s *SchedulingServiceTestSuite) TestReschedule() {
	post := s.env.schedule(s.T(), time.Hour, models.PlatformFacebook)

	at := testEpoch.Add(3 * time.Hour)
	updated, err := s.env.scheduling.Reschedule(s.ctx, post.ID, at)
	s.Require().NoError(err)
	s.Equal(at, updated.ScheduledTime)
}

func (s *SchedulingServiceTestSuite) TestUpdate_UnknownID() {
	page := "x"
	_, err := s.env.scheduling.Update(s.ctx, 404, UpdateRequest{PageID: &page})
	s.True(apperr.IsKind(err, apperr.NotFound))
}

func (s *SchedulingServiceTestSuite) TestCancel_IsTerminal() {
	post := s.env.schedule(s.T(), 2*time.Minute, models.PlatformFacebook)

	cancelled, err := s.env.scheduling.Cancel(s.ctx, post.ID)
	s.Require().NoError(err)
	s.Equal(models.PostStatusCancelled, cancelled.Status)

	page := "other"
	_, err = s.env.scheduling.Update(s.ctx, post.ID, UpdateRequest{PageID: &page})
	s.True(apperr.IsKind(err, apperr.InvalidState))

	_, err = s.env.scheduling.Cancel(s.ctx, post.ID)
	s.True(apperr.IsKind(err, apperr.InvalidState))

	_, err = s.env.publish.PublishNow(s.ctx, post.ID)
	s.True(apperr.IsKind(err, apperr.InvalidState))

	due, err := s.env.scheduling.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Empty(due)

	s.Equal([]string{"Scheduled post created", "Scheduled post cancelled"}, s.env.history.Messages(post.ID))
}

func (s *SchedulingServiceTestSuite) TestDueForDispatch_Window() {
	inside := s.env.schedule(s.T(), 2*time.Minute, models.PlatformFacebook)
	edge := s.env.schedule(s.T(), 5*time.Minute, models.PlatformFacebook)
	s.env.schedule(s.T(), time.Hour, models.PlatformFacebook)

	due, err := s.env.scheduling.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(inside.ID, due[0].ID)

	s.env.clock.Advance(time.Minute)
	due, err = s.env.scheduling.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Len(due, 2)
	s.Equal(edge.ID, due[1].ID)
}

func (s *SchedulingServiceTestSuite) TestDueForDispatch_IncludesRetryableFailures() {
	s.env.store.Put(&models.ScheduledPost{ID: 10, Status: models.PostStatusFailed, RetryCount: 2, ScheduledTime: testEpoch.Add(-time.Hour), Platform: models.PlatformFacebook})
	s.env.store.Put(&models.ScheduledPost{ID: 11, Status: models.PostStatusFailed, RetryCount: 3, ScheduledTime: testEpoch.Add(-time.Hour), Platform: models.PlatformFacebook})
	later := testEpoch.Add(10 * time.Minute)
	s.env.store.Put(&models.ScheduledPost{ID: 12, Status: models.PostStatusFailed, RetryCount: 1, ScheduledTime: testEpoch.Add(-time.Hour), NextAttemptAt: &later, Platform: models.PlatformFacebook})

	due, err := s.env.scheduling.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(int64(10), due[0].ID)
}

func (s *SchedulingServiceTestSuite) TestDueForDispatch_MissedGrace() {
	s.env.store.Put(&models.ScheduledPost{ID: 20, Status: models.PostStatusPending, ScheduledTime: testEpoch.Add(-30 * time.Second)})

	due, err := s.env.scheduling.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Empty(due)

	withGrace := NewSchedulingService(s.env.store, s.env.history, s.env.contents, nil, nil, s.env.clock,
		SchedulingOptions{RetryBudget: 3, MissedGrace: time.Minute}, s.env.logger)
	due, err = withGrace.DueForDispatch(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Len(due, 1)
}

func (s *SchedulingServiceTestSuite) TestUpcomingAndList() {
	soon := s.env.schedule(s.T(), 30*time.Minute, models.PlatformFacebook)
	s.env.schedule(s.T(), 48*time.Hour, models.PlatformInstagram)

	upcoming, err := s.env.scheduling.Upcoming(s.ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Require().Len(upcoming, 1)
	s.Equal(soon.ID, upcoming[0].ID)

	list, err := s.env.scheduling.List(s.ctx, models.PostFilter{Platform: models.PlatformInstagram})
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *SchedulingServiceTestSuite) TestCalendar_GroupsByUTCDate() {
	s.env.schedule(s.T(), time.Hour, models.PlatformFacebook)
	s.env.schedule(s.T(), 2*time.Hour, models.PlatformFacebook)
	s.env.schedule(s.T(), 26*time.Hour, models.PlatformFacebook)

	days, err := s.env.scheduling.Calendar(s.ctx, testEpoch, testEpoch.Add(7*24*time.Hour))
	s.Require().NoError(err)
	s.Len(days["2024-05-01"], 2)
	s.Len(days["2024-05-02"], 1)

	_, err = s.env.scheduling.Calendar(s.ctx, testEpoch, testEpoch)
	s.True(apperr.IsKind(err, apperr.InvalidRequest))
}

func (s *SchedulingServiceTestSuite) TestGet_NotFound() {
	_, err := s.env.scheduling.Get(s.ctx, 12345)
	s.True(apperr.IsKind(err, apperr.NotFound))

	_, err = s.env.scheduling.History(s.ctx, 12345)
	s.True(apperr.IsKind(err, apperr.NotFound))
}
