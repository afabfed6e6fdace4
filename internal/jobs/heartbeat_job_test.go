package job

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/pkg/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats struct{ stats *models.DispatchStats }

func (s staticStats) LastStats() *models.DispatchStats { return s.stats }

func TestHeartbeat_StoresLivenessWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	stats := &models.DispatchStats{StartedAt: testEpoch, Due: 3, Attempted: 3, Succeeded: 2, Failed: 1}
	hb := NewHeartbeatJob(rdb, staticStats{stats}, 15*time.Minute, clock.NewMock(testEpoch), discardLogger())

	require.NoError(t, hb.Beat(ctx))
	assert.Equal(t, 45*time.Minute, mr.TTL(HeartbeatKey))

	got, err := ReadHeartbeat(ctx, rdb)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.At.Equal(testEpoch))
	require.NotNil(t, got.LastCycle)
	assert.Equal(t, 2, got.LastCycle.Succeeded)
	assert.Equal(t, 1, got.LastCycle.Failed)

	mr.FastForward(46 * time.Minute)
	got, err = ReadHeartbeat(ctx, rdb)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHeartbeat_WithoutCycleYet(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hb := NewHeartbeatJob(rdb, staticStats{}, time.Minute, clock.NewMock(testEpoch), discardLogger())
	hb.Job(context.Background())()

	got, err := ReadHeartbeat(context.Background(), rdb)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.LastCycle)
}

func TestReadHeartbeat_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, mr.Set(HeartbeatKey, "not json"))
	_, err := ReadHeartbeat(context.Background(), rdb)
	assert.Error(t, err)
}
