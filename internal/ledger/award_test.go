package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
)

func TestAwardDailyOncePerDay(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	awarded, err := s.AwardDaily(ctx, 1)
	require.NoError(t, err)
	require.True(t, awarded)

	clock.Advance(3 * time.Hour)
	awarded, err = s.AwardDaily(ctx, 1)
	require.NoError(t, err)
	require.False(t, awarded)

	// next UTC day
	clock.Set(time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
	awarded, err = s.AwardDaily(ctx, 1)
	require.NoError(t, err)
	require.True(t, awarded)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}

func TestAwardDailyWithRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, _ := newTestStore(t, rdb)
	ctx := context.Background()

	awarded, err := s.AwardDaily(ctx, 7)
	require.NoError(t, err)
	require.True(t, awarded)
	require.True(t, mr.Exists("daily_award:7:2025-03-10"))

	awarded, err = s.AwardDaily(ctx, 7)
	require.NoError(t, err)
	require.False(t, awarded)

	balance, err := s.Balance(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)
}

func TestAwardDailyFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	s, _ := newTestStore(t, rdb)
	ctx := context.Background()
	mr.Close()

	awarded, err := s.AwardDaily(ctx, 3)
	require.NoError(t, err)
	require.True(t, awarded)

	awarded, err = s.AwardDaily(ctx, 3)
	require.NoError(t, err)
	require.False(t, awarded)
}

func TestAwardDailyRetriesAfterStorageFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, _ := newTestStore(t, rdb)
	ctx := context.Background()
	migrator := s.data.DB(ctx).Migrator()

	require.NoError(t, migrator.DropTable(&models.PointEntry{}))
	awarded, err := s.AwardDaily(ctx, 5)
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	require.False(t, awarded)
	require.False(t, mr.Exists("daily_award:5:2025-03-10"))

	require.NoError(t, migrator.AutoMigrate(&models.PointEntry{}))
	awarded, err = s.AwardDaily(ctx, 5)
	require.NoError(t, err)
	require.True(t, awarded)

	balance, err := s.Balance(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)
}

func TestAwardDailyDisabled(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.conf.AwardPoints = 0

	awarded, err := s.AwardDaily(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, awarded)
}
