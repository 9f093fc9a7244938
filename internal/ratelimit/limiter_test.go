package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/testsupport"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"gorm":  NewGormStore(database.NewData(testsupport.OpenDB(t))),
		"redis": NewRedisStore(rdb),
	}
}

func newTestLimiter(store Store, max int) (*Limiter, *testsupport.Clock) {
	clock := testsupport.NewClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	l := New(store, max, 24*time.Hour)
	l.now = clock.Now
	return l, clock
}

func TestLimitWithinWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, clock := newTestLimiter(store, 2)
			ctx := context.Background()
			ip := "203.0.113.7"

			ok, err := l.CanRegister(ctx, ip)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, l.Record(ctx, ip))

			clock.Advance(time.Hour)
			ok, err = l.CanRegister(ctx, ip)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, l.Record(ctx, ip))

			clock.Advance(time.Hour)
			ok, err = l.CanRegister(ctx, ip)
			require.NoError(t, err)
			require.False(t, ok, "third registration inside the window")

			ok, err = l.CanRegister(ctx, "198.51.100.1")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestWindowRestartsAfterExpiry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, clock := newTestLimiter(store, 2)
			ctx := context.Background()
			ip := "203.0.113.8"

			require.NoError(t, l.Record(ctx, ip))
			require.NoError(t, l.Record(ctx, ip))

			// the window runs from the first registration, not the last
			clock.Advance(24 * time.Hour)
			ok, err := l.CanRegister(ctx, ip)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, l.Record(ctx, ip))
			rec, err := store.Get(ctx, ip)
			require.NoError(t, err)
			require.Equal(t, 1, rec.RegistrationCount)
			require.True(t, rec.FirstRegistrationAt.Equal(clock.Now()))

			ok, err = l.CanRegister(ctx, ip)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestCanRegisterDoesNotWrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, _ := newTestLimiter(store, 1)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				ok, err := l.CanRegister(ctx, "192.0.2.1")
				require.NoError(t, err)
				require.True(t, ok)
			}
			rec, err := store.Get(ctx, "192.0.2.1")
			require.NoError(t, err)
			require.Nil(t, rec)
		})
	}
}

func TestEmptyIPIsInvalid(t *testing.T) {
	l, _ := newTestLimiter(NewGormStore(database.NewData(testsupport.OpenDB(t))), 1)
	_, err := l.CanRegister(context.Background(), "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.ErrorIs(t, l.Record(context.Background(), ""), apperr.ErrInvalidInput)
}
