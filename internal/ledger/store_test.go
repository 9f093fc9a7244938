package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/testsupport"
)

func newTestStore(t *testing.T, rdb *redis.Client) (*Store, *testsupport.Clock) {
	t.Helper()
	db := testsupport.OpenDB(t)
	clock := testsupport.NewClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	s := New(database.NewData(db), rdb, Config{TTLDays: 365, AwardPoints: 50, AwardTag: "daily login award"}, testsupport.Logger())
	s.now = clock.Now
	return s, clock
}

func newTestStoreWithDB(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := testsupport.OpenDB(t)
	s := New(database.NewData(db), nil, Config{TTLDays: 365}, testsupport.Logger())
	return s, db
}

func TestBalanceSumsGrantsAndDebits(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, 1, 100, "signup bonus", 0))
	require.NoError(t, s.Grant(ctx, 1, 30, "purchase", 30))
	require.NoError(t, s.Debit(ctx, 1, 40, "job:render"))
	require.NoError(t, s.Grant(ctx, 2, 999, "other user", 0))

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(90), balance)

	balance, err = s.Balance(ctx, 3)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestBalanceIgnoresExpiredGrants(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, 1, 100, "short lived", 1))
	require.NoError(t, s.Grant(ctx, 1, 10, "long lived", 30))
	require.NoError(t, s.Debit(ctx, 1, 5, "job:render"))

	clock.Advance(25 * time.Hour)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)
}

func TestDebitMayOverdraw(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, 1, 10, "grant", 0))
	require.NoError(t, s.Debit(ctx, 1, 25, "job:render"))

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(-15), balance)
}

func TestSpendRefusesToOverdraw(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Grant(ctx, 4, 50, "grant", 0))

	left, err := s.Spend(ctx, 4, 20, "job:render")
	require.NoError(t, err)
	require.Equal(t, int64(30), left)

	_, err = s.Spend(ctx, 4, 31, "job:render")
	require.ErrorIs(t, err, apperr.ErrInsufficient)

	_, err = s.Spend(ctx, 4, 0, "job:render")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	balance, err := s.Balance(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, int64(30), balance)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	s, db := newTestStoreWithDB(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "spender")
	require.NoError(t, s.Grant(ctx, user.ID, 100, "grant", 0))

	const spenders = 6
	var wg sync.WaitGroup
	errs := make([]error, spenders)
	for i := 0; i < spenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Spend(ctx, user.ID, 30, "job:render")
		}(i)
	}
	wg.Wait()

	spent := 0
	for _, err := range errs {
		if err == nil {
			spent++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrInsufficient)
	}
	require.Equal(t, 3, spent)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)
}

func TestGrantAndDebitRejectNonPositive(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, s.Grant(ctx, 1, 0, "zero", 0), apperr.ErrInvalidInput)
	require.ErrorIs(t, s.Grant(ctx, 1, -5, "negative", 0), apperr.ErrInvalidInput)
	require.ErrorIs(t, s.Debit(ctx, 1, 0, "zero"), apperr.ErrInvalidInput)
}

func TestGrantDefaultsToConfiguredTTL(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.GrantWithReference(ctx, 1, 10, "grant", "order:1", 0))

	entries, err := s.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "order:1", entries[0].Reference)
	require.Equal(t, models.PointKindEarned, entries[0].Kind)
	require.NotNil(t, entries[0].ExpiresAt)
	require.WithinDuration(t, clock.Now().AddDate(0, 0, 365), *entries[0].ExpiresAt, time.Second)
}

func TestSweepExpiredKeepsBalance(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, 1, 100, "expires", 1))
	require.NoError(t, s.Grant(ctx, 1, 20, "stays", 10))
	require.NoError(t, s.Debit(ctx, 1, 7, "job:render"))

	clock.Advance(48 * time.Hour)
	before, err := s.Balance(ctx, 1)
	require.NoError(t, err)

	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	after, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, int64(13), after)

	entries, err := s.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestGrantRollsBackWithEnclosingTransaction(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	err := s.data.Exec(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Grant(ctx, 1, 100, "inside tx", 0))
		return apperr.ErrConflict
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, balance)
}
