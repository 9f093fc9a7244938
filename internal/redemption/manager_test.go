package redemption

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/subscription"
	"pixelmint-ledger/internal/testsupport"
)

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Store
	subs    *subscription.Service
	manager *Manager
	clock   *testsupport.Clock
}

func newFixture(t *testing.T, dailyLimit int) *fixture {
	t.Helper()
	db := testsupport.OpenDB(t)
	data := database.NewData(db)
	log := testsupport.Logger()

	lookup := catalog.New(data, false)
	require.NoError(t, lookup.Seed(context.Background()))

	store := ledger.New(data, nil, ledger.Config{TTLDays: 365}, log)
	subs := subscription.New(data, log)
	granter := entitlement.New(data, store, subs, lookup, log)

	clock := testsupport.NewClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	m := New(data, lookup, granter, dailyLimit, log)
	m.now = clock.Now

	return &fixture{db: db, ledger: store, subs: subs, manager: m, clock: clock}
}

func (f *fixture) insertCode(t *testing.T, code string, packageType models.PackageType, packageID string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.RedemptionCode{
		Code:        code,
		PackageType: packageType,
		PackageID:   packageID,
		ExpiresAt:   expiresAt,
		CreatedBy:   1,
	}).Error)
}

func TestRedeemPointsPackage(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "alice")
	f.insertCode(t, "AB12-CD34-EF56-0789", models.PackagePoints, "points_500", nil)

	ent, err := f.manager.Redeem(ctx, "ab12-cd34-ef56-0789", user.ID, "203.0.113.1")
	require.NoError(t, err)
	require.Equal(t, int64(500), ent.Points)
	require.Equal(t, models.PackagePoints, ent.PackageType)

	balance, err := f.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	rc, err := f.manager.Lookup(ctx, "AB12-CD34-EF56-0789")
	require.NoError(t, err)
	require.True(t, rc.IsRedeemed)
	require.NotNil(t, rc.RedeemedBy)
	require.Equal(t, user.ID, *rc.RedeemedBy)
	require.Equal(t, "203.0.113.1", rc.RedeemedIP)

	entries, err := f.ledger.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "code:AB12-CD34-EF56-0789", entries[0].Reference)
}

func TestRedeemTwiceFails(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	alice := testsupport.CreateUser(t, f.db, "alice")
	bob := testsupport.CreateUser(t, f.db, "bob")
	f.insertCode(t, "AB12-CD34-EF56-0789", models.PackagePoints, "points_500", nil)

	_, err := f.manager.Redeem(ctx, "AB12-CD34-EF56-0789", alice.ID, "203.0.113.1")
	require.NoError(t, err)

	_, err = f.manager.Redeem(ctx, "AB12-CD34-EF56-0789", bob.ID, "203.0.113.2")
	require.ErrorIs(t, err, apperr.ErrAlreadyRedeemed)

	balance, err := f.ledger.Balance(ctx, bob.ID)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestConcurrentRedeemGrantsOnce(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.insertCode(t, "0000-1111-2222-3333", models.PackagePoints, "points_2000", nil)

	const racers = 8
	users := make([]*models.User, racers)
	for i := range users {
		users[i] = testsupport.CreateUser(t, f.db, "racer"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Redeem(ctx, "0000-1111-2222-3333", users[i].ID, "198.51.100.1")
		}(i)
	}
	wg.Wait()

	successes := 0
	var total int64
	for i, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, apperr.ErrAlreadyRedeemed)
		}
		balance, err := f.ledger.Balance(ctx, users[i].ID)
		require.NoError(t, err)
		total += balance
	}
	require.Equal(t, 1, successes)
	require.Equal(t, int64(2000), total)
}

func TestRedeemSubscriptionPlan(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "carol")
	f.insertCode(t, "AAAA-BBBB-CCCC-DDDD", models.PackageSubscription, "monthly", nil)

	ent, err := f.manager.Redeem(ctx, "AAAA-BBBB-CCCC-DDDD", user.ID, "203.0.113.1")
	require.NoError(t, err)
	require.Equal(t, models.PlanMonthly, ent.PlanType)
	require.Equal(t, int64(3000), ent.Points)
	require.NotNil(t, ent.SubscriptionExpiresAt)

	sub, err := f.subs.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, models.SubscriptionActive, sub.Status)

	var stored models.User
	require.NoError(t, f.db.First(&stored, user.ID).Error)
	require.True(t, stored.IsSubscribed)
}

func TestRedeemValidation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "dave")
	past := f.clock.Now().Add(-time.Hour)
	f.insertCode(t, "EEEE-EEEE-EEEE-EEEE", models.PackagePoints, "points_500", &past)

	_, err := f.manager.Redeem(ctx, "not-a-code", user.ID, "203.0.113.1")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.manager.Redeem(ctx, "FFFF-FFFF-FFFF-FFFF", user.ID, "203.0.113.1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.manager.Redeem(ctx, "EEEE-EEEE-EEEE-EEEE", user.ID, "203.0.113.1")
	require.ErrorIs(t, err, apperr.ErrExpired)

	rc, err := f.manager.Lookup(ctx, "EEEE-EEEE-EEEE-EEEE")
	require.NoError(t, err)
	require.False(t, rc.IsRedeemed)
}

func TestRedeemDailyQuota(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "erin")
	codes := []string{"1000-0000-0000-0001", "1000-0000-0000-0002", "1000-0000-0000-0003"}
	for _, c := range codes {
		f.insertCode(t, c, models.PackagePoints, "points_500", nil)
	}

	_, err := f.manager.Redeem(ctx, codes[0], user.ID, "203.0.113.1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.manager.Redeem(ctx, codes[1], user.ID, "203.0.113.1")
	require.NoError(t, err)

	_, err = f.manager.Redeem(ctx, codes[2], user.ID, "203.0.113.1")
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	// the window rolls: 24h after the first redemption one slot frees up
	f.clock.Advance(23*time.Hour + time.Minute)
	_, err = f.manager.Redeem(ctx, codes[2], user.ID, "203.0.113.1")
	require.NoError(t, err)
}

func TestConcurrentRedeemRespectsDailyQuota(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "frank")

	const attempts = 6
	codes := make([]string, attempts)
	for i := range codes {
		codes[i] = fmt.Sprintf("2000-0000-0000-%04d", i)
		f.insertCode(t, codes[i], models.PackagePoints, "points_500", nil)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Redeem(ctx, codes[i], user.ID, "198.51.100.7")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	}
	require.Equal(t, 2, successes)

	balance, err := f.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance)

	var redeemed int64
	require.NoError(t, f.db.Model(&models.RedemptionCode{}).Where("is_redeemed = ?", true).Count(&redeemed).Error)
	require.Equal(t, int64(2), redeemed)
}

func TestRedeemRollsBackWhenPackageMissing(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	user := testsupport.CreateUser(t, f.db, "frank")
	f.insertCode(t, "9999-8888-7777-6666", models.PackagePoints, "retired_package", nil)

	_, err := f.manager.Redeem(ctx, "9999-8888-7777-6666", user.ID, "203.0.113.1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	rc, err := f.manager.Lookup(ctx, "9999-8888-7777-6666")
	require.NoError(t, err)
	require.False(t, rc.IsRedeemed, "code flip must roll back with the failed grant")
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	expires := f.clock.Now().Add(30 * 24 * time.Hour)

	codes, err := f.manager.Generate(ctx, GenerateRequest{
		PackageType: models.PackagePoints,
		PackageID:   "points_2000",
		ExpiresAt:   &expires,
		Count:       20,
		CreatedBy:   42,
	})
	require.NoError(t, err)
	require.Len(t, codes, 20)

	seen := make(map[string]bool)
	for _, c := range codes {
		require.True(t, ValidCode(c.Code), c.Code)
		require.False(t, seen[c.Code])
		seen[c.Code] = true
		require.Equal(t, uint(42), c.CreatedBy)
	}

	_, err = f.manager.Generate(ctx, GenerateRequest{PackageType: models.PackagePoints, PackageID: "nope"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	past := f.clock.Now().Add(-time.Minute)
	_, err = f.manager.Generate(ctx, GenerateRequest{PackageType: models.PackageSubscription, PackageID: "monthly", ExpiresAt: &past})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.manager.Generate(ctx, GenerateRequest{PackageType: "gift_card", PackageID: "x"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
