package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/subscription"
	"pixelmint-ledger/internal/testsupport"
)

func newTestGranter(t *testing.T) (*Granter, *gorm.DB) {
	t.Helper()
	db := testsupport.OpenDB(t)
	data := database.NewData(db)
	log := testsupport.Logger()

	lookup := catalog.New(data, false)
	require.NoError(t, lookup.Seed(context.Background()))

	store := ledger.New(data, nil, ledger.Config{TTLDays: 365}, log)
	return New(data, store, subscription.New(data, log), lookup, log), db
}

func TestApplyPointsPackage(t *testing.T) {
	g, db := newTestGranter(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "alice")

	ent, err := g.Apply(ctx, user.ID, models.PackagePoints, "points_500", "code:1")
	require.NoError(t, err)
	require.Equal(t, int64(500), ent.Points)
	require.Equal(t, "points_500", ent.PackageID)

	balance, err := g.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}

func TestApplyPlanGrantsBonusAndMirrorsUser(t *testing.T) {
	g, db := newTestGranter(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "bob")

	ent, err := g.Apply(ctx, user.ID, models.PackageSubscription, "monthly", "order:1")
	require.NoError(t, err)
	require.Equal(t, models.PlanMonthly, ent.PlanType)
	require.Equal(t, int64(3000), ent.Points)
	require.NotNil(t, ent.SubscriptionExpiresAt)
	require.True(t, ent.SubscriptionExpiresAt.After(time.Now().UTC()))

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	require.True(t, reloaded.IsSubscribed)

	balance, err := g.ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3000), balance)
}

func TestApplyRejectsUnknownPackages(t *testing.T) {
	g, db := newTestGranter(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "carol")

	_, err := g.Apply(ctx, user.ID, models.PackagePoints, "points_missing", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = g.Apply(ctx, user.ID, models.PackageType("voucher"), "points_500", "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCompensate(t *testing.T) {
	g, db := newTestGranter(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "dave")

	ent, err := g.Compensate(ctx, CompensationRequest{
		UserID:   user.ID,
		Points:   250,
		PlanType: models.PlanQuarterly,
		Reason:   "outage",
		AdminID:  9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(250), ent.Points)
	require.Equal(t, models.PackageSubscription, ent.PackageType)
	require.Contains(t, ent.Description, "admin 9")

	history, err := g.ledger.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "admin:9", history[0].Reference)

	sub, err := g.subs.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, models.PlanQuarterly, sub.PlanType)
}

func TestCompensateValidation(t *testing.T) {
	g, db := newTestGranter(t)
	ctx := context.Background()
	user := testsupport.CreateUser(t, db, "erin")

	_, err := g.Compensate(ctx, CompensationRequest{UserID: user.ID, Points: 10})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = g.Compensate(ctx, CompensationRequest{UserID: user.ID, Reason: "nothing"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCompensateRollsBackForUnknownUser(t *testing.T) {
	g, _ := newTestGranter(t)
	ctx := context.Background()

	_, err := g.Compensate(ctx, CompensationRequest{
		UserID:   4242,
		Points:   100,
		PlanType: models.PlanMonthly,
		Reason:   "typo",
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	balance, err := g.ledger.Balance(ctx, 4242)
	require.NoError(t, err)
	require.Zero(t, balance)

	sub, err := g.subs.Get(ctx, 4242)
	require.NoError(t, err)
	require.Nil(t, sub)
}
