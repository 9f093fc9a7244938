// Package catalog resolves points packages and subscription plans by id.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
)

// TestPlanID resolves outside production only, so payment flows can be
// exercised end to end for a token amount.
const TestPlanID = "test_monthly"

var testPlan = models.SubscriptionPlan{
	ID:       TestPlanID,
	Name:     "Test monthly",
	PlanType: models.PlanMonthly,
	Price:    decimal.RequireFromString("0.01"),
	IsActive: true,
}

type Lookup struct {
	data       *database.Data
	production bool
}

func New(data *database.Data, production bool) *Lookup {
	return &Lookup{data: data, production: production}
}

func (l *Lookup) PointsPackage(ctx context.Context, id string) (*models.PointsPackage, error) {
	var pkg models.PointsPackage
	err := l.data.DB(ctx).Where("id = ? AND is_active = ?", id, true).First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("points package %q", id))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load points package: %w", err))
	}
	return &pkg, nil
}

func (l *Lookup) Plan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	if id == TestPlanID && !l.production {
		plan := testPlan
		return &plan, nil
	}
	var plan models.SubscriptionPlan
	err := l.data.DB(ctx).Where("id = ? AND is_active = ?", id, true).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("subscription plan %q", id))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load subscription plan: %w", err))
	}
	return &plan, nil
}

// Seed inserts a starter catalog into an empty store.
func (l *Lookup) Seed(ctx context.Context) error {
	var count int64
	if err := l.data.DB(ctx).Model(&models.SubscriptionPlan{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count plans: %w", err)
	}
	if count > 0 {
		return nil
	}

	packages := []models.PointsPackage{
		{ID: "points_500", Name: "500 points", Points: 500, Price: decimal.RequireFromString("9.90"), IsActive: true},
		{ID: "points_2000", Name: "2000 points", Points: 2000, Price: decimal.RequireFromString("29.90"), IsActive: true},
		{ID: "points_10000", Name: "10000 points", Points: 10000, Price: decimal.RequireFromString("99.00"), IsActive: true},
	}
	plans := []models.SubscriptionPlan{
		{ID: "monthly", Name: "Monthly", PlanType: models.PlanMonthly, Price: decimal.RequireFromString("29.90"), BonusPoints: 3000, IsActive: true},
		{ID: "quarterly", Name: "Quarterly", PlanType: models.PlanQuarterly, Price: decimal.RequireFromString("79.90"), BonusPoints: 10000, IsActive: true},
		{ID: "yearly", Name: "Yearly", PlanType: models.PlanYearly, Price: decimal.RequireFromString("299.00"), BonusPoints: 50000, IsActive: true},
	}

	return l.data.Exec(ctx, func(ctx context.Context) error {
		if err := l.data.DB(ctx).Create(&packages).Error; err != nil {
			return fmt.Errorf("seed points packages: %w", err)
		}
		if err := l.data.DB(ctx).Create(&plans).Error; err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
		return nil
	})
}
