// Package subscription keeps UserSubscription rows and their mirror on User.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

// Extend adds the plan's calendar duration to base. Month and leap-year
// lengths come from time.AddDate.
func Extend(planType models.PlanType, base time.Time) (time.Time, error) {
	switch planType {
	case models.PlanMonthly:
		return base.AddDate(0, 1, 0), nil
	case models.PlanQuarterly:
		return base.AddDate(0, 3, 0), nil
	case models.PlanYearly:
		return base.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, apperr.Invalid("unknown plan type %q", planType)
	}
}

// BaseDate is the point a renewal stacks onto: the current expiry while the
// subscription is still running, now otherwise.
func BaseDate(current *models.UserSubscription, now time.Time) time.Time {
	if current != nil && current.IsActive(now) {
		return current.ExpiresAt
	}
	return now
}

type Service struct {
	data *database.Data
	log  *slog.Logger
	now  func() time.Time
}

func New(data *database.Data, log *slog.Logger) *Service {
	return &Service{
		data: data,
		log:  log.With(sl.Module("subscription")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, userID uint) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := s.data.DB(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load subscription: %w", err))
	}
	return &sub, nil
}

// Apply stacks one plan period onto the user's subscription, creating the
// row when missing, and mirrors the result onto the user. The row is read
// under a row lock so concurrent renewals for one user serialize.
func (s *Service) Apply(ctx context.Context, userID uint, planID string, planType models.PlanType) (*models.UserSubscription, error) {
	var result models.UserSubscription
	err := s.data.Exec(ctx, func(ctx context.Context) error {
		db := s.data.DB(ctx)
		now := s.now()

		var current *models.UserSubscription
		var sub models.UserSubscription
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&sub).Error
		switch {
		case err == nil:
			current = &sub
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("lock subscription: %w", err)
		}

		base := BaseDate(current, now)
		expires, err := Extend(planType, base)
		if err != nil {
			return err
		}

		if current == nil {
			sub = models.UserSubscription{
				UserID:    userID,
				PlanID:    planID,
				PlanType:  planType,
				Status:    models.SubscriptionActive,
				StartedAt: now,
				ExpiresAt: expires,
			}
			if err := db.Create(&sub).Error; err != nil {
				return fmt.Errorf("insert subscription: %w", err)
			}
		} else {
			updates := map[string]interface{}{
				"plan_id":    planID,
				"plan_type":  planType,
				"status":     models.SubscriptionActive,
				"expires_at": expires,
			}
			if !current.IsActive(now) {
				updates["started_at"] = now
			}
			if err := db.Model(&sub).Updates(updates).Error; err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			if err := db.First(&sub, sub.ID).Error; err != nil {
				return fmt.Errorf("reload subscription: %w", err)
			}
		}

		if err := s.mirror(ctx, userID, true, &expires); err != nil {
			return err
		}

		s.log.Info("subscription extended",
			sl.User(userID),
			slog.String("plan", planID),
			slog.Time("base", base),
			slog.Time("expires_at", expires),
		)
		result = sub
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return &result, nil
}

func (s *Service) mirror(ctx context.Context, userID uint, subscribed bool, expires *time.Time) error {
	res := s.data.DB(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_subscribed":           subscribed,
		"subscription_expires_at": expires,
	})
	if res.Error != nil {
		return fmt.Errorf("mirror subscription on user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("user %d", userID))
	}
	return nil
}

// ExpireDue marks active subscriptions past their expiry as expired and
// clears the subscribed flag on their users. Returns the affected user ids.
func (s *Service) ExpireDue(ctx context.Context) ([]uint, error) {
	var expired []uint
	err := s.data.Exec(ctx, func(ctx context.Context) error {
		db := s.data.DB(ctx)
		now := s.now()

		var due []models.UserSubscription
		if err := db.Where("status = ? AND expires_at <= ?", models.SubscriptionActive, now).Find(&due).Error; err != nil {
			return fmt.Errorf("query due subscriptions: %w", err)
		}
		for _, sub := range due {
			res := db.Model(&models.UserSubscription{}).
				Where("id = ? AND status = ? AND expires_at <= ?", sub.ID, models.SubscriptionActive, now).
				Update("status", models.SubscriptionExpired)
			if res.Error != nil {
				return fmt.Errorf("expire subscription %d: %w", sub.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// renewed in between
				continue
			}
			err := db.Model(&models.User{}).Where("id = ?", sub.UserID).Update("is_subscribed", false).Error
			if err != nil {
				return fmt.Errorf("clear subscribed flag for user %d: %w", sub.UserID, err)
			}
			expired = append(expired, sub.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if len(expired) > 0 {
		s.log.Info("subscriptions expired", slog.Int("count", len(expired)))
	}
	return expired, nil
}
