package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
)

// GormStore keeps records in the ip_registrations table.
type GormStore struct {
	data *database.Data
}

func NewGormStore(data *database.Data) *GormStore {
	return &GormStore{data: data}
}

func (s *GormStore) Get(ctx context.Context, ip string) (*models.IPRegistration, error) {
	var rec models.IPRegistration
	err := s.data.DB(ctx).Where("ip_address = ?", ip).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Record inserts the first record, restarts an expired window or increments
// the count. Each branch is a single conditional statement; a branch that
// loses a race falls through to the next one.
func (s *GormStore) Record(ctx context.Context, ip string, now time.Time, window time.Duration) error {
	db := s.data.DB(ctx)

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.IPRegistration{
		IPAddress:           ip,
		RegistrationCount:   1,
		FirstRegistrationAt: now,
		LastRegistrationAt:  now,
	})
	if res.Error != nil {
		return fmt.Errorf("insert record: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	res = db.Model(&models.IPRegistration{}).
		Where("ip_address = ? AND first_registration_at <= ?", ip, now.Add(-window)).
		Updates(map[string]interface{}{
			"registration_count":    1,
			"first_registration_at": now,
			"last_registration_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("reset window: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	res = db.Model(&models.IPRegistration{}).
		Where("ip_address = ?", ip).
		Updates(map[string]interface{}{
			"registration_count":   gorm.Expr("registration_count + 1"),
			"last_registration_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("increment record: %w", res.Error)
	}
	return nil
}
