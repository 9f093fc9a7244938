// Package ledger is the append-only points ledger. Balances are computed from
// the rows at read time; there is no cached counter to drift when grants expire.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm/clause"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

type Config struct {
	TTLDays     int
	AwardPoints int64
	AwardTag    string
}

type Store struct {
	data *database.Data
	rdb  *redis.Client
	conf Config
	log  *slog.Logger
	now  func() time.Time
}

// New builds a Store. rdb may be nil; it only adds a cross-instance guard
// in front of the daily award check.
func New(data *database.Data, rdb *redis.Client, conf Config, log *slog.Logger) *Store {
	if conf.TTLDays <= 0 {
		conf.TTLDays = 365
	}
	return &Store{
		data: data,
		rdb:  rdb,
		conf: conf,
		log:  log.With(sl.Module("ledger")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) TTLDays() int {
	return s.conf.TTLDays
}

// Grant inserts an earned entry that expires ttlDays from now.
func (s *Store) Grant(ctx context.Context, userID uint, points int64, description string, ttlDays int) error {
	return s.GrantWithReference(ctx, userID, points, description, "", ttlDays)
}

// GrantWithReference is Grant with an audit reference such as an order id or
// redemption code. Storage errors are returned as is so an enclosing
// transaction rolls back.
func (s *Store) GrantWithReference(ctx context.Context, userID uint, points int64, description, reference string, ttlDays int) error {
	if points <= 0 {
		return apperr.Invalid("grant of %d points", points)
	}
	if ttlDays <= 0 {
		ttlDays = s.conf.TTLDays
	}
	now := s.now()
	expires := now.AddDate(0, 0, ttlDays)
	entry := models.PointEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Points:      points,
		Kind:        models.PointKindEarned,
		Description: description,
		Reference:   reference,
		EarnedAt:    now,
		ExpiresAt:   &expires,
	}
	if err := s.data.DB(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert earned entry: %w", err)
	}
	s.log.Debug("points granted",
		sl.User(userID),
		slog.Int64("points", points),
		slog.String("reference", reference),
		slog.Time("expires_at", expires),
	)
	return nil
}

// Debit records consumption as a negative spent entry. It does not check the
// balance; callers that need a floor use Spend.
func (s *Store) Debit(ctx context.Context, userID uint, points int64, description string) error {
	if points <= 0 {
		return apperr.Invalid("debit of %d points", points)
	}
	entry := models.PointEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Points:      -points,
		Kind:        models.PointKindSpent,
		Description: description,
		EarnedAt:    s.now(),
	}
	if err := s.data.DB(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert spent entry: %w", err)
	}
	return nil
}

// Spend debits points only when the balance covers them and returns the
// balance left. The user's row lock serializes concurrent spends, so two
// spends can't both pass the check against the same balance.
func (s *Store) Spend(ctx context.Context, userID uint, points int64, description string) (int64, error) {
	if points <= 0 {
		return 0, apperr.Invalid("spend of %d points", points)
	}
	var left int64
	err := s.data.Exec(ctx, func(ctx context.Context) error {
		var owner models.User
		err := s.data.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", userID).Find(&owner).Error
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		balance, err := s.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if balance < points {
			return apperr.Wrap(apperr.ErrInsufficient, fmt.Errorf("have %d, need %d", balance, points))
		}
		if err := s.Debit(ctx, userID, points, description); err != nil {
			return err
		}
		left = balance - points
		return nil
	})
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	return left, nil
}

// Balance sums unexpired earned entries and every spent entry.
func (s *Store) Balance(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := s.data.DB(ctx).Model(&models.PointEntry{}).
		Where("user_id = ?", userID).
		Where("((kind = ? AND expires_at > ?) OR kind = ?)", models.PointKindEarned, s.now(), models.PointKindSpent).
		Select("CAST(COALESCE(SUM(points), 0) AS BIGINT)").
		Scan(&total).Error
	if err != nil {
		return 0, apperr.Unavailable(fmt.Errorf("sum balance: %w", err))
	}
	return total, nil
}

// SweepExpired deletes earned entries past expiry. Spent entries stay for audit.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res := s.data.DB(ctx).
		Where("kind = ? AND expires_at < ?", models.PointKindEarned, s.now()).
		Delete(&models.PointEntry{})
	if res.Error != nil {
		return 0, apperr.Unavailable(fmt.Errorf("sweep expired entries: %w", res.Error))
	}
	s.log.Info("expired entries swept", slog.Int64("deleted", res.RowsAffected))
	return res.RowsAffected, nil
}

// History returns the user's most recent entries, newest first.
func (s *Store) History(ctx context.Context, userID uint, limit int) ([]models.PointEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.PointEntry
	err := s.data.DB(ctx).
		Where("user_id = ?", userID).
		Order("earned_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load history: %w", err))
	}
	return entries, nil
}
