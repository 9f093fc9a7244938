package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

const awardKeyTTL = 48 * time.Hour

// AwardDaily grants the daily login award once per UTC day. The day is
// considered awarded when an earned entry with the award tag exists since
// midnight; a redis SET NX key keeps concurrent logins on other instances
// from racing past that check.
func (s *Store) AwardDaily(ctx context.Context, userID uint) (bool, error) {
	if s.conf.AwardPoints <= 0 {
		return false, nil
	}
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	log := s.log.With(sl.User(userID))

	var key string
	if s.rdb != nil {
		key = fmt.Sprintf("daily_award:%d:%s", userID, dayStart.Format("2006-01-02"))
		ok, err := s.rdb.SetNX(ctx, key, "1", awardKeyTTL).Result()
		switch {
		case err != nil:
			// fall through to the database check
			log.Warn("daily award key", sl.Err(err))
			key = ""
		case !ok:
			return false, nil
		}
	}

	awarded, err := s.awardedSince(ctx, userID, dayStart)
	if err != nil {
		s.releaseAwardKey(ctx, key)
		return false, err
	}
	if awarded {
		return false, nil
	}

	if err := s.Grant(ctx, userID, s.conf.AwardPoints, s.conf.AwardTag, s.conf.TTLDays); err != nil {
		s.releaseAwardKey(ctx, key)
		return false, apperr.Unavailable(err)
	}
	log.Info("daily award granted", slog.Int64("points", s.conf.AwardPoints))
	return true, nil
}

// releaseAwardKey drops a claimed day key after a failed grant so a retry can
// award the day.
func (s *Store) releaseAwardKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		s.log.Warn("release daily award key", slog.String("key", key), sl.Err(err))
	}
}

func (s *Store) awardedSince(ctx context.Context, userID uint, since time.Time) (bool, error) {
	var count int64
	err := s.data.DB(ctx).Model(&models.PointEntry{}).
		Where("user_id = ? AND kind = ? AND description = ? AND earned_at >= ?",
			userID, models.PointKindEarned, s.conf.AwardTag, since).
		Count(&count).Error
	if err != nil {
		return false, apperr.Unavailable(fmt.Errorf("check daily award: %w", err))
	}
	return count > 0, nil
}
