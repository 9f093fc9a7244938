// Package redemption issues single-use codes bound to a catalog package and
// redeems them at most once.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

const (
	generateAttempts = 5
	maxBatch         = 500
	quotaWindow      = 24 * time.Hour
)

type GenerateRequest struct {
	PackageType models.PackageType `json:"package_type" validate:"required,oneof=points_package subscription_plan"`
	PackageID   string             `json:"package_id" validate:"required,max=64"`
	ExpiresAt   *time.Time         `json:"expires_at"`
	Count       int                `json:"count" validate:"omitempty,min=1,max=500"`
	CreatedBy   uint               `json:"-"`
}

type Manager struct {
	data       *database.Data
	catalog    *catalog.Lookup
	granter    *entitlement.Granter
	dailyLimit int
	log        *slog.Logger
	now        func() time.Time
}

func New(data *database.Data, catalog *catalog.Lookup, granter *entitlement.Granter, dailyLimit int, log *slog.Logger) *Manager {
	if dailyLimit <= 0 {
		dailyLimit = 5
	}
	return &Manager{
		data:       data,
		catalog:    catalog,
		granter:    granter,
		dailyLimit: dailyLimit,
		log:        log.With(sl.Module("redemption")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate issues req.Count codes (at least one) for an existing package.
// A code colliding with the unique index is regenerated.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) ([]models.RedemptionCode, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > maxBatch {
		return nil, apperr.Invalid("at most %d codes per batch", maxBatch)
	}
	if err := m.checkPackage(ctx, req.PackageType, req.PackageID); err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(m.now()) {
		return nil, apperr.Invalid("expiry %s is in the past", req.ExpiresAt.Format(time.RFC3339))
	}

	codes := make([]models.RedemptionCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := m.generateOne(ctx, req)
		if err != nil {
			return codes, err
		}
		codes = append(codes, *code)
	}

	m.log.Info("redemption codes generated",
		slog.Int("count", len(codes)),
		slog.String("package_type", string(req.PackageType)),
		slog.String("package_id", req.PackageID),
		slog.Uint64("admin_id", uint64(req.CreatedBy)),
	)
	return codes, nil
}

func (m *Manager) generateOne(ctx context.Context, req GenerateRequest) (*models.RedemptionCode, error) {
	for attempt := 0; attempt < generateAttempts; attempt++ {
		value, err := newCode(m.now())
		if err != nil {
			return nil, err
		}
		code := models.RedemptionCode{
			Code:        value,
			PackageType: req.PackageType,
			PackageID:   req.PackageID,
			ExpiresAt:   req.ExpiresAt,
			CreatedBy:   req.CreatedBy,
		}
		err = m.data.DB(ctx).Create(&code).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			m.log.Warn("redemption code collision, regenerating", slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, apperr.Unavailable(fmt.Errorf("insert code: %w", err))
		}
		return &code, nil
	}
	return nil, apperr.Wrap(apperr.ErrConflict, fmt.Errorf("no unique code after %d attempts", generateAttempts))
}

func (m *Manager) checkPackage(ctx context.Context, packageType models.PackageType, packageID string) error {
	switch packageType {
	case models.PackagePoints:
		_, err := m.catalog.PointsPackage(ctx, packageID)
		return err
	case models.PackageSubscription:
		_, err := m.catalog.Plan(ctx, packageID)
		return err
	default:
		return apperr.Invalid("unknown package type %q", packageType)
	}
}

// Redeem validates the code, enforces the per-user quota and then flips the
// code and grants its package in one transaction. The flip is a conditional
// update on is_redeemed, so of two racing redemptions exactly one succeeds.
// The quota is counted again inside the transaction under the user's row
// lock, so parallel redemptions of different codes can't exceed it.
func (m *Manager) Redeem(ctx context.Context, rawCode string, userID uint, sourceIP string) (*entitlement.Entitlement, error) {
	code := NormalizeCode(rawCode)
	if !ValidCode(code) {
		return nil, apperr.Invalid("malformed code")
	}
	log := m.log.With(sl.User(userID), slog.String("code", code), slog.String("ip", sourceIP))

	var rc models.RedemptionCode
	err := m.data.DB(ctx).Where("code = ?", code).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("code %s", code))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load code: %w", err))
	}
	now := m.now()
	if rc.IsRedeemed {
		return nil, apperr.ErrAlreadyRedeemed
	}
	if rc.ExpiresAt != nil && !rc.ExpiresAt.After(now) {
		return nil, apperr.ErrExpired
	}

	used, err := m.redeemedSince(ctx, userID, now.Add(-quotaWindow))
	if err != nil {
		return nil, err
	}
	if used >= int64(m.dailyLimit) {
		log.Info("redemption quota exceeded", slog.Int64("used", used))
		return nil, apperr.ErrQuotaExceeded
	}

	var ent *entitlement.Entitlement
	err = m.data.Exec(ctx, func(ctx context.Context) error {
		var owner models.User
		err := m.data.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", userID).Find(&owner).Error
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		used, err := m.redeemedSince(ctx, userID, now.Add(-quotaWindow))
		if err != nil {
			return err
		}
		if used >= int64(m.dailyLimit) {
			log.Info("redemption quota exceeded", slog.Int64("used", used))
			return apperr.ErrQuotaExceeded
		}

		res := m.data.DB(ctx).Model(&models.RedemptionCode{}).
			Where("code = ? AND is_redeemed = ?", code, false).
			Updates(map[string]interface{}{
				"is_redeemed": true,
				"redeemed_by": userID,
				"redeemed_at": now,
				"redeemed_ip": sourceIP,
			})
		if res.Error != nil {
			return fmt.Errorf("flip code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Wrap(apperr.ErrAlreadyRedeemed, apperr.ErrConflict)
		}

		granted, err := m.granter.Apply(ctx, userID, rc.PackageType, rc.PackageID, "code:"+code)
		if err != nil {
			return err
		}
		ent = granted
		return nil
	})
	if err != nil {
		if !apperr.IsTerminal(err) {
			log.Error("redemption failed", sl.Err(err))
		}
		return nil, apperr.Unavailable(err)
	}

	log.Info("code redeemed", slog.String("granted", ent.Description))
	return ent, nil
}

func (m *Manager) redeemedSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var count int64
	err := m.data.DB(ctx).Model(&models.RedemptionCode{}).
		Where("redeemed_by = ? AND redeemed_at >= ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Unavailable(fmt.Errorf("count redemptions: %w", err))
	}
	return count, nil
}

// Lookup returns a code without changing it.
func (m *Manager) Lookup(ctx context.Context, rawCode string) (*models.RedemptionCode, error) {
	code := NormalizeCode(rawCode)
	if !ValidCode(code) {
		return nil, apperr.Invalid("malformed code")
	}
	var rc models.RedemptionCode
	err := m.data.DB(ctx).Where("code = ?", code).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("code %s", code))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load code: %w", err))
	}
	return &rc, nil
}
