package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

// CompensationRequest is an admin grant outside any purchase.
type CompensationRequest struct {
	UserID   uint            `json:"user_id" validate:"required"`
	Points   int64           `json:"points" validate:"gte=0"`
	PlanType models.PlanType `json:"plan_type" validate:"omitempty,oneof=monthly quarterly yearly"`
	Reason   string          `json:"reason" validate:"required,max=200"`
	AdminID  uint            `json:"-"`
}

// Compensate grants points and/or one plan period in a single transaction.
func (g *Granter) Compensate(ctx context.Context, req CompensationRequest) (*Entitlement, error) {
	if req.UserID == 0 || strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.Invalid("compensation needs a user and a reason")
	}
	if req.Points <= 0 && req.PlanType == "" {
		return nil, apperr.Invalid("compensation grants nothing")
	}

	desc := fmt.Sprintf("compensation by admin %d: %s", req.AdminID, req.Reason)
	ent := &Entitlement{UserID: req.UserID, Description: desc}

	err := g.data.Exec(ctx, func(ctx context.Context) error {
		if req.PlanType != "" {
			sub, err := g.subs.Apply(ctx, req.UserID, "compensation", req.PlanType)
			if err != nil {
				return err
			}
			expires := sub.ExpiresAt
			ent.PackageType = models.PackageSubscription
			ent.PlanType = req.PlanType
			ent.SubscriptionExpiresAt = &expires
		}
		if req.Points > 0 {
			ref := fmt.Sprintf("admin:%d", req.AdminID)
			if err := g.ledger.GrantWithReference(ctx, req.UserID, req.Points, desc, ref, g.ledger.TTLDays()); err != nil {
				return err
			}
			ent.Points = req.Points
			if ent.PackageType == "" {
				ent.PackageType = models.PackagePoints
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	g.log.Info("compensation granted",
		sl.User(req.UserID),
		slog.Uint64("admin_id", uint64(req.AdminID)),
		slog.Int64("points", req.Points),
		slog.String("plan_type", string(req.PlanType)),
	)
	return ent, nil
}
