// Package entitlement applies catalog packages to a user: points go to the
// ledger, plans go to the subscription service plus any bonus points.
// Redemption, settlement and admin compensation all grant through here.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/subscription"
	"pixelmint-ledger/lib/sl"
)

// Entitlement describes what a grant produced.
type Entitlement struct {
	UserID                uint               `json:"user_id"`
	PackageType           models.PackageType `json:"package_type"`
	PackageID             string             `json:"package_id"`
	Points                int64              `json:"points,omitempty"`
	PlanType              models.PlanType    `json:"plan_type,omitempty"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at,omitempty"`
	Description           string             `json:"description"`
}

type Granter struct {
	data    *database.Data
	ledger  *ledger.Store
	subs    *subscription.Service
	catalog *catalog.Lookup
	log     *slog.Logger
}

func New(data *database.Data, ledger *ledger.Store, subs *subscription.Service, catalog *catalog.Lookup, log *slog.Logger) *Granter {
	return &Granter{
		data:    data,
		ledger:  ledger,
		subs:    subs,
		catalog: catalog,
		log:     log.With(sl.Module("entitlement")),
	}
}

// Apply resolves the package and grants it. Joins the caller's transaction.
func (g *Granter) Apply(ctx context.Context, userID uint, packageType models.PackageType, packageID, reference string) (*Entitlement, error) {
	switch packageType {
	case models.PackagePoints:
		pkg, err := g.catalog.PointsPackage(ctx, packageID)
		if err != nil {
			return nil, err
		}
		desc := fmt.Sprintf("points package %s", pkg.Name)
		return g.ApplyPoints(ctx, userID, pkg.Points, desc, reference, packageID)
	case models.PackageSubscription:
		plan, err := g.catalog.Plan(ctx, packageID)
		if err != nil {
			return nil, err
		}
		return g.ApplyPlan(ctx, userID, plan, reference)
	default:
		return nil, apperr.Invalid("unknown package type %q", packageType)
	}
}

// ApplyPoints grants a fixed number of points with the standard expiry.
func (g *Granter) ApplyPoints(ctx context.Context, userID uint, points int64, description, reference, packageID string) (*Entitlement, error) {
	if err := g.ledger.GrantWithReference(ctx, userID, points, description, reference, g.ledger.TTLDays()); err != nil {
		return nil, err
	}
	return &Entitlement{
		UserID:      userID,
		PackageType: models.PackagePoints,
		PackageID:   packageID,
		Points:      points,
		Description: fmt.Sprintf("%d points", points),
	}, nil
}

// ApplyPlan extends the subscription by one plan period and grants the
// plan's bonus points in one transaction.
func (g *Granter) ApplyPlan(ctx context.Context, userID uint, plan *models.SubscriptionPlan, reference string) (*Entitlement, error) {
	ent := &Entitlement{
		UserID:      userID,
		PackageType: models.PackageSubscription,
		PackageID:   plan.ID,
		PlanType:    plan.PlanType,
	}
	err := g.data.Exec(ctx, func(ctx context.Context) error {
		sub, err := g.subs.Apply(ctx, userID, plan.ID, plan.PlanType)
		if err != nil {
			return err
		}
		expires := sub.ExpiresAt
		ent.SubscriptionExpiresAt = &expires

		if plan.BonusPoints > 0 {
			desc := fmt.Sprintf("%s bonus points", plan.Name)
			if err := g.ledger.GrantWithReference(ctx, userID, plan.BonusPoints, desc, reference, g.ledger.TTLDays()); err != nil {
				return err
			}
			ent.Points = plan.BonusPoints
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ent.Description = fmt.Sprintf("%s subscription until %s", plan.Name, ent.SubscriptionExpiresAt.Format("2006-01-02"))
	if ent.Points > 0 {
		ent.Description += fmt.Sprintf(" and %d points", ent.Points)
	}
	return ent, nil
}
