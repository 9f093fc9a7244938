// Package settlement turns paid orders into entitlements exactly once.
//
// Settling is two units of work. The first flips the order pending -> paid
// with a status-guarded update. The second claims the order's entitlement by
// setting entitled_at where it is still NULL and grants in the same
// transaction; if granting fails the claim rolls back and Reconcile picks the
// order up later. Both steps are conditional updates, so webhook, poll and
// reconcile may run concurrently on one order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/catalog"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/notify"
	"pixelmint-ledger/internal/payment"
	"pixelmint-ledger/lib/sl"
)

var amountTolerance = decimal.RequireFromString("0.01")

const (
	StatusPaid        = "paid"
	StatusAlreadyPaid = "already_paid"
	StatusPending     = "pending"
	StatusFailed      = "failed"
)

type Gateway interface {
	CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, subject string) (string, error)
	QueryOrder(ctx context.Context, orderID string) (*payment.QueryResult, error)
}

type Result struct {
	OrderID  string     `json:"order_id"`
	Status   string     `json:"status"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`
	Entitled bool       `json:"entitled"`
}

type Engine struct {
	data     *database.Data
	catalog  *catalog.Lookup
	granter  *entitlement.Granter
	gateway  Gateway
	notifier notify.Notifier
	node     *snowflake.Node
	grace    time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func New(
	data *database.Data,
	catalog *catalog.Lookup,
	granter *entitlement.Granter,
	gateway Gateway,
	notifier notify.Notifier,
	node *snowflake.Node,
	grace time.Duration,
	log *slog.Logger,
) *Engine {
	return &Engine{
		data:     data,
		catalog:  catalog,
		granter:  granter,
		gateway:  gateway,
		notifier: notifier,
		node:     node,
		grace:    grace,
		log:      log.With(sl.Module("settlement")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Order(ctx context.Context, orderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := e.data.DB(ctx).Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("order %s", orderID))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load order: %w", err))
	}
	return &order, nil
}

// SettleOrder marks the order paid and grants its entitlements. A repeated
// call on a paid order is a no-op returning already_paid. gatewayAmount, when
// given, must match the order amount within 0.01.
func (e *Engine) SettleOrder(ctx context.Context, orderID, tradeID string, gatewayAmount *decimal.Decimal) (*Result, error) {
	log := e.log.With(sl.Order(orderID), slog.String("trade_id", tradeID))

	order, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if gatewayAmount != nil && order.Amount.Sub(*gatewayAmount).Abs().GreaterThan(amountTolerance) {
		log.Warn("amount mismatch",
			slog.String("order_amount", order.Amount.StringFixed(2)),
			slog.String("gateway_amount", gatewayAmount.StringFixed(2)),
		)
		return nil, apperr.Wrap(apperr.ErrAmountMismatch,
			fmt.Errorf("order %s: expected %s, got %s", orderID, order.Amount.StringFixed(2), gatewayAmount.StringFixed(2)))
	}

	switch order.Status {
	case models.OrderPaid:
		return &Result{OrderID: order.ID, Status: StatusAlreadyPaid, PaidAt: order.PaidAt, Entitled: order.EntitledAt != nil}, nil
	case models.OrderPending:
	default:
		log.Error("payment reported for a closed order", slog.String("status", string(order.Status)))
		return nil, apperr.Wrap(apperr.ErrConflict, fmt.Errorf("order %s is %s", orderID, order.Status))
	}

	now := e.now()
	updates := map[string]interface{}{
		"status":  models.OrderPaid,
		"paid_at": now,
	}
	if tradeID != "" {
		updates["payment_id"] = tradeID
	}
	res := e.data.DB(ctx).Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", orderID, models.OrderPending).
		Updates(updates)
	if res.Error != nil {
		return nil, apperr.Unavailable(fmt.Errorf("mark order paid: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		// lost the race to another settle call
		current, err := e.Order(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.OrderPaid {
			return &Result{OrderID: orderID, Status: StatusAlreadyPaid, PaidAt: current.PaidAt, Entitled: current.EntitledAt != nil}, nil
		}
		return nil, apperr.Wrap(apperr.ErrConflict, fmt.Errorf("order %s moved to %s", orderID, current.Status))
	}
	log.Info("order paid", sl.User(order.UserID), slog.String("amount", order.Amount.StringFixed(2)))

	order.Status = models.OrderPaid
	order.PaidAt = &now
	entitled, err := e.entitle(ctx, order)
	if err != nil {
		e.reportPartialFailure(ctx, order, err)
	}
	return &Result{OrderID: orderID, Status: StatusPaid, PaidAt: &now, Entitled: entitled}, nil
}

// entitle claims and grants the order's entitlements. It returns false with
// no error when another caller already entitled the order.
func (e *Engine) entitle(ctx context.Context, order *models.PaymentOrder) (bool, error) {
	claimed := false
	err := e.data.Exec(ctx, func(ctx context.Context) error {
		res := e.data.DB(ctx).Model(&models.PaymentOrder{}).
			Where("id = ? AND status = ? AND entitled_at IS NULL", order.ID, models.OrderPaid).
			Update("entitled_at", e.now())
		if res.Error != nil {
			return fmt.Errorf("claim entitlement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true

		switch order.OrderType {
		case models.OrderTypePoints:
			if order.PointsAmount == nil || *order.PointsAmount <= 0 {
				return apperr.Invalid("points order %s has no points amount", order.ID)
			}
			desc := fmt.Sprintf("purchase of %s", order.ProductID)
			_, err := e.granter.ApplyPoints(ctx, order.UserID, *order.PointsAmount, desc, "order:"+order.ID, order.ProductID)
			return err
		case models.OrderTypeSubscription:
			plan, err := e.catalog.Plan(ctx, order.ProductID)
			if err != nil {
				return err
			}
			_, err = e.granter.ApplyPlan(ctx, order.UserID, plan, "order:"+order.ID)
			return err
		default:
			return apperr.Invalid("unknown order type %q", order.OrderType)
		}
	})
	if err != nil {
		return false, err
	}
	if claimed {
		e.log.Info("order entitled", sl.Order(order.ID), sl.User(order.UserID), slog.String("type", string(order.OrderType)))
	}
	return claimed, nil
}

func (e *Engine) reportPartialFailure(ctx context.Context, order *models.PaymentOrder, err error) {
	e.log.Error("order paid but not entitled",
		sl.Order(order.ID),
		sl.User(order.UserID),
		slog.String("type", string(order.OrderType)),
		slog.String("product", order.ProductID),
		sl.Err(err),
	)
	if e.notifier != nil {
		e.notifier.Alert(ctx, fmt.Sprintf("order %s (user %d, %s %s) is paid but not entitled: %v",
			order.ID, order.UserID, order.OrderType, order.ProductID, err))
	}
}

// Fail moves a pending order to failed. Returns false when the order was no
// longer pending.
func (e *Engine) Fail(ctx context.Context, orderID string) (bool, error) {
	res := e.data.DB(ctx).Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", orderID, models.OrderPending).
		Update("status", models.OrderFailed)
	if res.Error != nil {
		return false, apperr.Unavailable(fmt.Errorf("mark order failed: %w", res.Error))
	}
	if res.RowsAffected > 0 {
		e.log.Info("order failed", sl.Order(orderID))
	}
	return res.RowsAffected > 0, nil
}
