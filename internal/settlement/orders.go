package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/payment"
	"pixelmint-ledger/lib/sl"
)

type CreateOrderRequest struct {
	OrderType models.OrderType `json:"order_type" validate:"required,oneof=points subscription"`
	ProductID string           `json:"product_id" validate:"required,max=64"`
}

// CreateOrder prices the product from the catalog, stores a pending order
// and registers it with the gateway. A gateway failure fails the order.
func (e *Engine) CreateOrder(ctx context.Context, userID uint, req CreateOrderRequest) (*models.PaymentOrder, error) {
	order := models.PaymentOrder{
		ID:        e.node.Generate().String(),
		UserID:    userID,
		OrderType: req.OrderType,
		ProductID: req.ProductID,
		Status:    models.OrderPending,
	}

	switch req.OrderType {
	case models.OrderTypePoints:
		pkg, err := e.catalog.PointsPackage(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		points := pkg.Points
		order.Amount = pkg.Price
		order.PointsAmount = &points
		order.Subject = pkg.Name
	case models.OrderTypeSubscription:
		plan, err := e.catalog.Plan(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		order.Amount = plan.Price
		order.Subject = plan.Name
	default:
		return nil, apperr.Invalid("unknown order type %q", req.OrderType)
	}
	if !order.Amount.IsPositive() {
		return nil, apperr.Invalid("product %s has no price", req.ProductID)
	}

	if err := e.data.DB(ctx).Create(&order).Error; err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("insert order: %w", err))
	}
	log := e.log.With(sl.Order(order.ID), sl.User(userID))

	payURL, err := e.gateway.CreatePayment(ctx, order.ID, order.Amount, order.Subject)
	if err != nil {
		log.Error("gateway create payment", sl.Err(err))
		if _, ferr := e.Fail(ctx, order.ID); ferr != nil {
			log.Error("fail order after gateway error", sl.Err(ferr))
		}
		return nil, apperr.Wrap(apperr.ErrUnavailable, fmt.Errorf("create payment: %w", err))
	}

	if err := e.data.DB(ctx).Model(&order).Update("payment_url", payURL).Error; err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("store payment url: %w", err))
	}
	order.PaymentURL = payURL

	log.Info("order created",
		slog.String("type", string(order.OrderType)),
		slog.String("product", order.ProductID),
		slog.String("amount", order.Amount.StringFixed(2)),
	)
	return &order, nil
}

// Poll is the client-driven path: it asks the gateway about an order owned by
// userID and settles or fails it according to the answer.
func (e *Engine) Poll(ctx context.Context, orderID string, userID uint) (*Result, error) {
	order, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("order %s", orderID))
	}

	switch order.Status {
	case models.OrderPaid, models.OrderRefunded:
		return &Result{OrderID: order.ID, Status: StatusAlreadyPaid, PaidAt: order.PaidAt, Entitled: order.EntitledAt != nil}, nil
	case models.OrderFailed:
		return &Result{OrderID: order.ID, Status: StatusFailed}, nil
	}

	q, err := e.gateway.QueryOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, fmt.Errorf("query gateway: %w", err))
	}

	switch {
	case q.Succeeded():
		var amount *decimal.Decimal
		if q.TotalAmount != "" {
			parsed, err := decimal.NewFromString(q.TotalAmount)
			if err != nil {
				return nil, apperr.Invalid("gateway amount %q", q.TotalAmount)
			}
			amount = &parsed
		}
		return e.SettleOrder(ctx, orderID, q.TradeNo, amount)
	case q.TradeStatus == payment.TradeClosed:
		if _, err := e.Fail(ctx, orderID); err != nil {
			return nil, err
		}
		return &Result{OrderID: orderID, Status: StatusFailed}, nil
	default:
		return &Result{OrderID: orderID, Status: StatusPending}, nil
	}
}

type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Entitled int `json:"entitled"`
	Failed   int `json:"failed"`
	Parked   int `json:"parked"`
}

const (
	reconcileBatch = 100
	// orders failing this many background retries are left to an operator
	maxReconcileAttempts = 5
)

// Reconcile retries entitlement for paid orders that have none, skipping
// orders paid within the grace period since their settle call may still be
// running. Orders with the fewest failed retries go first, so a block of
// permanently failing orders can't hold back newer ones. After
// maxReconcileAttempts an order is parked and the operator alerted once;
// ReconcileOrder retries a parked order by hand.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	cutoff := e.now().Add(-e.grace)

	var orders []models.PaymentOrder
	err := e.data.DB(ctx).
		Where("status = ? AND entitled_at IS NULL AND paid_at <= ? AND reconcile_attempts < ?",
			models.OrderPaid, cutoff, maxReconcileAttempts).
		Order("reconcile_attempts, paid_at, id").
		Limit(reconcileBatch).
		Find(&orders).Error
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("query unentitled orders: %w", err))
	}

	report := &ReconcileReport{Scanned: len(orders)}
	for i := range orders {
		order := &orders[i]
		entitled, err := e.entitle(ctx, order)
		if err != nil {
			report.Failed++
			if e.recordReconcileFailure(ctx, order, err) {
				report.Parked++
			}
			continue
		}
		if entitled {
			report.Entitled++
		}
	}

	if report.Scanned > 0 {
		e.log.Info("reconcile finished",
			slog.Int("scanned", report.Scanned),
			slog.Int("entitled", report.Entitled),
			slog.Int("failed", report.Failed),
			slog.Int("parked", report.Parked),
		)
	}
	return report, nil
}

// recordReconcileFailure bumps the order's retry counter and reports whether
// this failure parked it.
func (e *Engine) recordReconcileFailure(ctx context.Context, order *models.PaymentOrder, cause error) bool {
	attempts := order.ReconcileAttempts + 1
	log := e.log.With(sl.Order(order.ID), sl.User(order.UserID), slog.Int("attempts", attempts))

	err := e.data.DB(ctx).Model(&models.PaymentOrder{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"reconcile_attempts": gorm.Expr("reconcile_attempts + 1"),
			"last_reconcile_at":  e.now(),
		}).Error
	if err != nil {
		log.Error("record reconcile attempt", sl.Err(err))
	}

	if attempts < maxReconcileAttempts {
		log.Warn("reconcile retry failed", sl.Err(cause))
		return false
	}
	e.reportPartialFailure(ctx, order, fmt.Errorf("parked after %d reconcile attempts: %w", attempts, cause))
	return true
}

// ReconcileOrder retries entitlement for one paid order regardless of its
// retry count.
func (e *Engine) ReconcileOrder(ctx context.Context, orderID string) (*Result, error) {
	order, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, apperr.Wrap(apperr.ErrConflict, fmt.Errorf("order %s is %s", orderID, order.Status))
	}
	if order.EntitledAt != nil {
		return &Result{OrderID: orderID, Status: StatusAlreadyPaid, PaidAt: order.PaidAt, Entitled: true}, nil
	}
	entitled, err := e.entitle(ctx, order)
	if err != nil {
		return nil, err
	}
	return &Result{OrderID: orderID, Status: StatusPaid, PaidAt: order.PaidAt, Entitled: entitled}, nil
}
