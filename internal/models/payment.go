package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypePoints       OrderType = "points"
	OrderTypeSubscription OrderType = "subscription"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderRefunded OrderStatus = "refunded"
)

// PaymentOrder moves pending -> paid or pending -> failed, and paid -> refunded.
// EntitledAt is set in the same transaction that grants the order's benefits.
// ReconcileAttempts counts failed background retries of that grant.
type PaymentOrder struct {
	ID           string          `gorm:"primaryKey;size:32" json:"id"`
	UserID       uint            `gorm:"not null;index" json:"user_id"`
	OrderType    OrderType       `gorm:"size:16;not null" json:"order_type"`
	ProductID    string          `gorm:"size:64;not null" json:"product_id"`
	Subject      string          `gorm:"size:255" json:"subject"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PointsAmount *int64          `json:"points_amount,omitempty"`
	Status       OrderStatus     `gorm:"size:16;not null;default:'pending';index" json:"status"`
	PaymentID    *string         `gorm:"size:64" json:"payment_id,omitempty"`
	PaymentURL   string          `gorm:"size:512" json:"payment_url"`
	PaidAt       *time.Time      `gorm:"index" json:"paid_at,omitempty"`
	EntitledAt   *time.Time      `gorm:"index" json:"entitled_at,omitempty"`

	ReconcileAttempts int        `gorm:"not null;default:0" json:"reconcile_attempts"`
	LastReconcileAt   *time.Time `json:"last_reconcile_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
