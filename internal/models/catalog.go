package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PointsPackage struct {
	ID        string          `gorm:"primaryKey;size:64"`
	Name      string          `gorm:"size:255;not null"`
	Points    int64           `gorm:"not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	IsActive  bool            `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SubscriptionPlan struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Name        string          `gorm:"size:255;not null"`
	PlanType    PlanType        `gorm:"size:16;not null"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	BonusPoints int64           `gorm:"not null;default:0"`
	IsActive    bool            `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
