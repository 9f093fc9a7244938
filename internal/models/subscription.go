package models

import (
	"time"
)

type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanYearly    PlanType = "yearly"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// UserSubscription is the single current subscription row of a user.
type UserSubscription struct {
	ID        uint               `gorm:"primaryKey"`
	UserID    uint               `gorm:"not null;uniqueIndex"`
	PlanID    string             `gorm:"size:64"`
	PlanType  PlanType           `gorm:"size:16;not null"`
	Status    SubscriptionStatus `gorm:"size:16;not null;index"`
	StartedAt time.Time          `gorm:"not null"`
	ExpiresAt time.Time          `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the row still grants access at now.
func (s UserSubscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && s.ExpiresAt.After(now)
}
