package models

import (
	"time"
)

// User carries the denormalized subscription mirror (IsSubscribed,
// SubscriptionExpiresAt) kept in sync with UserSubscription.
type User struct {
	ID                    uint   `gorm:"primaryKey"`
	Username              string `gorm:"size:255;uniqueIndex;not null"`
	APIToken              string `gorm:"size:64;uniqueIndex;not null"`
	IsAdmin               bool   `gorm:"not null;default:false"`
	IsPremium             bool   `gorm:"not null;default:false"`
	IsSubscribed          bool   `gorm:"not null;default:false"`
	SubscriptionExpiresAt *time.Time
	RegisteredIP          string `gorm:"size:64"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
