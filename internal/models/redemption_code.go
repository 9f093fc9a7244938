package models

import (
	"time"
)

type PackageType string

const (
	PackagePoints       PackageType = "points_package"
	PackageSubscription PackageType = "subscription_plan"
)

// RedemptionCode flips IsRedeemed false -> true exactly once.
type RedemptionCode struct {
	ID          uint        `gorm:"primaryKey" json:"-"`
	Code        string      `gorm:"size:19;uniqueIndex;not null" json:"code"`
	PackageType PackageType `gorm:"size:32;not null" json:"package_type"`
	PackageID   string      `gorm:"size:64;not null" json:"package_id"`
	IsRedeemed  bool        `gorm:"not null;default:false;index" json:"is_redeemed"`
	RedeemedBy  *uint       `gorm:"index" json:"redeemed_by,omitempty"`
	RedeemedAt  *time.Time  `gorm:"index" json:"redeemed_at,omitempty"`
	RedeemedIP  string      `gorm:"size:64" json:"-"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	CreatedBy   uint        `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
}
