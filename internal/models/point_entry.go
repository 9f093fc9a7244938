package models

import (
	"time"
)

type PointKind string

const (
	PointKindEarned PointKind = "earned"
	PointKindSpent  PointKind = "spent"
)

// PointEntry is one immutable ledger row. Earned rows stop counting once
// ExpiresAt has passed; spent rows carry negative Points and never expire.
type PointEntry struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	UserID      uint       `gorm:"not null;index:idx_point_entries_user_kind" json:"user_id"`
	Points      int64      `gorm:"not null" json:"points"`
	Kind        PointKind  `gorm:"size:16;not null;index:idx_point_entries_user_kind" json:"kind"`
	Description string     `gorm:"size:255" json:"description"`
	Reference   string     `gorm:"size:64;index" json:"reference,omitempty"`
	EarnedAt    time.Time  `gorm:"not null;index" json:"earned_at"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
}
