package models

import (
	"time"
)

type IPRegistration struct {
	IPAddress           string    `gorm:"primaryKey;size:64"`
	RegistrationCount   int       `gorm:"not null;default:0"`
	FirstRegistrationAt time.Time `gorm:"not null"`
	LastRegistrationAt  time.Time `gorm:"not null"`
}
