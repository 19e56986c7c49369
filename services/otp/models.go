package otp

import (
	"time"
)

// Otp stores a delivered one-time code. Only the bcrypt digest of the
// code is persisted; the record exists solely because delivery already
// succeeded.
type Otp struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	PhoneNumber       string     `json:"phone_number" gorm:"size:20;not null;index"`
	CodeHash          string     `json:"-" gorm:"size:80;not null"`
	ExpiresAt         time.Time  `json:"expires_at" gorm:"not null;index"`
	Used              bool       `json:"used" gorm:"not null;default:false"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
	UsedByFingerprint *string    `json:"-" gorm:"size:64"`
	AttemptCount      int        `json:"attempt_count" gorm:"not null;default:0"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (Otp) TableName() string {
	return "otps"
}

type SendResult struct {
	WaitSeconds int `json:"wait_seconds,omitempty"`
	ExpiresIn   int `json:"expires_in,omitempty"`
}
