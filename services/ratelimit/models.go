package ratelimit

import (
	"time"
)

// RateLimit is a fixed-window counter row. At most one row per
// (identifier, endpoint) has a WindowStart inside the active window; the
// count is never incremented past the configured ceiling.
type RateLimit struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Identifier   string    `json:"identifier" gorm:"size:128;not null;index:idx_rate_limits_key"`
	Endpoint     string    `json:"endpoint" gorm:"size:128;not null;index:idx_rate_limits_key"`
	RequestCount int       `json:"request_count" gorm:"not null;default:0"`
	WindowStart  time.Time `json:"window_start" gorm:"not null;index"`
	LastRequest  time.Time `json:"last_request" gorm:"not null"`
}

func (RateLimit) TableName() string {
	return "rate_limits"
}

type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
