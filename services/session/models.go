package session

import (
	"time"
)

type AccountType string

const (
	AccountTypeUser      AccountType = "user"
	AccountTypeSuperuser AccountType = "superuser"
)

// Session is the single row tracked per token family. SessionStarted is
// immutable after creation; RefreshCount only ever increases.
type Session struct {
	ID             uint        `json:"id" gorm:"primaryKey"`
	AccountID      uint        `json:"account_id" gorm:"not null;index:idx_sessions_account"`
	AccountType    AccountType `json:"account_type" gorm:"size:16;not null;index:idx_sessions_account"`
	FamilyID       string      `json:"family_id" gorm:"uniqueIndex;size:64;not null"`
	Fingerprint    string      `json:"-" gorm:"size:64;not null"`
	IPAddress      string      `json:"ip_address" gorm:"size:45"`
	UserAgent      string      `json:"user_agent" gorm:"size:500"`
	SessionStarted time.Time   `json:"session_started" gorm:"not null"`
	LastActivity   time.Time   `json:"last_activity" gorm:"not null;index"`
	RefreshCount   int         `json:"refresh_count" gorm:"not null;default:0"`
	IsActive       bool        `json:"is_active" gorm:"not null;default:true"`
	Revoked        bool        `json:"revoked" gorm:"not null;default:false"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (Session) TableName() string {
	return "sessions"
}
