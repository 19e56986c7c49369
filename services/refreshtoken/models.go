package refreshtoken

import (
	"time"

	"github.com/tech-arch1tect/bookd/services/session"
)

// RefreshToken is one link in a family's rotation chain. A record with
// neither RotatedAt nor Revoked set is the family's single active record.
// SuccessorID points forward along the chain: at most one successor,
// never a cycle. Records are only marked, never deleted, until the
// expiry sweep removes them.
type RefreshToken struct {
	ID          string              `json:"id" gorm:"primaryKey;size:36"`
	AccountID   uint                `json:"account_id" gorm:"not null;index:idx_refresh_tokens_account"`
	AccountType session.AccountType `json:"account_type" gorm:"size:16;not null;index:idx_refresh_tokens_account"`
	SecretHash  string              `json:"-" gorm:"uniqueIndex;size:64;not null"`
	FamilyID    string              `json:"family_id" gorm:"index;size:64;not null"`
	ExpiresAt   time.Time           `json:"expires_at" gorm:"not null;index"`
	Revoked     bool                `json:"revoked" gorm:"not null;default:false"`
	RevokedAt   *time.Time          `json:"revoked_at,omitempty"`
	RotatedAt   *time.Time          `json:"rotated_at,omitempty"`
	SuccessorID *string             `json:"successor_id,omitempty" gorm:"size:36"`
	Fingerprint string              `json:"-" gorm:"size:64;not null"`
	IPAddress   string              `json:"ip_address" gorm:"size:45"`
	UserAgent   string              `json:"user_agent" gorm:"size:500"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// TokenPair is what a successful login or rotation hands back to the
// route layer. RefreshSecret is the raw secret; only its digest is stored.
type TokenPair struct {
	AccessToken   string `json:"access_token"`
	RefreshSecret string `json:"refresh_secret"`
	ExpiresIn     int    `json:"expires_in"`
	FamilyID      string `json:"family_id"`
}
