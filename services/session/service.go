package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/internal/device"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

// TokenRevoker cascades a session revocation to the refresh-token family
// backing it, inside the caller's transaction. Wired after construction
// to avoid a package cycle with the rotation engine.
type TokenRevoker interface {
	RevokeFamilyTx(tx *gorm.DB, familyID string) error
}

type Service struct {
	db           *gorm.DB
	config       *config.Config
	logger       *logging.Service
	tokenRevoker TokenRevoker
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *Service) SetTokenRevoker(tokenRevoker TokenRevoker) {
	s.tokenRevoker = tokenRevoker
}

// Upsert creates the session row on a new family and touches LastActivity
// on an existing one. SessionStarted is only ever written on creation.
func (s *Service) Upsert(accountID uint, accountType AccountType, familyID string, dev device.Info) error {
	now := time.Now()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("family_id = ?", familyID).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			sess := Session{
				AccountID:      accountID,
				AccountType:    accountType,
				FamilyID:       familyID,
				Fingerprint:    dev.Fingerprint(),
				IPAddress:      dev.IPAddress,
				UserAgent:      dev.UserAgent,
				SessionStarted: now,
				LastActivity:   now,
				IsActive:       true,
			}
			if err := tx.Create(&sess).Error; err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}

			if s.logger != nil {
				s.logger.Info("session created",
					zap.Uint("account_id", accountID),
					zap.String("account_type", string(accountType)),
					zap.String("family_id", familyID))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up session: %w", err)
		}

		return tx.Model(&existing).
			Updates(map[string]any{
				"last_activity": now,
				"ip_address":    dev.IPAddress,
				"user_agent":    dev.UserAgent,
			}).Error
	})
}

func (s *Service) GetByFamily(familyID string) (*Session, error) {
	var sess Session
	err := s.db.Where("family_id = ?", familyID).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return &sess, nil
}

func (s *Service) ListActive(accountID uint, accountType AccountType) ([]Session, error) {
	var sessions []Session
	err := s.db.
		Where("account_id = ? AND account_type = ? AND is_active = ?", accountID, accountType, true).
		Order("session_started ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

// EnforceDeviceLimit evicts the session with the earliest SessionStarted
// when the account is at or above maxDevices active sessions, and cascades
// the eviction to that session's token family. Session update and family
// revocation commit or roll back together. Eviction order is creation
// time, not last activity: the policy bounds total concurrent device
// grants rather than idle time.
func (s *Service) EnforceDeviceLimit(accountID uint, accountType AccountType, maxDevices int) error {
	if maxDevices <= 0 {
		return nil
	}

	var evictedFamily string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var sessions []Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND account_type = ? AND is_active = ?", accountID, accountType, true).
			Order("session_started ASC").
			Find(&sessions).Error; err != nil {
			return fmt.Errorf("failed to list active sessions: %w", err)
		}

		if len(sessions) < maxDevices {
			return nil
		}

		oldest := sessions[0]
		evictedFamily = oldest.FamilyID

		if err := tx.Model(&Session{}).
			Where("id = ?", oldest.ID).
			Updates(map[string]any{"is_active": false, "revoked": true}).Error; err != nil {
			return fmt.Errorf("failed to revoke evicted session: %w", err)
		}

		if s.tokenRevoker == nil {
			return nil
		}
		if err := s.tokenRevoker.RevokeFamilyTx(tx, oldest.FamilyID); err != nil {
			return fmt.Errorf("failed to cascade eviction to token family: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if evictedFamily != "" && s.logger != nil {
		s.logger.Info("device limit reached, evicted oldest session",
			zap.Uint("account_id", accountID),
			zap.String("account_type", string(accountType)),
			zap.String("family_id", evictedFamily),
			zap.Int("max_devices", maxDevices))
	}

	return nil
}

func (s *Service) Deactivate(familyID string) error {
	result := s.db.Model(&Session{}).
		Where("family_id = ?", familyID).
		Updates(map[string]any{"is_active": false, "revoked": true})

	if result.Error != nil {
		return fmt.Errorf("failed to deactivate session: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("session deactivated", zap.String("family_id", familyID))
	}

	return nil
}

func (s *Service) RevokeAll(accountID uint, accountType AccountType) error {
	result := s.db.Model(&Session{}).
		Where("account_id = ? AND account_type = ?", accountID, accountType).
		Updates(map[string]any{"is_active": false, "revoked": true})

	if result.Error != nil {
		return fmt.Errorf("failed to revoke account sessions: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Info("all account sessions revoked",
			zap.Uint("account_id", accountID),
			zap.String("account_type", string(accountType)),
			zap.Int64("count", result.RowsAffected))
	}

	return nil
}

// CleanupOrphaned deletes sessions idle past the retention window,
// regardless of revocation state.
func (s *Service) CleanupOrphaned(batchSize int) (int64, error) {
	cutoff := time.Now().Add(-s.config.Session.OrphanRetention)

	var ids []uint
	if err := s.db.Model(&Session{}).
		Where("last_activity < ?", cutoff).
		Limit(batchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to query orphaned sessions: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete orphaned sessions: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up orphaned sessions",
			zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}
