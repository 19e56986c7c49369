package refreshtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/internal/device"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTokenNotFound          = errors.New("refresh token not found")
	ErrTokenExpired           = errors.New("refresh token expired")
	ErrTokenRevoked           = errors.New("refresh token revoked")
	ErrDeviceMismatch         = errors.New("device fingerprint mismatch")
	ErrRotatedTooFrequently   = errors.New("refresh token rotated too frequently")
	ErrSessionExpired         = errors.New("session exceeded maximum age")
	ErrReauthRequired         = errors.New("session exceeded rotation limit, re-authentication required")
	ErrSessionNotFound        = errors.New("session not found for token family")
	ErrSecretGenerationFailed = errors.New("failed to generate secure refresh secret")
)

// TokenIssuer is the access-token half of the pair. Satisfied by
// services/jwt.Service.
type TokenIssuer interface {
	GenerateToken(accountID uint, accountType, sessionID string) (string, error)
	AccessExpirySeconds() int
}

type Service struct {
	db     *gorm.DB
	config *config.Config
	jwt    TokenIssuer
	logger *logging.Service
}

func NewService(db *gorm.DB, cfg *config.Config, jwtService TokenIssuer, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing refresh token service",
			zap.Duration("expiry", cfg.RefreshToken.Expiry),
			zap.Duration("grace_window", cfg.RefreshToken.GraceWindow),
			zap.Duration("min_rotate_interval", cfg.RefreshToken.MinRotateInterval),
			zap.Duration("max_session_age", cfg.RefreshToken.MaxSessionAge))
	}

	return &Service{
		db:     db,
		config: cfg,
		jwt:    jwtService,
		logger: logger,
	}
}

// Issue mints a token pair for an account. An empty familyID starts a new
// device family; a non-empty one continues an existing lineage. The
// session row for the family is created or touched in the same
// transaction as the token record.
func (s *Service) Issue(accountID uint, accountType session.AccountType, dev device.Info, familyID string) (*TokenPair, error) {
	secret, err := s.generateSecret()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate refresh secret", zap.Error(err))
		}
		return nil, ErrSecretGenerationFailed
	}

	if familyID == "" {
		familyID = uuid.New().String()
	}

	now := time.Now()
	record := RefreshToken{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		AccountType: accountType,
		SecretHash:  s.hashSecret(secret),
		FamilyID:    familyID,
		ExpiresAt:   now.Add(s.config.RefreshToken.Expiry),
		Fingerprint: dev.Fingerprint(),
		IPAddress:   dev.IPAddress,
		UserAgent:   dev.UserAgent,
		CreatedAt:   now,
	}

	accessToken, err := s.jwt.GenerateToken(accountID, string(accountType), familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
		return s.upsertSessionTx(tx, accountID, accountType, familyID, dev, now)
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to issue token pair",
				zap.Uint("account_id", accountID),
				zap.Error(err))
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("token pair issued",
			zap.Uint("account_id", accountID),
			zap.String("account_type", string(accountType)),
			zap.String("family_id", familyID),
			zap.String("token_id", record.ID))
	}

	return &TokenPair{
		AccessToken:   accessToken,
		RefreshSecret: secret,
		ExpiresIn:     s.jwt.AccessExpirySeconds(),
		FamilyID:      familyID,
	}, nil
}

// Rotate exchanges a refresh secret for a fresh token pair. The whole
// state machine runs in one transaction so two concurrent callers cannot
// both consume the same record. Theft signals (reuse of a revoked or
// superseded secret, fingerprint mismatch) revoke the entire family and
// its session before the typed error is returned; those cascades commit.
func (s *Service) Rotate(secret string, dev device.Info) (*TokenPair, error) {
	secretHash := s.hashSecret(secret)
	now := time.Now()

	var pair *TokenPair
	var rotationErr error

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var record RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("secret_hash = ?", secretHash).
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rotationErr = ErrTokenNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up refresh token: %w", err)
		}

		if record.Revoked {
			// A revoked secret being presented again is either a stale
			// client or a replay of a captured token. Both are treated
			// as compromise of the whole family.
			if err := s.revokeFamilyTx(tx, record.FamilyID, now); err != nil {
				return err
			}
			s.logTheftSignal("revoked token reuse", &record)
			rotationErr = ErrTokenRevoked
			return nil
		}

		if now.After(record.ExpiresAt) {
			rotationErr = ErrTokenExpired
			return nil
		}

		if record.RotatedAt != nil {
			return s.handleRotatedRecord(tx, &record, secret, now, &pair, &rotationErr)
		}

		var sess session.Session
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("family_id = ?", record.FamilyID).
			First(&sess).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rotationErr = ErrSessionNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up session: %w", err)
		}

		if sess.Revoked || !sess.IsActive {
			// An evicted or logged-out session must not keep rotating.
			// Sweep up any family records the revocation missed.
			if err := s.revokeFamilyTx(tx, record.FamilyID, now); err != nil {
				return err
			}
			s.logTheftSignal("rotation attempt on revoked session", &record)
			rotationErr = ErrTokenRevoked
			return nil
		}

		if now.Sub(sess.LastActivity) < s.config.RefreshToken.MinRotateInterval {
			rotationErr = ErrRotatedTooFrequently
			return nil
		}

		if now.Sub(sess.SessionStarted) > s.config.RefreshToken.MaxSessionAge {
			rotationErr = ErrSessionExpired
			return nil
		}

		if s.config.RefreshToken.MaxRotations > 0 && sess.RefreshCount >= s.config.RefreshToken.MaxRotations {
			rotationErr = ErrReauthRequired
			return nil
		}

		if record.Fingerprint != dev.Fingerprint() {
			if err := s.revokeFamilyTx(tx, record.FamilyID, now); err != nil {
				return err
			}
			s.logTheftSignal("device fingerprint mismatch", &record)
			rotationErr = ErrDeviceMismatch
			return nil
		}

		newSecret, err := s.generateSecret()
		if err != nil {
			return ErrSecretGenerationFailed
		}

		successor := RefreshToken{
			ID:          uuid.New().String(),
			AccountID:   record.AccountID,
			AccountType: record.AccountType,
			SecretHash:  s.hashSecret(newSecret),
			FamilyID:    record.FamilyID,
			ExpiresAt:   now.Add(s.config.RefreshToken.Expiry),
			Fingerprint: dev.Fingerprint(),
			IPAddress:   dev.IPAddress,
			UserAgent:   dev.UserAgent,
			CreatedAt:   now,
		}
		if err := tx.Create(&successor).Error; err != nil {
			return fmt.Errorf("failed to store rotated refresh token: %w", err)
		}

		// The old record stays un-revoked inside the grace window so a
		// duplicate rotation call from the same client is idempotent.
		if err := tx.Model(&RefreshToken{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"rotated_at":   now,
				"successor_id": successor.ID,
			}).Error; err != nil {
			return fmt.Errorf("failed to mark refresh token rotated: %w", err)
		}

		if err := tx.Model(&session.Session{}).
			Where("id = ?", sess.ID).
			Updates(map[string]any{
				"refresh_count": gorm.Expr("refresh_count + 1"),
				"last_activity": now,
				"ip_address":    dev.IPAddress,
				"user_agent":    dev.UserAgent,
			}).Error; err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		accessToken, err := s.jwt.GenerateToken(record.AccountID, string(record.AccountType), record.FamilyID)
		if err != nil {
			return fmt.Errorf("failed to generate access token: %w", err)
		}

		pair = &TokenPair{
			AccessToken:   accessToken,
			RefreshSecret: newSecret,
			ExpiresIn:     s.jwt.AccessExpirySeconds(),
			FamilyID:      record.FamilyID,
		}

		if s.logger != nil {
			s.logger.Info("refresh token rotated",
				zap.Uint("account_id", record.AccountID),
				zap.String("family_id", record.FamilyID),
				zap.String("old_token_id", record.ID),
				zap.String("new_token_id", successor.ID))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	if rotationErr != nil {
		return nil, rotationErr
	}

	return pair, nil
}

// handleRotatedRecord resolves a secret that was already rotated. Inside
// the grace window with an unconsumed successor the call is treated as a
// client retry: the caller keeps the secret it presented and receives a
// fresh access token. Anything else is a replay and burns the family.
func (s *Service) handleRotatedRecord(tx *gorm.DB, record *RefreshToken, presentedSecret string, now time.Time, pair **TokenPair, rotationErr *error) error {
	withinGrace := now.Sub(*record.RotatedAt) <= s.config.RefreshToken.GraceWindow

	if withinGrace && record.SuccessorID != nil {
		var successor RefreshToken
		err := tx.Where("id = ?", *record.SuccessorID).First(&successor).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up successor token: %w", err)
		}

		if err == nil && !successor.Revoked && successor.RotatedAt == nil {
			accessToken, err := s.jwt.GenerateToken(successor.AccountID, string(successor.AccountType), successor.FamilyID)
			if err != nil {
				return fmt.Errorf("failed to generate access token: %w", err)
			}

			if s.logger != nil {
				s.logger.Info("duplicate rotation within grace window, re-issuing",
					zap.Uint("account_id", record.AccountID),
					zap.String("family_id", record.FamilyID),
					zap.String("token_id", record.ID))
			}

			*pair = &TokenPair{
				AccessToken:   accessToken,
				RefreshSecret: presentedSecret,
				ExpiresIn:     s.jwt.AccessExpirySeconds(),
				FamilyID:      record.FamilyID,
			}
			return nil
		}
	}

	if err := s.revokeFamilyTx(tx, record.FamilyID, now); err != nil {
		return err
	}
	s.logTheftSignal("superseded token reuse", record)
	*rotationErr = ErrTokenRevoked
	return nil
}

// RevokeFamily revokes every record in a family and deactivates its
// session.
func (s *Service) RevokeFamily(familyID string) error {
	now := time.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.revokeFamilyTx(tx, familyID, now)
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("token family revoked", zap.String("family_id", familyID))
	}

	return nil
}

// RevokeFamilyTx revokes a family inside the caller's transaction.
// Satisfies session.TokenRevoker so device-limit eviction and its token
// cascade commit or roll back as one unit.
func (s *Service) RevokeFamilyTx(tx *gorm.DB, familyID string) error {
	return s.revokeFamilyTx(tx, familyID, time.Now())
}

func (s *Service) revokeFamilyTx(tx *gorm.DB, familyID string, now time.Time) error {
	if err := tx.Model(&RefreshToken{}).
		Where("family_id = ? AND revoked = ?", familyID, false).
		Updates(map[string]any{
			"revoked":    true,
			"revoked_at": now,
		}).Error; err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	if err := tx.Model(&session.Session{}).
		Where("family_id = ?", familyID).
		Updates(map[string]any{"is_active": false, "revoked": true}).Error; err != nil {
		return fmt.Errorf("failed to deactivate family session: %w", err)
	}

	return nil
}

// RevokeAll revokes every refresh token and session for an account, e.g.
// logout-everywhere or a detected compromise.
func (s *Service) RevokeAll(accountID uint, accountType session.AccountType) error {
	now := time.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&RefreshToken{}).
			Where("account_id = ? AND account_type = ? AND revoked = ?", accountID, accountType, false).
			Updates(map[string]any{
				"revoked":    true,
				"revoked_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to revoke account tokens: %w", err)
		}

		if err := tx.Model(&session.Session{}).
			Where("account_id = ? AND account_type = ?", accountID, accountType).
			Updates(map[string]any{"is_active": false, "revoked": true}).Error; err != nil {
			return fmt.Errorf("failed to deactivate account sessions: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("all account tokens revoked",
			zap.Uint("account_id", accountID),
			zap.String("account_type", string(accountType)))
	}

	return nil
}

// CleanupExpired deletes one batch of records past their expiry. Rows are
// only ever removed once their validity window is over, so the sweep is
// safe to run alongside live traffic.
func (s *Service) CleanupExpired(batchSize int) (int64, error) {
	var ids []string
	if err := s.db.Model(&RefreshToken{}).
		Where("expires_at < ?", time.Now()).
		Limit(batchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to query expired refresh tokens: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up expired refresh tokens",
			zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

func (s *Service) upsertSessionTx(tx *gorm.DB, accountID uint, accountType session.AccountType, familyID string, dev device.Info, now time.Time) error {
	var existing session.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("family_id = ?", familyID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		sess := session.Session{
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
}

func (s *Service) logTheftSignal(reason string, record *RefreshToken) {
	if s.logger != nil {
		s.logger.Warn("theft signal detected, family revoked",
			zap.String("reason", reason),
			zap.Uint("account_id", record.AccountID),
			zap.String("family_id", record.FamilyID),
			zap.String("token_id", record.ID))
	}
}

func (s *Service) generateSecret() (string, error) {
	secretBytes := make([]byte, s.config.RefreshToken.SecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secretBytes), nil
}

func (s *Service) hashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}
