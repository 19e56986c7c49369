package revocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
)

var (
	ErrRevocationDisabled = errors.New("token revocation is disabled")
	ErrStoreNotConfigured = errors.New("revocation store not configured")
)

type Service struct {
	config *config.Config
	store  Store
	logger *logging.Service
}

func NewService(cfg *config.Config, store Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing token revocation service",
			zap.Bool("enabled", cfg.Revocation.Enabled),
			zap.Bool("persist", cfg.Revocation.Persist))
	}

	return &Service{
		config: cfg,
		store:  store,
		logger: logger,
	}
}

func (s *Service) RevokeToken(jti string, expiresAt time.Time) error {
	if !s.config.Revocation.Enabled {
		return ErrRevocationDisabled
	}

	if s.store == nil {
		return ErrStoreNotConfigured
	}

	if err := s.store.Revoke(jti, expiresAt); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to blacklist token",
				zap.String("jti", jti),
				zap.Error(err))
		}
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("access token blacklisted",
			zap.String("jti", jti),
			zap.Time("expires_at", expiresAt))
	}

	return nil
}

func (s *Service) IsTokenRevoked(jti string) (bool, error) {
	if !s.config.Revocation.Enabled {
		return false, nil
	}

	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	revoked, err := s.store.IsRevoked(jti)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}

	return revoked, nil
}

func (s *Service) CleanupExpired(batchSize int) (int64, error) {
	if s.store == nil {
		return 0, ErrStoreNotConfigured
	}

	deleted, err := s.store.CleanupExpired(batchSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup expired blacklist entries", zap.Error(err))
		}
		return 0, fmt.Errorf("failed to cleanup expired blacklist entries: %w", err)
	}

	if s.logger != nil && deleted > 0 {
		s.logger.Info("cleaned up expired blacklist entries",
			zap.Int64("count", deleted))
	}

	return deleted, nil
}
