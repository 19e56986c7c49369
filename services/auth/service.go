package auth

import (
	"context"
	"errors"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/internal/device"
	"github.com/tech-arch1tect/bookd/services/jwt"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/otp"
	"github.com/tech-arch1tect/bookd/services/ratelimit"
	"github.com/tech-arch1tect/bookd/services/refreshtoken"
	"github.com/tech-arch1tect/bookd/services/session"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Service is the login-flow orchestrator: it strings the limiter, the
// code engine, the device limit and the token issuer together so
// handlers call one method per flow step.
type Service struct {
	config       *config.Config
	otpService   *otp.Service
	refreshToken *refreshtoken.Service
	sessions     *session.Service
	jwtService   *jwt.Service
	limiter      *ratelimit.Service
	logger       *logging.Service
}

func NewService(
	cfg *config.Config,
	otpService *otp.Service,
	refreshToken *refreshtoken.Service,
	sessions *session.Service,
	jwtService *jwt.Service,
	limiter *ratelimit.Service,
	logger *logging.Service,
) *Service {
	return &Service{
		config:       cfg,
		otpService:   otpService,
		refreshToken: refreshToken,
		sessions:     sessions,
		jwtService:   jwtService,
		limiter:      limiter,
		logger:       logger,
	}
}

// SendLoginCode delivers a one-time code to the phone number, limited
// per number so a hostile caller cannot flood someone's phone.
func (s *Service) SendLoginCode(ctx context.Context, phoneNumber string) (*otp.SendResult, error) {
	phone, err := otp.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.allow(phone, "otp.send"); err != nil {
		return nil, err
	}

	return s.otpService.Send(ctx, phone)
}

// VerifyLoginCode consumes the code and, on success, makes room under
// the device ceiling and issues a fresh token pair for a new family.
func (s *Service) VerifyLoginCode(phoneNumber, code string, accountID uint, accountType session.AccountType, dev device.Info) (*refreshtoken.TokenPair, error) {
	phone, err := otp.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.allow(phone, "otp.verify"); err != nil {
		return nil, err
	}

	if err := s.otpService.Verify(phone, code, dev.Fingerprint()); err != nil {
		return nil, err
	}

	if err := s.sessions.EnforceDeviceLimit(accountID, accountType, s.config.Session.MaxDevices); err != nil {
		return nil, err
	}

	pair, err := s.refreshToken.Issue(accountID, accountType, dev, "")
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("login completed",
			zap.Uint("account_id", accountID),
			zap.String("account_type", string(accountType)),
			zap.String("family_id", pair.FamilyID))
	}

	return pair, nil
}

// Refresh rotates the presented secret into the next pair in its
// family.
func (s *Service) Refresh(secret string, dev device.Info) (*refreshtoken.TokenPair, error) {
	if err := s.allow(dev.Fingerprint(), "auth.refresh"); err != nil {
		return nil, err
	}

	return s.refreshToken.Rotate(secret, dev)
}

// Logout ends one device's session: the current access token goes on
// the blacklist and the refresh family is revoked.
func (s *Service) Logout(accessToken, familyID string) error {
	if err := s.jwtService.RevokeToken(accessToken); err != nil && s.logger != nil {
		s.logger.Warn("failed to blacklist access token on logout", zap.Error(err))
	}

	return s.refreshToken.RevokeFamily(familyID)
}

// LogoutEverywhere revokes every session and refresh family the
// account holds. The caller's own access token is blacklisted too;
// tokens already handed to other devices expire on their own.
func (s *Service) LogoutEverywhere(accessToken string, accountID uint, accountType session.AccountType) error {
	if err := s.jwtService.RevokeToken(accessToken); err != nil && s.logger != nil {
		s.logger.Warn("failed to blacklist access token on logout", zap.Error(err))
	}

	return s.refreshToken.RevokeAll(accountID, accountType)
}

// Sessions lists the account's active devices, oldest first.
func (s *Service) Sessions(accountID uint, accountType session.AccountType) ([]session.Session, error) {
	return s.sessions.ListActive(accountID, accountType)
}

// RevokeSession ends a specific device's session by family.
func (s *Service) RevokeSession(familyID string) error {
	return s.refreshToken.RevokeFamily(familyID)
}

func (s *Service) allow(identifier, operation string) error {
	result, err := s.limiter.Check(identifier, operation)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return ErrRateLimited
	}
	return nil
}
