package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken     = errors.New("invalid access token")
	ErrExpiredToken     = errors.New("access token has expired")
	ErrMalformedToken   = errors.New("malformed access token")
	ErrInvalidSignature = errors.New("invalid access token signature")
	ErrTokenRevoked     = errors.New("access token has been revoked")
)

type Claims struct {
	AccountID   uint   `json:"account_id"`
	AccountType string `json:"account_type"`
	SessionID   string `json:"session_id"`
	JTI         string `json:"jti"`
	jwt.RegisteredClaims
}

type RevocationService interface {
	IsTokenRevoked(jti string) (bool, error)
	RevokeToken(jti string, expiresAt time.Time) error
}

type Service struct {
	config            *config.Config
	logger            *logging.Service
	revocationService RevocationService
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
	}
}

func (s *Service) SetRevocationService(revocationService RevocationService) {
	s.revocationService = revocationService
}

func (s *Service) AccessExpirySeconds() int {
	return int(s.config.JWT.AccessExpiry.Seconds())
}

// GenerateToken mints a signed access token bound to an account and the
// session (token family) it belongs to. Verification is local; nothing
// is written to storage here.
func (s *Service) GenerateToken(accountID uint, accountType, sessionID string) (string, error) {
	now := time.Now()
	jti := uuid.New().String()
	claims := Claims{
		AccountID:   accountID,
		AccountType: accountType,
		SessionID:   sessionID,
		JTI:         jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.JWT.Issuer,
			Subject:   fmt.Sprintf("%s:%d", accountType, accountID),
			Audience:  []string{s.config.JWT.Issuer},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWT.AccessExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWT.SecretKey))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to sign access token", zap.Error(err))
		}
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() == "none" {
			return nil, errors.New("'none' algorithm is not allowed")
		}

		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: expected HS256, got %s", token.Method.Alg())
		}

		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}

		return []byte(s.config.JWT.SecretKey), nil
	}, jwt.WithLeeway(s.config.JWT.ClockSkew))

	if err != nil {
		if s.logger != nil {
			s.logger.Warn("access token validation failed", zap.Error(err))
		}

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.revocationService != nil {
		revoked, err := s.revocationService.IsTokenRevoked(claims.JTI)
		if err != nil {
			// When the blacklist cannot be consulted the token is rejected
			// rather than assumed clean.
			if s.logger != nil {
				s.logger.Error("failed to check token revocation status", zap.Error(err))
			}
			return nil, ErrInvalidToken
		}
		if revoked {
			if s.logger != nil {
				s.logger.Warn("access token rejected - blacklisted",
					zap.String("jti", claims.JTI))
			}
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// RevokeToken blacklists a still-valid access token until its natural
// expiry, e.g. on explicit logout.
func (s *Service) RevokeToken(tokenString string) error {
	if s.revocationService == nil {
		if s.logger != nil {
			s.logger.Warn("token revocation requested but revocation service not available")
		}
		return nil
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}

	if err := s.revocationService.RevokeToken(claims.JTI, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}
