package jwt

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/bookd/services/jwt"
)

const (
	AccountIDKey   = "_jwt_account_id"
	AccountTypeKey = "_jwt_account_type"
	SessionIDKey   = "_jwt_session_id"
	ClaimsKey      = "_jwt_claims"
)

func RequireJWT(jwtService *jwt.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token required")
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				switch err {
				case jwt.ErrExpiredToken:
					return echo.NewHTTPError(http.StatusUnauthorized, "Access token has expired")
				case jwt.ErrMalformedToken:
					return echo.NewHTTPError(http.StatusUnauthorized, "Malformed access token")
				case jwt.ErrInvalidSignature:
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access token signature")
				case jwt.ErrTokenRevoked:
					return echo.NewHTTPError(http.StatusUnauthorized, "Access token has been revoked")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access token")
				}
			}

			c.Set(AccountIDKey, claims.AccountID)
			c.Set(AccountTypeKey, claims.AccountType)
			c.Set(SessionIDKey, claims.SessionID)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

// RequireAccountType layers on RequireJWT and rejects tokens minted for
// a different account class.
func RequireAccountType(accountType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetAccountType(c) != accountType {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient privileges")
			}
			return next(c)
		}
	}
}

func GetAccountID(c echo.Context) uint {
	if accountID, ok := c.Get(AccountIDKey).(uint); ok {
		return accountID
	}
	return 0
}

func GetAccountType(c echo.Context) string {
	if accountType, ok := c.Get(AccountTypeKey).(string); ok {
		return accountType
	}
	return ""
}

func GetSessionID(c echo.Context) string {
	if sessionID, ok := c.Get(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

func GetClaims(c echo.Context) *jwt.Claims {
	if claims, ok := c.Get(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}
