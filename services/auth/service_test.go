package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/internal/device"
	"github.com/tech-arch1tect/bookd/services/jwt"
	"github.com/tech-arch1tect/bookd/services/otp"
	"github.com/tech-arch1tect/bookd/services/ratelimit"
	"github.com/tech-arch1tect/bookd/services/refreshtoken"
	"github.com/tech-arch1tect/bookd/services/session"
	"github.com/tech-arch1tect/bookd/testutils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type captureDeliverer struct {
	deliveries int
}

func (d *captureDeliverer) Deliver(ctx context.Context, phoneNumber, message string) error {
	d.deliveries++
	return nil
}

func getTestAuthConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			SecretKey:    "test-secret-key-that-is-long-enough",
			Issuer:       "bookd",
			AccessExpiry: 15 * time.Minute,
			ClockSkew:    30 * time.Second,
		},
		RefreshToken: config.RefreshTokenConfig{
			SecretLength:      32,
			Expiry:            720 * time.Hour,
			GraceWindow:       10 * time.Second,
			MinRotateInterval: time.Minute,
			MaxSessionAge:     720 * time.Hour,
			MaxRotations:      10000,
		},
		Session: config.SessionConfig{
			MaxDevices:      2,
			OrphanRetention: 168 * time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			DefaultWindow: time.Minute,
			DefaultMax:    60,
			FailOpen:      true,
		},
		Otp: config.OtpConfig{
			CodeLength:      6,
			Expiry:          5 * time.Minute,
			Cooldown:        60 * time.Second,
			MaxAttempts:     5,
			DeliveryTimeout: time.Second,
		},
	}
}

func setupAuthService(t *testing.T) (*Service, *captureDeliverer, *gorm.DB) {
	db := testutils.SetupTestDB(t,
		&session.Session{},
		&refreshtoken.RefreshToken{},
		&otp.Otp{},
		&ratelimit.RateLimit{},
	)

	cfg := getTestAuthConfig()
	deliverer := &captureDeliverer{}

	jwtService := jwt.NewService(cfg, nil)
	sessionService := session.NewService(db, cfg, nil)
	refreshService := refreshtoken.NewService(db, cfg, jwtService, nil)
	sessionService.SetTokenRevoker(refreshService)
	otpService := otp.NewService(db, cfg, deliverer, nil)
	limiter, err := ratelimit.NewService(db, cfg, nil)
	require.NoError(t, err)

	service := NewService(cfg, otpService, refreshService, sessionService, jwtService, limiter, nil)
	return service, deliverer, db
}

func testDevice() device.Info {
	return device.Info{
		IPAddress: "10.0.0.1",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
	}
}

// completeLogin walks the full send-verify flow with a known code.
func completeLogin(t *testing.T, service *Service, db *gorm.DB, accountID uint) *refreshtoken.TokenPair {
	t.Helper()

	_, err := service.SendLoginCode(context.Background(), "+447700900123")
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Model(&otp.Otp{}).
		Where("used = ?", false).
		Update("code_hash", string(hash)).Error)

	pair, err := service.VerifyLoginCode("+447700900123", "123456", accountID, session.AccountTypeUser, testDevice())
	require.NoError(t, err)
	return pair
}

func TestService_LoginFlow(t *testing.T) {
	service, deliverer, db := setupAuthService(t)

	pair := completeLogin(t, service, db, 42)
	assert.Equal(t, 1, deliverer.deliveries)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshSecret)
	assert.NotEmpty(t, pair.FamilyID)

	var sess session.Session
	require.NoError(t, db.Where("family_id = ?", pair.FamilyID).First(&sess).Error)
	assert.True(t, sess.IsActive)
	assert.Equal(t, uint(42), sess.AccountID)
}

func TestService_VerifyLoginCode_WrongCode(t *testing.T) {
	service, _, _ := setupAuthService(t)

	_, err := service.SendLoginCode(context.Background(), "+447700900123")
	require.NoError(t, err)

	_, err = service.VerifyLoginCode("+447700900123", "000000", 42, session.AccountTypeUser, testDevice())
	testutils.AssertErrorType(t, otp.ErrInvalidOrUsed, err)
}

func TestService_SendLoginCode_RateLimited(t *testing.T) {
	service, deliverer, _ := setupAuthService(t)
	service.limiter.SetRule("otp.send", ratelimit.Rule{Window: time.Minute, Max: 1})

	_, err := service.SendLoginCode(context.Background(), "+447700900123")
	require.NoError(t, err)

	_, err = service.SendLoginCode(context.Background(), "+447700900123")
	testutils.AssertErrorType(t, ErrRateLimited, err)
	assert.Equal(t, 1, deliverer.deliveries)
}

func TestService_Refresh(t *testing.T) {
	service, _, db := setupAuthService(t)

	pair := completeLogin(t, service, db, 42)

	// back off the rotation pace floor
	require.NoError(t, db.Model(&session.Session{}).
		Where("family_id = ?", pair.FamilyID).
		Update("last_activity", time.Now().Add(-2*time.Minute)).Error)

	next, err := service.Refresh(pair.RefreshSecret, testDevice())
	require.NoError(t, err)
	assert.Equal(t, pair.FamilyID, next.FamilyID)
	assert.NotEqual(t, pair.RefreshSecret, next.RefreshSecret)
}

func TestService_Logout(t *testing.T) {
	service, _, db := setupAuthService(t)

	pair := completeLogin(t, service, db, 42)
	require.NoError(t, service.Logout(pair.AccessToken, pair.FamilyID))

	var sess session.Session
	require.NoError(t, db.Where("family_id = ?", pair.FamilyID).First(&sess).Error)
	assert.False(t, sess.IsActive)

	_, err := service.Refresh(pair.RefreshSecret, testDevice())
	testutils.AssertErrorType(t, refreshtoken.ErrTokenRevoked, err)
}

func TestService_LogoutEverywhere(t *testing.T) {
	service, _, db := setupAuthService(t)

	first := completeLogin(t, service, db, 42)

	// age the otp cooldown away so a second login can run
	require.NoError(t, db.Model(&otp.Otp{}).
		Where("phone_number = ?", "+447700900123").
		Update("created_at", time.Now().Add(-2*time.Minute)).Error)

	second := completeLogin(t, service, db, 42)
	require.NotEqual(t, first.FamilyID, second.FamilyID)

	require.NoError(t, service.LogoutEverywhere(second.AccessToken, 42, session.AccountTypeUser))

	var active int64
	require.NoError(t, db.Model(&session.Session{}).
		Where("account_id = ? AND is_active = ?", 42, true).
		Count(&active).Error)
	assert.Equal(t, int64(0), active)

	_, err := service.Refresh(first.RefreshSecret, testDevice())
	testutils.AssertErrorType(t, refreshtoken.ErrTokenRevoked, err)
}

func TestService_DeviceLimitEviction(t *testing.T) {
	service, _, db := setupAuthService(t)

	var pairs []*refreshtoken.TokenPair
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Model(&otp.Otp{}).
			Where("phone_number = ?", "+447700900123").
			Update("created_at", time.Now().Add(-2*time.Minute)).Error)
		pair := completeLogin(t, service, db, 42)
		pairs = append(pairs, pair)
		// spread session ages so eviction order is deterministic
		require.NoError(t, db.Model(&session.Session{}).
			Where("family_id = ?", pair.FamilyID).
			Update("session_started", time.Now().Add(time.Duration(i-10)*time.Minute)).Error)
	}

	sessions, err := service.Sessions(42, session.AccountTypeUser)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// the oldest family was evicted when the third login arrived
	var evicted session.Session
	require.NoError(t, db.Where("family_id = ?", pairs[0].FamilyID).First(&evicted).Error)
	assert.False(t, evicted.IsActive)

	// the eviction cascaded to the token family, so the evicted device
	// cannot keep refreshing
	require.NoError(t, db.Model(&session.Session{}).
		Where("family_id = ?", pairs[0].FamilyID).
		Update("last_activity", time.Now().Add(-2*time.Minute)).Error)
	_, err = service.Refresh(pairs[0].RefreshSecret, testDevice())
	testutils.AssertErrorType(t, refreshtoken.ErrTokenRevoked, err)

	// the surviving devices still rotate normally
	require.NoError(t, db.Model(&session.Session{}).
		Where("family_id = ?", pairs[2].FamilyID).
		Update("last_activity", time.Now().Add(-2*time.Minute)).Error)
	next, err := service.Refresh(pairs[2].RefreshSecret, testDevice())
	require.NoError(t, err)
	assert.Equal(t, pairs[2].FamilyID, next.FamilyID)
}

func TestService_RevokeSession(t *testing.T) {
	service, _, db := setupAuthService(t)

	pair := completeLogin(t, service, db, 42)
	require.NoError(t, service.RevokeSession(pair.FamilyID))

	_, err := service.Refresh(pair.RefreshSecret, testDevice())
	testutils.AssertErrorType(t, refreshtoken.ErrTokenRevoked, err)
}
