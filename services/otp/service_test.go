package otp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/testutils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type mockDeliverer struct {
	delivered []string
	messages  []string
	err       error
	delay     time.Duration
}

func (m *mockDeliverer) Deliver(ctx context.Context, phoneNumber, message string) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	m.delivered = append(m.delivered, phoneNumber)
	m.messages = append(m.messages, message)
	return nil
}

func getTestOtpConfig() *config.Config {
	return &config.Config{
		Otp: config.OtpConfig{
			CodeLength:      6,
			Expiry:          5 * time.Minute,
			Cooldown:        60 * time.Second,
			MaxAttempts:     5,
			DeliveryTimeout: 200 * time.Millisecond,
		},
	}
}

func setupOtpService(t *testing.T) (*Service, *mockDeliverer, *gorm.DB) {
	db := testutils.SetupTestDB(t, &Otp{})
	deliverer := &mockDeliverer{}
	service := NewService(db, getTestOtpConfig(), deliverer, nil)
	return service, deliverer, db
}

// forceCode swaps the persisted hash for one with a known plaintext so
// tests can verify against a predictable code.
func forceCode(t *testing.T, db *gorm.DB, phone, code string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Model(&Otp{}).
		Where("phone_number = ? AND used = ?", phone, false).
		Update("code_hash", string(hash)).Error)
}

func TestService_Send(t *testing.T) {
	service, deliverer, db := setupOtpService(t)

	result, err := service.Send(context.Background(), "+44 7700 900123")
	require.NoError(t, err)
	assert.Equal(t, 300, result.ExpiresIn)

	require.Len(t, deliverer.delivered, 1)
	assert.Equal(t, "+447700900123", deliverer.delivered[0])
	assert.Contains(t, deliverer.messages[0], "verification code")

	var record Otp
	require.NoError(t, db.Where("phone_number = ?", "+447700900123").First(&record).Error)
	assert.False(t, record.Used)
	assert.NotEmpty(t, record.CodeHash)
	assert.NotContains(t, deliverer.messages[0], record.CodeHash)
}

func TestService_Send_Cooldown(t *testing.T) {
	service, _, _ := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)

	result, err := service.Send(context.Background(), "+447700900123")
	testutils.AssertErrorType(t, ErrCooldownActive, err)
	require.NotNil(t, result)
	assert.Greater(t, result.WaitSeconds, 0)
	assert.LessOrEqual(t, result.WaitSeconds, 61)
}

func TestService_Send_DeliveryFailureStoresNothing(t *testing.T) {
	service, deliverer, db := setupOtpService(t)
	deliverer.err = errors.New("gateway unreachable")

	result, err := service.Send(context.Background(), "+447700900123")
	assert.Nil(t, result)
	testutils.AssertErrorType(t, ErrDeliveryFailed, err)

	var count int64
	require.NoError(t, db.Model(&Otp{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestService_Send_DeliveryTimeoutStoresNothing(t *testing.T) {
	service, deliverer, db := setupOtpService(t)
	deliverer.delay = time.Second

	result, err := service.Send(context.Background(), "+447700900123")
	assert.Nil(t, result)
	testutils.AssertErrorType(t, ErrDeliveryTimeout, err)

	var count int64
	require.NoError(t, db.Model(&Otp{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestService_Send_SupersedesPreviousCode(t *testing.T) {
	service, _, db := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)

	// age the first code past the cooldown but not past expiry
	require.NoError(t, db.Model(&Otp{}).
		Where("phone_number = ?", "+447700900123").
		Update("created_at", time.Now().Add(-2*time.Minute)).Error)

	_, err = service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Otp{}).
		Where("phone_number = ? AND used = ?", "+447700900123", false).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestService_Verify(t *testing.T) {
	service, _, db := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)
	forceCode(t, db, "+447700900123", "123456")

	t.Run("wrong code increments attempts", func(t *testing.T) {
		err := service.Verify("+447700900123", "999999", "fp-1")
		testutils.AssertErrorType(t, ErrInvalidOrUsed, err)

		var record Otp
		require.NoError(t, db.Where("phone_number = ? AND used = ?", "+447700900123", false).First(&record).Error)
		assert.Equal(t, 1, record.AttemptCount)
	})

	t.Run("correct code succeeds and marks used", func(t *testing.T) {
		err := service.Verify("+44 7700 900123", "123456", "fp-1")
		require.NoError(t, err)

		var record Otp
		require.NoError(t, db.Where("phone_number = ?", "+447700900123").First(&record).Error)
		assert.True(t, record.Used)
		require.NotNil(t, record.UsedAt)
		require.NotNil(t, record.UsedByFingerprint)
		assert.Equal(t, "fp-1", *record.UsedByFingerprint)
	})

	t.Run("second use of the same code fails", func(t *testing.T) {
		err := service.Verify("+447700900123", "123456", "fp-2")
		testutils.AssertErrorType(t, ErrInvalidOrUsed, err)
	})
}

func TestService_Verify_ConcurrentSingleWinner(t *testing.T) {
	service, _, db := setupOtpService(t)

	// single connection so both goroutines hit the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	_, err = service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)
	forceCode(t, db, "+447700900123", "123456")

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			errs <- service.Verify("+447700900123", "123456", "fp-1")
		}()
	}

	results := []error{<-errs, <-errs}
	if results[0] != nil {
		results[0], results[1] = results[1], results[0]
	}
	require.NoError(t, results[0])
	testutils.AssertErrorType(t, ErrInvalidOrUsed, results[1])

	// the record was consumed exactly once
	var record Otp
	require.NoError(t, db.Where("phone_number = ?", "+447700900123").First(&record).Error)
	assert.True(t, record.Used)
}

func TestService_Verify_Expired(t *testing.T) {
	service, _, db := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)
	forceCode(t, db, "+447700900123", "123456")

	require.NoError(t, db.Model(&Otp{}).
		Where("phone_number = ?", "+447700900123").
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	err = service.Verify("+447700900123", "123456", "fp-1")
	testutils.AssertErrorType(t, ErrCodeExpired, err)
}

func TestService_Verify_BruteForceCeiling(t *testing.T) {
	service, _, db := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)
	forceCode(t, db, "+447700900123", "123456")

	for i := 0; i < 5; i++ {
		err := service.Verify("+447700900123", fmt.Sprintf("00000%d", i), "fp-1")
		testutils.AssertErrorType(t, ErrInvalidOrUsed, err)
	}

	// the ceiling applies even when the 6th attempt presents the right code
	err = service.Verify("+447700900123", "123456", "fp-1")
	testutils.AssertErrorType(t, ErrTooManyAttempts, err)
}

func TestService_Verify_NoCode(t *testing.T) {
	service, _, _ := setupOtpService(t)

	err := service.Verify("+447700900123", "123456", "fp-1")
	testutils.AssertErrorType(t, ErrInvalidOrUsed, err)
}

func TestService_Cleanup(t *testing.T) {
	service, _, db := setupOtpService(t)

	_, err := service.Send(context.Background(), "+447700900123")
	require.NoError(t, err)

	expired := Otp{
		PhoneNumber: "+447700900999",
		CodeHash:    "irrelevant",
		ExpiresAt:   time.Now().Add(-time.Hour),
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, db.Create(&expired).Error)

	deleted, err := service.Cleanup(100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, db.Model(&Otp{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestService_GenerateCode(t *testing.T) {
	service, _, _ := setupOtpService(t)

	code, err := service.generateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"+44 7700 900123", "+447700900123", false},
		{"(555) 123-4567", "5551234567", false},
		{"+1.555.123.4567", "+15551234567", false},
		{"07700900123", "07700900123", false},
		{"12345", "", true},
		{"not-a-number", "", true},
		{"+123456789012345678", "", true},
		{"555+1234567", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.input)
		if tt.wantErr {
			testutils.AssertErrorType(t, ErrInvalidPhoneNumber, err)
		} else {
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		}
	}
}
