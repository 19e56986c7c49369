package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrCooldownActive     = errors.New("a code was sent recently, wait before requesting another")
	ErrDeliveryTimeout    = errors.New("code delivery timed out")
	ErrDeliveryFailed     = errors.New("code delivery failed")
	ErrInvalidOrUsed      = errors.New("code is invalid or already used")
	ErrCodeExpired        = errors.New("code has expired")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
)

// Deliverer is the outbound channel a code travels over (SMS gateway,
// messaging provider). It must respect the context deadline.
type Deliverer interface {
	Deliver(ctx context.Context, phoneNumber, message string) error
}

type Service struct {
	db        *gorm.DB
	config    *config.Config
	deliverer Deliverer
	logger    *logging.Service
}

func NewService(db *gorm.DB, cfg *config.Config, deliverer Deliverer, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing otp service",
			zap.Int("code_length", cfg.Otp.CodeLength),
			zap.Duration("expiry", cfg.Otp.Expiry),
			zap.Duration("cooldown", cfg.Otp.Cooldown),
			zap.Int("max_attempts", cfg.Otp.MaxAttempts))
	}

	return &Service{
		db:        db,
		config:    cfg,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Send generates and delivers a one-time code. The record is persisted
// only after delivery succeeds, so a failed or timed-out delivery never
// leaves a live code behind on the server.
func (s *Service) Send(ctx context.Context, phoneNumber string) (*SendResult, error) {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	var recent Otp
	err = s.db.Where("phone_number = ? AND used = ? AND expires_at > ?", phone, false, now).
		Order("created_at DESC").
		First(&recent).Error
	if err == nil {
		if elapsed := now.Sub(recent.CreatedAt); elapsed < s.config.Otp.Cooldown {
			wait := int((s.config.Otp.Cooldown - elapsed).Seconds()) + 1
			if s.logger != nil {
				s.logger.Info("otp send rejected, cooldown active",
					zap.String("phone_number", phone),
					zap.Int("wait_seconds", wait))
			}
			return &SendResult{WaitSeconds: wait}, ErrCooldownActive
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check otp cooldown: %w", err)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp code: %w", err)
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, s.config.Otp.DeliveryTimeout)
	defer cancel()

	message := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.",
		code, int(s.config.Otp.Expiry.Minutes()))

	if err := s.deliverer.Deliver(deliveryCtx, phone, message); err != nil {
		if s.logger != nil {
			s.logger.Error("otp delivery failed",
				zap.String("phone_number", phone),
				zap.Error(err))
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(deliveryCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrDeliveryTimeout
		}
		return nil, ErrDeliveryFailed
	}

	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash otp code: %w", err)
	}

	record := Otp{
		PhoneNumber: phone,
		CodeHash:    string(codeHash),
		ExpiresAt:   now.Add(s.config.Otp.Expiry),
		CreatedAt:   now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// a freshly delivered code supersedes any older unused one
		if err := tx.Where("phone_number = ? AND used = ?", phone, false).
			Delete(&Otp{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store otp record: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("otp sent",
			zap.String("phone_number", phone),
			zap.Time("expires_at", record.ExpiresAt))
	}

	return &SendResult{ExpiresIn: int(s.config.Otp.Expiry.Seconds())}, nil
}

// Verify consumes a code. The lookup and the used-mark happen in one
// transaction with the row locked, so two concurrent verifications of
// the same code cannot both succeed.
func (s *Service) Verify(phoneNumber, code, fingerprint string) error {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return err
	}

	now := time.Now()
	var verifyErr error

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var record Otp
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("phone_number = ? AND used = ?", phone, false).
			Order("created_at DESC").
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			verifyErr = ErrInvalidOrUsed
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up otp record: %w", err)
		}

		if now.After(record.ExpiresAt) {
			verifyErr = ErrCodeExpired
			return nil
		}

		if record.AttemptCount >= s.config.Otp.MaxAttempts {
			verifyErr = ErrTooManyAttempts
			return nil
		}

		if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) != nil {
			verifyErr = ErrInvalidOrUsed
			return nil
		}

		return tx.Model(&Otp{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"used":                true,
				"used_at":             now,
				"used_by_fingerprint": fingerprint,
			}).Error
	})
	if err != nil {
		return err
	}

	if verifyErr != nil {
		if errors.Is(verifyErr, ErrInvalidOrUsed) || errors.Is(verifyErr, ErrCodeExpired) {
			s.recordFailedAttempt(phone)
		}
		if s.logger != nil {
			s.logger.Warn("otp verification failed",
				zap.String("phone_number", phone),
				zap.Error(verifyErr))
		}
		return verifyErr
	}

	if s.logger != nil {
		s.logger.Info("otp verified", zap.String("phone_number", phone))
	}

	return nil
}

// recordFailedAttempt is best-effort bookkeeping outside the verify
// transaction; a lost increment only delays the brute-force ceiling by
// one attempt.
func (s *Service) recordFailedAttempt(phone string) {
	err := s.db.Model(&Otp{}).
		Where("phone_number = ? AND used = ?", phone, false).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil && s.logger != nil {
		s.logger.Warn("failed to record otp attempt",
			zap.String("phone_number", phone),
			zap.Error(err))
	}
}

// Cleanup deletes one batch of records past their expiry.
func (s *Service) Cleanup(batchSize int) (int64, error) {
	var ids []uint
	if err := s.db.Model(&Otp{}).
		Where("expires_at < ?", time.Now()).
		Limit(batchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to query expired otp records: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&Otp{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired otp records: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up expired otp records",
			zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

func (s *Service) generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < s.config.Otp.CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", s.config.Otp.CodeLength, n), nil
}

// NormalizePhone strips formatting characters and validates the result
// is a plausible E.164-ish number.
func NormalizePhone(phoneNumber string) (string, error) {
	var b strings.Builder
	for i, r := range phoneNumber {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return "", ErrInvalidPhoneNumber
		}
	}

	normalized := b.String()
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhoneNumber
	}

	return normalized, nil
}
