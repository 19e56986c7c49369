package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

type Service struct {
	db          *gorm.DB
	config      *config.Config
	logger      *logging.Service
	defaultRule Rule
	rules       map[string]Rule
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) (*Service, error) {
	defaultRule := Rule{
		Window: cfg.RateLimit.DefaultWindow,
		Max:    cfg.RateLimit.DefaultMax,
	}
	rules := map[string]Rule{}

	if cfg.RateLimit.RulesFile != "" {
		fileDefault, fileRules, err := LoadRules(cfg.RateLimit.RulesFile)
		if err != nil {
			return nil, err
		}
		if fileDefault.Max > 0 {
			defaultRule = fileDefault
		}
		rules = fileRules
	}

	if logger != nil {
		logger.Info("initializing rate limit service",
			zap.Duration("default_window", defaultRule.Window),
			zap.Int("default_max", defaultRule.Max),
			zap.Int("operation_rules", len(rules)),
			zap.Bool("fail_open", cfg.RateLimit.FailOpen))
	}

	return &Service{
		db:          db,
		config:      cfg,
		logger:      logger,
		defaultRule: defaultRule,
		rules:       rules,
	}, nil
}

// SetRule overrides the limit for one operation at runtime. Mainly used
// by tests and by callers composing the service without a rules file.
func (s *Service) SetRule(operation string, rule Rule) {
	s.rules[operation] = rule
}

func (s *Service) ruleFor(operation string) Rule {
	if rule, ok := s.rules[operation]; ok {
		return rule
	}
	return s.defaultRule
}

// Check applies the fixed-window counter for (identifier, operation).
// Counts reset when the window boundary is crossed; bursts across a
// boundary are an accepted property of the strategy. When the store is
// unreachable the configured fail-open policy decides: allow and log, or
// deny with ErrStoreUnavailable.
func (s *Service) Check(identifier, operation string) (*Result, error) {
	rule := s.ruleFor(operation)
	now := time.Now()

	var result Result

	err := s.db.Transaction(func(tx *gorm.DB) error {
		windowFloor := now.Add(-rule.Window)

		var record RateLimit
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identifier = ? AND endpoint = ? AND window_start > ?", identifier, operation, windowFloor).
			Order("window_start DESC").
			First(&record).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = RateLimit{
				Identifier:   identifier,
				Endpoint:     operation,
				RequestCount: 1,
				WindowStart:  now,
				LastRequest:  now,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			result = Result{
				Allowed:   true,
				Remaining: rule.Max - 1,
				ResetAt:   now.Add(rule.Window),
			}
			return nil
		}
		if err != nil {
			return err
		}

		resetAt := record.WindowStart.Add(rule.Window)

		if record.RequestCount >= rule.Max {
			result = Result{
				Allowed:   false,
				Remaining: 0,
				ResetAt:   resetAt,
			}
			return nil
		}

		if err := tx.Model(&RateLimit{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"request_count": gorm.Expr("request_count + 1"),
				"last_request":  now,
			}).Error; err != nil {
			return err
		}

		result = Result{
			Allowed:   true,
			Remaining: rule.Max - record.RequestCount - 1,
			ResetAt:   resetAt,
		}
		return nil
	})
	if err != nil {
		if s.config.RateLimit.FailOpen {
			if s.logger != nil {
				s.logger.Error("rate limit check failed, failing open",
					zap.String("identifier", identifier),
					zap.String("operation", operation),
					zap.Error(err))
			}
			return &Result{Allowed: true, Remaining: 0, ResetAt: now.Add(rule.Window)}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !result.Allowed && s.logger != nil {
		s.logger.Warn("rate limit exceeded",
			zap.String("identifier", identifier),
			zap.String("operation", operation),
			zap.Time("reset_at", result.ResetAt))
	}

	return &result, nil
}

// Cleanup deletes one batch of rows whose window closed before the
// longest configured window; they can no longer affect any decision.
func (s *Service) Cleanup(batchSize int) (int64, error) {
	maxWindow := s.defaultRule.Window
	for _, rule := range s.rules {
		if rule.Window > maxWindow {
			maxWindow = rule.Window
		}
	}
	cutoff := time.Now().Add(-maxWindow)

	var ids []uint
	if err := s.db.Model(&RateLimit{}).
		Where("window_start < ?", cutoff).
		Limit(batchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to query stale rate limit rows: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&RateLimit{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete stale rate limit rows: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("cleaned up stale rate limit rows",
			zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}
