package revocation

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
)

// BlacklistedToken is the durable form of a blacklist entry. The working
// set lives in memory; the table exists so explicit logouts survive a
// process restart.
type BlacklistedToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	JTI       string    `json:"jti" gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (BlacklistedToken) TableName() string {
	return "blacklisted_tokens"
}

type Store interface {
	Revoke(jti string, expiresAt time.Time) error
	IsRevoked(jti string) (bool, error)
	CleanupExpired(batchSize int) (int64, error)
	LoadFromDatabase() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	jtis   map[string]time.Time
	db     *gorm.DB
	logger *logging.Service
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jtis: make(map[string]time.Time),
	}
}

func NewMemoryStoreWithDB(db *gorm.DB, logger *logging.Service) *MemoryStore {
	return &MemoryStore{
		jtis:   make(map[string]time.Time),
		db:     db,
		logger: logger,
	}
}

func (m *MemoryStore) Revoke(jti string, expiresAt time.Time) error {
	m.mu.Lock()
	m.jtis[jti] = expiresAt
	m.mu.Unlock()

	if m.db != nil {
		entry := BlacklistedToken{
			JTI:       jti,
			ExpiresAt: expiresAt,
		}
		if err := m.db.Create(&entry).Error; err != nil {
			if m.logger != nil {
				m.logger.Error("failed to persist blacklist entry",
					zap.String("jti", jti),
					zap.Error(err))
			}
			return err
		}
	}

	return nil
}

func (m *MemoryStore) IsRevoked(jti string) (bool, error) {
	m.mu.RLock()
	expiresAt, exists := m.jtis[jti]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Now().After(expiresAt) {
		m.mu.Lock()
		delete(m.jtis, jti)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func (m *MemoryStore) CleanupExpired(batchSize int) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	for jti, expiresAt := range m.jtis {
		if now.After(expiresAt) {
			delete(m.jtis, jti)
		}
	}
	m.mu.Unlock()

	if m.db == nil {
		return 0, nil
	}

	var ids []uint
	if err := m.db.Model(&BlacklistedToken{}).
		Where("expires_at < ?", now).
		Limit(batchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := m.db.Where("id IN ?", ids).Delete(&BlacklistedToken{})
	return result.RowsAffected, result.Error
}

func (m *MemoryStore) LoadFromDatabase() error {
	if m.db == nil {
		return nil
	}

	var entries []BlacklistedToken
	if err := m.db.Where("expires_at > ?", time.Now()).Find(&entries).Error; err != nil {
		if m.logger != nil {
			m.logger.Error("failed to load blacklist entries", zap.Error(err))
		}
		return err
	}

	m.mu.Lock()
	for _, entry := range entries {
		m.jtis[entry.JTI] = entry.ExpiresAt
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("blacklist entries loaded from database",
			zap.Int("count", len(entries)))
	}

	return nil
}
