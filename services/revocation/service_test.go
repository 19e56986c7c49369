package revocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/testutils"
)

func getTestRevocationConfig() *config.Config {
	return &config.Config{
		Revocation: config.RevocationConfig{
			Enabled: true,
			Persist: true,
		},
	}
}

func TestService_RevokeAndCheck(t *testing.T) {
	cfg := getTestRevocationConfig()
	service := NewService(cfg, NewMemoryStore(), nil)

	jti := "test-jti-1"
	err := service.RevokeToken(jti, time.Now().Add(time.Hour))
	require.NoError(t, err)

	revoked, err := service.IsTokenRevoked(jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = service.IsTokenRevoked("unknown-jti")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestService_ExpiredEntryNotRevoked(t *testing.T) {
	cfg := getTestRevocationConfig()
	service := NewService(cfg, NewMemoryStore(), nil)

	jti := "short-lived-jti"
	err := service.RevokeToken(jti, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	revoked, err := service.IsTokenRevoked(jti)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestService_Disabled(t *testing.T) {
	cfg := &config.Config{Revocation: config.RevocationConfig{Enabled: false}}
	service := NewService(cfg, NewMemoryStore(), nil)

	err := service.RevokeToken("jti", time.Now().Add(time.Hour))
	testutils.AssertErrorType(t, ErrRevocationDisabled, err)

	revoked, err := service.IsTokenRevoked("jti")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestService_StoreNotConfigured(t *testing.T) {
	cfg := getTestRevocationConfig()
	service := NewService(cfg, nil, nil)

	err := service.RevokeToken("jti", time.Now().Add(time.Hour))
	testutils.AssertErrorType(t, ErrStoreNotConfigured, err)

	_, err = service.IsTokenRevoked("jti")
	testutils.AssertErrorType(t, ErrStoreNotConfigured, err)
}

func TestMemoryStore_PersistAndLoad(t *testing.T) {
	db := testutils.SetupTestDB(t, &BlacklistedToken{})

	store := NewMemoryStoreWithDB(db, nil)
	require.NoError(t, store.Revoke("persisted-jti", time.Now().Add(time.Hour)))
	require.NoError(t, store.Revoke("expired-jti", time.Now().Add(-time.Hour)))

	fresh := NewMemoryStoreWithDB(db, nil)
	require.NoError(t, fresh.LoadFromDatabase())

	revoked, err := fresh.IsRevoked("persisted-jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = fresh.IsRevoked("expired-jti")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	db := testutils.SetupTestDB(t, &BlacklistedToken{})
	store := NewMemoryStoreWithDB(db, nil)

	require.NoError(t, store.Revoke("live", time.Now().Add(time.Hour)))
	require.NoError(t, store.Revoke("dead-1", time.Now().Add(-time.Hour)))
	require.NoError(t, store.Revoke("dead-2", time.Now().Add(-time.Minute)))

	deleted, err := store.CleanupExpired(100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var count int64
	require.NoError(t, db.Model(&BlacklistedToken{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_CleanupBatchBound(t *testing.T) {
	db := testutils.SetupTestDB(t, &BlacklistedToken{})
	store := NewMemoryStoreWithDB(db, nil)

	for _, jti := range []string{"a", "b", "c"} {
		require.NoError(t, store.Revoke(jti, time.Now().Add(-time.Hour)))
	}

	deleted, err := store.CleanupExpired(2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = store.CleanupExpired(2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
