package revocation

import (
	"context"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(NewService),
	fx.Invoke(registerLifecycle),
)

func ProvideStore(cfg *config.Config, db *gorm.DB, logger *logging.Service) Store {
	if cfg.Revocation.Persist {
		return NewMemoryStoreWithDB(db, logger)
	}
	return NewMemoryStore()
}

func registerLifecycle(lc fx.Lifecycle, store Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return store.LoadFromDatabase()
		},
	})
}
