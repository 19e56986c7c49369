package refreshtoken

import (
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/jwt"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Options(
	fx.Provide(ProvideRefreshTokenService),
	fx.Invoke(wireSessionEviction),
)

func ProvideRefreshTokenService(db *gorm.DB, cfg *config.Config, jwtService *jwt.Service, logger *logging.Service) *Service {
	return NewService(db, cfg, jwtService, logger)
}

func wireSessionEviction(sessionService *session.Service, service *Service) {
	sessionService.SetTokenRevoker(service)
}
