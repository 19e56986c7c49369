package cleanup

import (
	"context"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/otp"
	"github.com/tech-arch1tect/bookd/services/ratelimit"
	"github.com/tech-arch1tect/bookd/services/refreshtoken"
	"github.com/tech-arch1tect/bookd/services/revocation"
	"github.com/tech-arch1tect/bookd/services/session"
	"go.uber.org/fx"
)

func ProvideCleanupService(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger)
}

type taskDeps struct {
	fx.In

	Cleanup      *Service
	RefreshToken *refreshtoken.Service
	Session      *session.Service
	Otp          *otp.Service          `optional:"true"`
	RateLimit    *ratelimit.Service    `optional:"true"`
	Revocation   *revocation.Service   `optional:"true"`
}

func registerTasks(deps taskDeps) {
	deps.Cleanup.Register("refresh_tokens", deps.RefreshToken.CleanupExpired)
	deps.Cleanup.Register("sessions", deps.Session.CleanupOrphaned)

	if deps.Otp != nil {
		deps.Cleanup.Register("otps", deps.Otp.Cleanup)
	}
	if deps.RateLimit != nil {
		deps.Cleanup.Register("rate_limits", deps.RateLimit.Cleanup)
	}
	if deps.Revocation != nil {
		deps.Cleanup.Register("blacklisted_tokens", deps.Revocation.CleanupExpired)
	}
}

func startScheduler(lc fx.Lifecycle, service *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			service.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			service.Stop()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideCleanupService),
	fx.Invoke(registerTasks),
	fx.Invoke(startScheduler),
)
