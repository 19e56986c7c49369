package mail

import (
	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/otp"
	"go.uber.org/fx"
)

func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	return NewService(&cfg.Mail, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideMailService),
	fx.Provide(func(s *Service) otp.Deliverer { return s }),
)
