package jwt

import (
	"github.com/tech-arch1tect/bookd/services/revocation"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(wireRevocation),
)

type optionalRevocation struct {
	fx.In
	Revocation *revocation.Service `optional:"true"`
}

func wireRevocation(service *Service, deps optionalRevocation) {
	if deps.Revocation != nil {
		service.SetRevocationService(deps.Revocation)
	}
}
