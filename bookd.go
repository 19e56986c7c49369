package bookd

import (
	"github.com/tech-arch1tect/bookd/app"
	"github.com/tech-arch1tect/bookd/config"
)

type App = app.App

type AppBuilder = app.AppBuilder

func New() *AppBuilder {
	return app.NewApp()
}

func NewWithConfig(cfg *config.Config) *AppBuilder {
	return app.NewApp().WithConfig(cfg)
}
