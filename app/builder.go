package app

import (
	"fmt"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/database"
	"github.com/tech-arch1tect/bookd/server"
	"github.com/tech-arch1tect/bookd/services/auth"
	"github.com/tech-arch1tect/bookd/services/cleanup"
	"github.com/tech-arch1tect/bookd/services/jwt"
	"github.com/tech-arch1tect/bookd/services/logging"
	"github.com/tech-arch1tect/bookd/services/mail"
	"github.com/tech-arch1tect/bookd/services/otp"
	"github.com/tech-arch1tect/bookd/services/ratelimit"
	"github.com/tech-arch1tect/bookd/services/refreshtoken"
	"github.com/tech-arch1tect/bookd/services/revocation"
	"github.com/tech-arch1tect/bookd/services/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithDatabase(models ...any) *AppBuilder {
	b.services["database"] = true
	b.models = append(b.models, models...)
	return b
}

// WithTokens enables the access/refresh token core: signed access
// tokens, the rotation engine and the session ledger.
func (b *AppBuilder) WithTokens() *AppBuilder {
	if b.services["tokens"] {
		return b
	}
	b.services["tokens"] = true
	b.services["database"] = true
	b.models = append(b.models, &refreshtoken.RefreshToken{}, &session.Session{})
	return b
}

func (b *AppBuilder) WithRevocation() *AppBuilder {
	b.services["revocation"] = true
	b.WithTokens()
	b.models = append(b.models, &revocation.BlacklistedToken{})
	return b
}

func (b *AppBuilder) WithRateLimit() *AppBuilder {
	if b.services["ratelimit"] {
		return b
	}
	b.services["ratelimit"] = true
	b.services["database"] = true
	b.models = append(b.models, &ratelimit.RateLimit{})
	return b
}

func (b *AppBuilder) WithOtp() *AppBuilder {
	if b.services["otp"] {
		return b
	}
	b.services["otp"] = true
	b.services["database"] = true
	b.models = append(b.models, &otp.Otp{})
	return b
}

func (b *AppBuilder) WithMail() *AppBuilder {
	b.services["mail"] = true
	return b
}

// WithAuth enables the login-flow facade and everything it needs.
func (b *AppBuilder) WithAuth() *AppBuilder {
	b.services["auth"] = true
	b.WithTokens()
	b.WithOtp()
	b.WithRateLimit()
	return b
}

func (b *AppBuilder) WithCleanup() *AppBuilder {
	b.services["cleanup"] = true
	b.WithTokens()
	return b
}

func (b *AppBuilder) WithServer() *AppBuilder {
	b.services["server"] = true
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := b.buildDatabase(logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		config: b.config,
		logger: logger,
		db:     db,
	}

	fxOptions := b.buildFxOptions(db, logger)
	if b.services["server"] {
		fxOptions = append(fxOptions, fx.Invoke(func(srv *server.Server) {
			app.server = srv
		}))
	}

	app.fx = fx.New(fxOptions...)
	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}

	if b.services["tokens"] && !b.services["database"] {
		return fmt.Errorf("token support requires database support")
	}

	if b.services["revocation"] && !b.services["tokens"] {
		return fmt.Errorf("revocation requires token support")
	}

	if b.services["otp"] && !b.services["mail"] {
		b.services["mail"] = true
	}

	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config required for logger creation")
	}

	return logging.NewService(logging.Config{
		Level:      logging.LogLevel(b.config.Log.Level),
		Format:     b.config.Log.Format,
		OutputPath: b.config.Log.Output,
	})
}

func (b *AppBuilder) buildDatabase(logger *logging.Service) (*gorm.DB, error) {
	if !b.services["database"] {
		return nil, nil
	}

	modelsOpt := &database.ModelsOption{}
	if len(b.models) > 0 {
		modelsOpt = database.WithModels(b.models...)
	}

	db, err := database.ProvideDatabase(b.config, modelsOpt, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func (b *AppBuilder) buildFxOptions(db *gorm.DB, logger *logging.Service) []fx.Option {
	var options []fx.Option

	options = append(options,
		fx.Supply(b.config),
		fx.Supply(logger),
		fx.NopLogger,
	)

	if db != nil {
		options = append(options, fx.Supply(db))
	}

	if b.services["server"] {
		options = append(options, server.NewProvider())
	}
	if b.services["mail"] {
		options = append(options, mail.Module)
	}
	if b.services["revocation"] {
		options = append(options, revocation.Module)
	}
	if b.services["tokens"] {
		options = append(options, jwt.Module, session.Module, refreshtoken.Module)
	}
	if b.services["ratelimit"] {
		options = append(options, ratelimit.Module)
	}
	if b.services["otp"] {
		options = append(options, otp.Module)
	}
	if b.services["auth"] {
		options = append(options, auth.Module)
	}
	if b.services["cleanup"] {
		options = append(options, cleanup.Module)
	}

	options = append(options, b.fxOptions...)

	return options
}
