package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig       `envPrefix:"BOOKD_SERVER_"`
	Log          LogConfig          `envPrefix:"BOOKD_LOG_"`
	Database     DatabaseConfig     `envPrefix:"BOOKD_DATABASE_"`
	JWT          JWTConfig          `envPrefix:"BOOKD_JWT_"`
	RefreshToken RefreshTokenConfig `envPrefix:"BOOKD_REFRESH_"`
	Session      SessionConfig      `envPrefix:"BOOKD_SESSION_"`
	RateLimit    RateLimitConfig    `envPrefix:"BOOKD_RATELIMIT_"`
	Otp          OtpConfig          `envPrefix:"BOOKD_OTP_"`
	Revocation   RevocationConfig   `envPrefix:"BOOKD_REVOCATION_"`
	Mail         MailConfig         `envPrefix:"BOOKD_MAIL_"`
	Cleanup      CleanupConfig      `envPrefix:"BOOKD_CLEANUP_"`
}

type ServerConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"bookd.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type JWTConfig struct {
	SecretKey    string        `env:"SECRET_KEY"`
	Issuer       string        `env:"ISSUER" envDefault:"bookd"`
	AccessExpiry time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	ClockSkew    time.Duration `env:"CLOCK_SKEW" envDefault:"30s"`
}

type RefreshTokenConfig struct {
	SecretLength      int           `env:"SECRET_LENGTH" envDefault:"32"`
	Expiry            time.Duration `env:"EXPIRY" envDefault:"720h"`
	GraceWindow       time.Duration `env:"GRACE_WINDOW" envDefault:"10s"`
	MinRotateInterval time.Duration `env:"MIN_ROTATE_INTERVAL" envDefault:"60s"`
	MaxSessionAge     time.Duration `env:"MAX_SESSION_AGE" envDefault:"720h"`
	MaxRotations      int           `env:"MAX_ROTATIONS" envDefault:"10000"`
}

type SessionConfig struct {
	MaxDevices      int           `env:"MAX_DEVICES" envDefault:"5"`
	OrphanRetention time.Duration `env:"ORPHAN_RETENTION" envDefault:"168h"`
}

type RateLimitConfig struct {
	DefaultWindow time.Duration `env:"DEFAULT_WINDOW" envDefault:"1m"`
	DefaultMax    int           `env:"DEFAULT_MAX" envDefault:"60"`
	RulesFile     string        `env:"RULES_FILE"`
	FailOpen      bool          `env:"FAIL_OPEN" envDefault:"true"`
}

type OtpConfig struct {
	CodeLength      int           `env:"CODE_LENGTH" envDefault:"6"`
	Expiry          time.Duration `env:"EXPIRY" envDefault:"5m"`
	Cooldown        time.Duration `env:"COOLDOWN" envDefault:"60s"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
}

type RevocationConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
	Persist bool `env:"PERSIST" envDefault:"true"`
}

type MailConfig struct {
	Host          string `env:"HOST" envDefault:"localhost"`
	Port          int    `env:"PORT" envDefault:"587"`
	Username      string `env:"USERNAME"`
	Password      string `env:"PASSWORD"`
	Encryption    string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress   string `env:"FROM_ADDRESS"`
	GatewayDomain string `env:"GATEWAY_DOMAIN"`
}

type CleanupConfig struct {
	Interval   time.Duration `env:"INTERVAL" envDefault:"1h"`
	BatchSize  int           `env:"BATCH_SIZE" envDefault:"500"`
	BatchPause time.Duration `env:"BATCH_PAUSE" envDefault:"50ms"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	return env.Parse(cfg)
}
