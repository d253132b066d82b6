package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-envconfig"
)

// Config is the process configuration, read from the environment.
type Config struct {
	SigningKey       string        `env:"AUTH_SIGNING_KEY"`
	TokenTTL         time.Duration `env:"AUTH_TOKEN_TTL, default=24h"`
	SessionTimeout   time.Duration `env:"AUTH_SESSION_TIMEOUT, default=10s"`
	RefreshInterval  time.Duration `env:"AUTH_REFRESH_INTERVAL, default=10m"`
	MaxLoginAttempts int           `env:"AUTH_MAX_LOGIN_ATTEMPTS, default=5"`
	LockoutDuration  time.Duration `env:"AUTH_LOCKOUT_DURATION, default=15m"`
	PasswordCost     int           `env:"AUTH_PASSWORD_COST, default=10"`
	GoTrueURL        string        `env:"GOTRUE_URL"`
	GoTrueAnonKey    string        `env:"GOTRUE_ANON_KEY"`
	DatabaseDSN      string        `env:"AUTH_DB_DSN, default=file:auth.db?cache=shared"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB, default=0"`
	HTTPAddr         string        `env:"HTTP_ADDR, default=:8080"`
	LogLevel         string        `env:"LOG_LEVEL, default=info"`
	LogPretty        bool          `env:"LOG_PRETTY, default=false"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads the configuration through lookuper and validates it.
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.SessionTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.RefreshInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxLoginAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.LockoutDuration, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.PasswordCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.GoTrueURL, is.URL),
		validation.Field(&c.GoTrueAnonKey, validation.When(c.GoTrueURL != "", validation.Required)),
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "warning", "error")),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}
	if c.RefreshInterval >= c.TokenTTL {
		return goerrors.New("refresh interval must be shorter than the token ttl", goerrors.CategoryValidation)
	}
	return nil
}

func (c *Config) GetSigningKey() string { return c.SigningKey }
func (c *Config) GetTokenTTL() time.Duration { return c.TokenTTL }
func (c *Config) GetSessionTimeout() time.Duration { return c.SessionTimeout }
func (c *Config) GetRefreshInterval() time.Duration { return c.RefreshInterval }
func (c *Config) GetMaxLoginAttempts() int { return c.MaxLoginAttempts }
func (c *Config) GetLockoutDuration() time.Duration { return c.LockoutDuration }
func (c *Config) GetPasswordCost() int { return c.PasswordCost }
func (c *Config) GetGoTrueURL() string { return c.GoTrueURL }
func (c *Config) GetGoTrueAnonKey() string { return c.GoTrueAnonKey }
func (c *Config) GetDatabaseDSN() string { return c.DatabaseDSN }
func (c *Config) GetRedisAddr() string { return c.RedisAddr }
func (c *Config) GetHTTPAddr() string { return c.HTTPAddr }
func (c *Config) RemoteEnabled() bool { return c.GoTrueURL != "" }
func (c *Config) LoggerOptions() LoggerOptions { return LoggerOptions{Level: c.LogLevel, Pretty: c.LogPretty, Name: "auth"} }

// CoordinatorOptionsFromConfig maps the configuration to coordinator options.
func CoordinatorOptionsFromConfig(cfg *Config, logger Logger) []CoordinatorOption {
	opts := []CoordinatorOption{
		WithCoordinatorLogger(logger),
		WithSessionTimeout(cfg.GetSessionTimeout()),
		WithRefreshInterval(cfg.GetRefreshInterval()),
		WithLoginLimiter(NewLoginLimiter(cfg.GetMaxLoginAttempts(), cfg.GetLockoutDuration())),
	}
	return opts
}
