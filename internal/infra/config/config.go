package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	CSRF      CSRFSettings      `mapstructure:"csrf"`
	MagicLink MagicLinkSettings `mapstructure:"magic_link"`
	Abuse     AbuseSettings     `mapstructure:"abuse"`
	Captcha   CaptchaSettings   `mapstructure:"captcha"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Sessions  SessionSettings   `mapstructure:"sessions"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type JWTSettings struct {
	Secret             string        `mapstructure:"secret"`
	Issuer             string        `mapstructure:"issuer"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RememberMeTokenTTL time.Duration `mapstructure:"remember_me_token_ttl"`
	Leeway             time.Duration `mapstructure:"leeway"`
}

// CSRFSettings configures double-submit token generation and cookies.
type CSRFSettings struct {
	Secret       string        `mapstructure:"secret"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	CookieMaxAge time.Duration `mapstructure:"cookie_max_age"`
}

// MagicLinkSettings configures single-use email sign-in links.
type MagicLinkSettings struct {
	Secret         string        `mapstructure:"secret"`
	BaseURL        string        `mapstructure:"base_url"`
	TTL            time.Duration `mapstructure:"ttl"`
	PerEmailLimit  int           `mapstructure:"per_email_limit"`
	PerIPLimit     int           `mapstructure:"per_ip_limit"`
	IssuanceWindow time.Duration `mapstructure:"issuance_window"`
}

// AbuseSettings configures login abuse thresholds and the failure window.
type AbuseSettings struct {
	CaptchaThreshold int           `mapstructure:"captcha_threshold"`
	BlockThreshold   int           `mapstructure:"block_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
}

// CaptchaSettings selects a provider by which secret is configured. Setting
// both is a configuration error.
type CaptchaSettings struct {
	TurnstileSecret string `mapstructure:"turnstile_secret"`
	RecaptchaSecret string `mapstructure:"recaptcha_secret"`
}

// RateLimitSettings configures sliding-window limits enforced per client IP.
type RateLimitSettings struct {
	WindowDuration   time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// SessionSettings configures session retention for the cleanup operation.
type SessionSettings struct {
	ExpiredRetention time.Duration `mapstructure:"expired_retention"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"jwt.remember_me_token_ttl",
		"jwt.leeway",
		"csrf.secret",
		"csrf.cookie_name",
		"csrf.cookie_domain",
		"csrf.cookie_max_age",
		"magic_link.secret",
		"magic_link.base_url",
		"magic_link.ttl",
		"magic_link.per_email_limit",
		"magic_link.per_ip_limit",
		"magic_link.issuance_window",
		"abuse.captcha_threshold",
		"abuse.block_threshold",
		"abuse.failure_window",
		"captcha.turnstile_secret",
		"captcha.recaptcha_secret",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"sessions.expired_retention",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if c.CSRF.Secret == "" {
			return fmt.Errorf("csrf.secret is required in production")
		}
		if c.MagicLink.Secret == "" {
			return fmt.Errorf("magic_link.secret is required in production")
		}
	}
	if c.Captcha.TurnstileSecret != "" && c.Captcha.RecaptchaSecret != "" {
		return fmt.Errorf("captcha: turnstile and recaptcha secrets are mutually exclusive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "auth")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.async", true)

	// Development-only secrets; production refuses to start without real ones.
	v.SetDefault("jwt.secret", "dev-jwt-secret-change-me")
	v.SetDefault("jwt.issuer", "auth-service")
	v.SetDefault("jwt.access_token_ttl", "1h")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.remember_me_token_ttl", "720h")
	v.SetDefault("jwt.leeway", "30s")

	v.SetDefault("csrf.secret", "dev-csrf-secret-change-me")
	v.SetDefault("csrf.cookie_name", "csrf_token")
	v.SetDefault("csrf.cookie_domain", "")
	v.SetDefault("csrf.cookie_max_age", "1h")

	v.SetDefault("magic_link.secret", "dev-magic-link-secret-change-me")
	v.SetDefault("magic_link.base_url", "http://localhost:3000/auth/magic")
	v.SetDefault("magic_link.ttl", "20m")
	v.SetDefault("magic_link.per_email_limit", 5)
	v.SetDefault("magic_link.per_ip_limit", 20)
	v.SetDefault("magic_link.issuance_window", "1h")

	v.SetDefault("abuse.captcha_threshold", 3)
	v.SetDefault("abuse.block_threshold", 5)
	v.SetDefault("abuse.failure_window", "1h")

	v.SetDefault("captcha.turnstile_secret", "")
	v.SetDefault("captcha.recaptcha_secret", "")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 20)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("sessions.expired_retention", "720h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
