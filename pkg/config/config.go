package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Billing      BillingConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ESCROW_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESCROW_DB_USER"`
	LegacyPassword string `envconfig:"ESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ESCROW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"ESCROW_PUBSUB_NOTIFICATION_TOPIC" default:"escrow-notification-events"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"ESCROW_STRIPE_API_KEY"`
	Secret     string `envconfig:"ESCROW_STRIPE_SECRET"`
	Env        string `envconfig:"ESCROW_STRIPE_ENV" default:"test"`
	RefreshURL string `envconfig:"ESCROW_STRIPE_ONBOARDING_REFRESH_URL"`
	ReturnURL  string `envconfig:"ESCROW_STRIPE_ONBOARDING_RETURN_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// WebhookConfig covers the HMAC-signed processor endpoint.
type WebhookConfig struct {
	Secret        string        `envconfig:"ESCROW_WEBHOOK_SECRET" required:"true"`
	MaxBodyBytes  int64         `envconfig:"ESCROW_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	RetentionDays int           `envconfig:"ESCROW_WEBHOOK_RETENTION_DAYS" default:"30"`
	HandleTimeout time.Duration `envconfig:"ESCROW_WEBHOOK_HANDLE_TIMEOUT" default:"20s"`
}

type BillingConfig struct {
	GraceFailedAttempts int           `envconfig:"ESCROW_GRACE_FAILED_ATTEMPTS" default:"3"`
	ProcessorTimeout    time.Duration `envconfig:"ESCROW_PROCESSOR_TIMEOUT" default:"10s"`
	VerifyCapability    bool          `envconfig:"ESCROW_PAYOUT_VERIFY_CAPABILITY" default:"false"`
	BalanceCacheSize    int           `envconfig:"ESCROW_BALANCE_CACHE_SIZE" default:"1024"`
	BalanceCacheTTL     time.Duration `envconfig:"ESCROW_BALANCE_CACHE_TTL" default:"30s"`
	BalanceCurrency     string        `envconfig:"ESCROW_BALANCE_CURRENCY" default:"usd"`
	PlanExpiryGrace     time.Duration `envconfig:"ESCROW_PLAN_EXPIRY_GRACE" default:"72h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"ESCROW_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ESCROW_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"ESCROW_CRON_LOCK_TTL" default:"55m"`
}

// RateLimitConfig throttles funding intent creation per principal and per IP.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"ESCROW_RATE_LIMIT_WINDOW" default:"1m"`
	PrincipalLimit int           `envconfig:"ESCROW_RATE_LIMIT_PRINCIPAL" default:"20"`
	IPLimit        int           `envconfig:"ESCROW_RATE_LIMIT_IP" default:"60"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
