package config

const (
	EnvPrefix = "ESCROW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv        = "ESCROW_APP_ENV"
	EnvPort          = "ESCROW_APP_PORT"
	EnvDBDSN         = "ESCROW_DB_DSN"
	EnvDBHost        = "ESCROW_DB_HOST"
	EnvDBUser        = "ESCROW_DB_USER"
	EnvDBName        = "ESCROW_DB_NAME"
	EnvRedisURL      = "ESCROW_REDIS_URL"
	EnvJWTSecret     = "ESCROW_JWT_SECRET"
	EnvJWTIssuer     = "ESCROW_JWT_ISSUER"
	EnvWebhookSecret = "ESCROW_WEBHOOK_SECRET"
	EnvGraceAttempts = "ESCROW_GRACE_FAILED_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
