package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "CIRCULATION"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "CIRCULATION_APP_ENV"
	EnvPort         = "CIRCULATION_APP_PORT"
	EnvLogLevel     = "CIRCULATION_LOG_LEVEL"
	EnvLogWarnStack = "CIRCULATION_LOG_WARN_STACK"

	EnvDBDSN      = "CIRCULATION_DB_DSN"
	EnvDBHost     = "CIRCULATION_DB_HOST"
	EnvDBPort     = "CIRCULATION_DB_PORT"
	EnvDBUser     = "CIRCULATION_DB_USER"
	EnvDBPassword = "CIRCULATION_DB_PASSWORD"
	EnvDBName     = "CIRCULATION_DB_NAME"
	EnvDBSSLMode  = "CIRCULATION_DB_SSLMODE"

	EnvRedisURL = "CIRCULATION_REDIS_URL"

	EnvJWTSecret  = "CIRCULATION_JWT_SECRET"
	EnvJWTIssuer  = "CIRCULATION_JWT_ISSUER"
	EnvJWTExpMins = "CIRCULATION_JWT_EXPIRATION_MINUTES"

	EnvAutoMigrate = "CIRCULATION_AUTO_MIGRATE"

	EnvLoanPeriod         = "CIRCULATION_LOAN_PERIOD"
	EnvFineDailyRate      = "CIRCULATION_FINE_DAILY_RATE"
	EnvReturnHistoryLimit = "CIRCULATION_RETURN_HISTORY_LIMIT"
	EnvApproveMaxRetries  = "CIRCULATION_APPROVE_MAX_RETRIES"

	EnvGCPProjectID       = "CIRCULATION_GCP_PROJECT_ID"
	EnvPubSubLendingTopic = "CIRCULATION_PUBSUB_LENDING_TOPIC"

	EnvCronIntervalMinutes = "CIRCULATION_CRON_INTERVAL_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
