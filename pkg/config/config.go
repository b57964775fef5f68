package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Lending      LendingConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Lending.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CIRCULATION_APP_ENV" required:"true"`
	Port         string `envconfig:"CIRCULATION_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CIRCULATION_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CIRCULATION_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"CIRCULATION_DB_DSN"`

	LegacyHost     string `envconfig:"CIRCULATION_DB_HOST"`
	LegacyPort     int    `envconfig:"CIRCULATION_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CIRCULATION_DB_USER"`
	LegacyPassword string `envconfig:"CIRCULATION_DB_PASSWORD"`
	LegacyName     string `envconfig:"CIRCULATION_DB_NAME"`
	LegacySSLMode  string `envconfig:"CIRCULATION_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CIRCULATION_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CIRCULATION_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CIRCULATION_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL            string        `envconfig:"CIRCULATION_REDIS_URL" required:"true"`
	Address        string        `envconfig:"CIRCULATION_REDIS_ADDR"`
	Password       string        `envconfig:"CIRCULATION_REDIS_PASSWORD"`
	DB             int           `envconfig:"CIRCULATION_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"CIRCULATION_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"CIRCULATION_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"CIRCULATION_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"CIRCULATION_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"CIRCULATION_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"CIRCULATION_IDEMPOTENCY_TTL" default:"24h"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CIRCULATION_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CIRCULATION_JWT_ISSUER" default:"circulation"`
	ExpirationMinutes int    `envconfig:"CIRCULATION_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AccessTokenTTL returns the configured token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type RateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"CIRCULATION_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIdentLimit int           `envconfig:"CIRCULATION_RATE_LIMIT_LOGIN_IDENT_LIMIT" default:"5"`
	LoginIPLimit    int           `envconfig:"CIRCULATION_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`

	// Borrow requests and renewals a member may send inside BorrowWindow.
	BorrowWindow      time.Duration `envconfig:"CIRCULATION_RATE_LIMIT_BORROW_WINDOW" default:"1h"`
	BorrowMemberLimit int           `envconfig:"CIRCULATION_RATE_LIMIT_BORROW_MEMBER_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CIRCULATION_AUTO_MIGRATE" default:"false"`
}

// LendingConfig holds the circulation policy knobs.
type LendingConfig struct {
	LoanPeriod         time.Duration   `envconfig:"CIRCULATION_LOAN_PERIOD" default:"168h"`
	FineDailyRate      decimal.Decimal `envconfig:"CIRCULATION_FINE_DAILY_RATE" default:"5.00"`
	ReturnHistoryLimit int             `envconfig:"CIRCULATION_RETURN_HISTORY_LIMIT" default:"25"`
	ApproveMaxRetries  int             `envconfig:"CIRCULATION_APPROVE_MAX_RETRIES" default:"5"`
}

func (l LendingConfig) validate() error {
	if l.LoanPeriod <= 0 {
		return fmt.Errorf("%s must be positive", EnvLoanPeriod)
	}
	if l.FineDailyRate.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvFineDailyRate)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CIRCULATION_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CIRCULATION_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CIRCULATION_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CIRCULATION_OUTBOX_RETENTION_DAYS" default:"14"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CIRCULATION_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"CIRCULATION_GCP_CREDENTIALS_FILE"`
}

type PubSubConfig struct {
	LendingTopic string `envconfig:"CIRCULATION_PUBSUB_LENDING_TOPIC" default:"circulation-lending-events"`
}

type CronConfig struct {
	IntervalMinutes int `envconfig:"CIRCULATION_CRON_INTERVAL_MINUTES" default:"60"`
}

// Interval returns the tick period of the cron worker.
func (c CronConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
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
