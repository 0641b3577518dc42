package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"
)

const (
	EnvPrefix = "NETCOMP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "NETCOMP_APP_ENV"
	EnvPort               = "NETCOMP_APP_PORT"
	EnvDBDSN              = "NETCOMP_DB_DSN"
	EnvDBHost             = "NETCOMP_DB_HOST"
	EnvDBUser             = "NETCOMP_DB_USER"
	EnvDBName             = "NETCOMP_DB_NAME"
	EnvRedisURL           = "NETCOMP_REDIS_URL"
	EnvJWTSecret          = "NETCOMP_JWT_SECRET"
	EnvJWTIssuer          = "NETCOMP_JWT_ISSUER"
	EnvJWTExpMins         = "NETCOMP_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID       = "NETCOMP_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "NETCOMP_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub    = "NETCOMP_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubDomainTopic  = "NETCOMP_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub    = "NETCOMP_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvWithdrawalDaily    = "NETCOMP_WITHDRAWAL_DAILY_LIMIT_CENTS"
	EnvWithdrawalMonthly  = "NETCOMP_WITHDRAWAL_MONTHLY_LIMIT_CENTS"
	EnvCommissionMaxDepth = "NETCOMP_COMMISSION_MAX_DEPTH"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Flags      FeatureFlagsConfig
	Eventing   EventingConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Tree       TreeConfig
	Commission CommissionConfig
	Withdrawal WithdrawalConfig
	Plan       PlanConfig
	SMTP       SMTPConfig
	BigQuery   BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Withdrawal.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"NETCOMP_APP_ENV" required:"true"`
	Port           string   `envconfig:"NETCOMP_APP_PORT" required:"true"`
	LogLevel       string   `envconfig:"NETCOMP_LOG_LEVEL" default:"info"`
	LogWarnStack   bool     `envconfig:"NETCOMP_LOG_WARN_STACK" default:"false"`
	LogFormat      string   `envconfig:"NETCOMP_LOG_FORMAT" default:"json"`
	CORSOrigins    []string `envconfig:"NETCOMP_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	// RateLimitRPS of zero disables per-caller throttling.
	RateLimitRPS   float64  `envconfig:"NETCOMP_RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int      `envconfig:"NETCOMP_RATE_LIMIT_BURST" default:"20"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"NETCOMP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"NETCOMP_DB_DSN"`
	Driver string `envconfig:"NETCOMP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NETCOMP_DB_HOST"`
	LegacyPort     int    `envconfig:"NETCOMP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NETCOMP_DB_USER"`
	LegacyPassword string `envconfig:"NETCOMP_DB_PASSWORD"`
	LegacyName     string `envconfig:"NETCOMP_DB_NAME"`
	LegacySSLMode  string `envconfig:"NETCOMP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NETCOMP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NETCOMP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NETCOMP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NETCOMP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"NETCOMP_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NETCOMP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NETCOMP_REDIS_ADDR"`
	Password     string        `envconfig:"NETCOMP_REDIS_PASSWORD"`
	DB           int           `envconfig:"NETCOMP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NETCOMP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NETCOMP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NETCOMP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NETCOMP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NETCOMP_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"NETCOMP_REDIS_KEY_PREFIX" default:"nc"`
}

type JWTConfig struct {
	Secret            string `envconfig:"NETCOMP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"NETCOMP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"NETCOMP_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"NETCOMP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"NETCOMP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"NETCOMP_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"NETCOMP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// ClientOptions returns the credential option for Google clients. Inline JSON
// wins over a credentials file; neither means application default credentials.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(g.ApplicationCredentials)}
	}
	return nil
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"NETCOMP_PUBSUB_ORDERS_TOPIC" default:"nc-order-events"`
	OrdersSubscription string `envconfig:"NETCOMP_PUBSUB_ORDERS_SUBSCRIPTION"`
	DomainTopic        string `envconfig:"NETCOMP_PUBSUB_DOMAIN_TOPIC" default:"nc-domain-events"`
	DomainSubscription string `envconfig:"NETCOMP_PUBSUB_DOMAIN_SUBSCRIPTION"`

	AnalyticsSubscription string `envconfig:"NETCOMP_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

// BigQueryConfig locates the settlement analytics sink.
type BigQueryConfig struct {
	Dataset               string `envconfig:"NETCOMP_BIGQUERY_DATASET"`
	SettlementEventsTable string `envconfig:"NETCOMP_BIGQUERY_SETTLEMENT_EVENTS_TABLE" default:"settlement_events"`
	BatchSize             int    `envconfig:"NETCOMP_BIGQUERY_BATCH_SIZE" default:"1"`
	AutoCreateTables      bool   `envconfig:"NETCOMP_BIGQUERY_AUTO_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize         int    `envconfig:"NETCOMP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS    int    `envconfig:"NETCOMP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts       int    `envconfig:"NETCOMP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionSchedule string `envconfig:"NETCOMP_OUTBOX_RETENTION_SCHEDULE" default:"@every 6h"`
}

// TreeConfig bounds downline materialization.
type TreeConfig struct {
	DefaultDepth int           `envconfig:"NETCOMP_TREE_DEFAULT_DEPTH" default:"10"`
	MaxDepthCap  int           `envconfig:"NETCOMP_TREE_MAX_DEPTH_CAP" default:"10"`
	CacheTTL     time.Duration `envconfig:"NETCOMP_TREE_CACHE_TTL" default:"30s"`
}

type CommissionConfig struct {
	SystemActorID string `envconfig:"NETCOMP_COMMISSION_SYSTEM_ACTOR_ID" default:"00000000-0000-0000-0000-000000000001"`
}

type WithdrawalConfig struct {
	DailyLimitCents   int64         `envconfig:"NETCOMP_WITHDRAWAL_DAILY_LIMIT_CENTS" default:"100000"`
	MonthlyLimitCents int64         `envconfig:"NETCOMP_WITHDRAWAL_MONTHLY_LIMIT_CENTS" default:"1000000"`
	RequestTTL        time.Duration `envconfig:"NETCOMP_WITHDRAWAL_REQUEST_TTL" default:"24h"`
	LockTTL           time.Duration `envconfig:"NETCOMP_WITHDRAWAL_LOCK_TTL" default:"15s"`
}

func (w WithdrawalConfig) validate() error {
	if w.DailyLimitCents <= 0 || w.MonthlyLimitCents <= 0 {
		return fmt.Errorf("withdrawal limits must be positive")
	}
	if w.DailyLimitCents > w.MonthlyLimitCents {
		return fmt.Errorf("daily withdrawal limit %d exceeds monthly limit %d", w.DailyLimitCents, w.MonthlyLimitCents)
	}
	return nil
}

// PlanConfig points at the compensation plan source. An empty File means the
// active plan is read from the compensation_plans table.
type PlanConfig struct {
	File string `envconfig:"NETCOMP_PLAN_FILE"`
}

type SMTPConfig struct {
	Host     string `envconfig:"NETCOMP_SMTP_HOST"`
	Port     int    `envconfig:"NETCOMP_SMTP_PORT" default:"587"`
	Username string `envconfig:"NETCOMP_SMTP_USERNAME"`
	Password string `envconfig:"NETCOMP_SMTP_PASSWORD"`
	From     string `envconfig:"NETCOMP_SMTP_FROM" default:"payouts@netcomp.local"`
}

// Enabled reports whether outbound mail is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
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
