package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is passed to envconfig; individual tags carry the full name.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SPAREHUB_DB_DSN"
	EnvDBHost = "SPAREHUB_DB_HOST"
	EnvDBUser = "SPAREHUB_DB_USER"
	EnvDBName = "SPAREHUB_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Paystack     PaystackConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Locations    LocationsConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"SPAREHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SPAREHUB_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SPAREHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SPAREHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SPAREHUB_DB_DSN"`
	Driver string `envconfig:"SPAREHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SPAREHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"SPAREHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SPAREHUB_DB_USER"`
	LegacyPassword string `envconfig:"SPAREHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"SPAREHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"SPAREHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SPAREHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SPAREHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SPAREHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SPAREHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SPAREHUB_REDIS_URL"`
	Address      string        `envconfig:"SPAREHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SPAREHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SPAREHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SPAREHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SPAREHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SPAREHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SPAREHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SPAREHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SPAREHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SPAREHUB_JWT_ISSUER" default:"sparehub"`
	ExpirationMinutes int    `envconfig:"SPAREHUB_JWT_EXPIRATION_MINUTES" default:"10080"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SPAREHUB_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SPAREHUB_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SPAREHUB_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SPAREHUB_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SPAREHUB_ARGON_KEY_LEN" default:"32"`
}

type PaystackConfig struct {
	SecretKey string        `envconfig:"SPAREHUB_PAYSTACK_SECRET_KEY"`
	PublicKey string        `envconfig:"SPAREHUB_PAYSTACK_PUBLIC_KEY"`
	BaseURL   string        `envconfig:"SPAREHUB_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout   time.Duration `envconfig:"SPAREHUB_PAYSTACK_TIMEOUT" default:"10s"`
}

// Offline reports whether the gateway should run in degraded mock mode.
func (p PaystackConfig) Offline() bool {
	return strings.TrimSpace(p.SecretKey) == ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SPAREHUB_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"SPAREHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"SPAREHUB_PUBSUB_DOMAIN_TOPIC" default:"sparehub-domain-events"`
	DomainSubscription string `envconfig:"SPAREHUB_PUBSUB_DOMAIN_SUBSCRIPTION" default:"sparehub-domain-events-worker"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SPAREHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SPAREHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SPAREHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type LocationsConfig struct {
	TTL time.Duration `envconfig:"SPAREHUB_LOCATION_TTL" default:"15m"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"SPAREHUB_CRON_INTERVAL" default:"1h"`
	PendingOrderTTL time.Duration `envconfig:"SPAREHUB_CRON_PENDING_ORDER_TTL" default:"72h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SPAREHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SPAREHUB_AUTO_MIGRATE" default:"false"`
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
