package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Import   ImportConfig
	Recovery RecoveryConfig
	Audit    AuditConfig
	Picker   PickerConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
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
	Env          string `envconfig:"PHOTARK_APP_ENV" required:"true"`
	MetricsPort  string `envconfig:"PHOTARK_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"PHOTARK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PHOTARK_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"PHOTARK_APP_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PHOTARK_DB_DSN"`
	Driver string `envconfig:"PHOTARK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PHOTARK_DB_HOST"`
	LegacyPort     int    `envconfig:"PHOTARK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PHOTARK_DB_USER"`
	LegacyPassword string `envconfig:"PHOTARK_DB_PASSWORD"`
	LegacyName     string `envconfig:"PHOTARK_DB_NAME"`
	LegacySSLMode  string `envconfig:"PHOTARK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PHOTARK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHOTARK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHOTARK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHOTARK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// UseSQLite reports whether the configured driver is sqlite (dev/test only).
func (db DBConfig) UseSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"PHOTARK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PHOTARK_REDIS_ADDR"`
	Password     string        `envconfig:"PHOTARK_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHOTARK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHOTARK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHOTARK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHOTARK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHOTARK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHOTARK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ImportConfig tunes the claim/heartbeat protocol and the dedup engine.
type ImportConfig struct {
	WorkerCount       int           `envconfig:"PHOTARK_IMPORT_WORKER_COUNT" default:"4"`
	PollInterval      time.Duration `envconfig:"PHOTARK_IMPORT_POLL_INTERVAL" default:"2s"`
	MaxAttempts       int           `envconfig:"PHOTARK_IMPORT_MAX_ATTEMPTS" default:"3"`
	LockTimeout       time.Duration `envconfig:"PHOTARK_IMPORT_LOCK_TIMEOUT" default:"2m"`
	HeartbeatInterval time.Duration `envconfig:"PHOTARK_IMPORT_HEARTBEAT_INTERVAL" default:"30s"`

	// CaptureTolerance is the window within which two capture timestamps are
	// considered equal by the dedup engine's strict rule.
	CaptureTolerance time.Duration `envconfig:"PHOTARK_IMPORT_CAPTURE_TOLERANCE" default:"10s"`

	// LocalRoot is where local sessions read from; LibraryRoot is where
	// imported media lands.
	LocalRoot   string `envconfig:"PHOTARK_IMPORT_LOCAL_ROOT"`
	LibraryRoot string `envconfig:"PHOTARK_IMPORT_LIBRARY_ROOT"`

	ExpandInterval time.Duration `envconfig:"PHOTARK_IMPORT_EXPAND_INTERVAL" default:"5s"`

	ThrottleCPUPercent float64       `envconfig:"PHOTARK_IMPORT_THROTTLE_CPU_PERCENT" default:"85"`
	ThrottleBackoff    time.Duration `envconfig:"PHOTARK_IMPORT_THROTTLE_BACKOFF" default:"5s"`
}

// RecoveryConfig tunes the stale-session scanner. Local sessions get a longer
// grace period because local transcoding is slower than remote fetches.
type RecoveryConfig struct {
	Interval            time.Duration `envconfig:"PHOTARK_RECOVERY_INTERVAL" default:"5m"`
	LockTTL             time.Duration `envconfig:"PHOTARK_RECOVERY_LOCK_TTL" default:"10m"`
	RemoteStaleAfter    time.Duration `envconfig:"PHOTARK_RECOVERY_REMOTE_STALE_AFTER" default:"30m"`
	LocalStaleAfter     time.Duration `envconfig:"PHOTARK_RECOVERY_LOCAL_STALE_AFTER" default:"4h"`
	TaskTTL             time.Duration `envconfig:"PHOTARK_RECOVERY_TASK_TTL" default:"5m"`
	AuditRetentionDays  int           `envconfig:"PHOTARK_RECOVERY_AUDIT_RETENTION_DAYS" default:"30"`
	AuditCleanupEnabled bool          `envconfig:"PHOTARK_RECOVERY_AUDIT_CLEANUP" default:"true"`
}

// StaleAfter returns the per-origin idle threshold after which a session is a
// recovery candidate.
func (r RecoveryConfig) StaleAfter(origin string) time.Duration {
	if strings.EqualFold(origin, "local") {
		return r.LocalStaleAfter
	}
	return r.RemoteStaleAfter
}

// AuditConfig bounds the size of persisted diagnostic payloads.
type AuditConfig struct {
	ArrayThreshold int `envconfig:"PHOTARK_AUDIT_ARRAY_THRESHOLD" default:"20"`
	ArrayEdgeCount int `envconfig:"PHOTARK_AUDIT_ARRAY_EDGE_COUNT" default:"5"`
	MaxDetailBytes int `envconfig:"PHOTARK_AUDIT_MAX_DETAIL_BYTES" default:"8192"`
	MaxActions     int `envconfig:"PHOTARK_AUDIT_MAX_ACTIONS" default:"50"`
}

type PickerConfig struct {
	BaseURL  string        `envconfig:"PHOTARK_PICKER_BASE_URL"`
	PageSize int           `envconfig:"PHOTARK_PICKER_PAGE_SIZE" default:"100"`
	Timeout  time.Duration `envconfig:"PHOTARK_PICKER_TIMEOUT" default:"30s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PHOTARK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PHOTARK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PHOTARK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ImportTopic        string `envconfig:"PHOTARK_PUBSUB_IMPORT_TOPIC" default:"photark-import-events"`
	ImportSubscription string `envconfig:"PHOTARK_PUBSUB_IMPORT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PHOTARK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PHOTARK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PHOTARK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" || db.UseSQLite() {
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
