package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mailbox   MailboxConfig
	SMTP      SMTPConfig
	Ingestion IngestionConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines API token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// MailboxConfig describes the IMAP mailbox the poller drains.
type MailboxConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	TLS           bool
	TLSVerify     bool
	AuthTimeoutMS int
	DialTimeoutMS int
	Folder        string
	BatchLimit    int
}

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS selects implicit TLS. Otherwise StartTLS requires a STARTTLS upgrade
	// before authenticating, and plain SMTP is used when both are off.
	TLS      bool
	StartTLS bool

	// TimeoutMS bounds the connect and every SMTP command.
	TimeoutMS int
}

// IngestionConfig holds the knobs of the inbound pipeline and the SLA monitor.
type IngestionConfig struct {
	SystemAddress    string
	MessageIDDomain  string
	SLAWindowMinutes int
	PollSchedule     string
	SLASchedule      string
	MaxAttempts      int
	PollLockTTLSec   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	systemAddress := strings.ToLower(strings.TrimSpace(getEnv("SYSTEM_EMAIL_ADDRESS", os.Getenv("IMAP_USER"))))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-mail"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Mailbox: MailboxConfig{
			Host:          os.Getenv("IMAP_HOST"),
			Port:          getEnvAsInt("IMAP_PORT", 993),
			Username:      os.Getenv("IMAP_USER"),
			Password:      os.Getenv("IMAP_PASSWORD"),
			TLS:           getEnvAsBool("IMAP_TLS", true),
			TLSVerify:     getEnvAsBool("IMAP_TLS_VERIFY", false),
			AuthTimeoutMS: getEnvAsInt("IMAP_AUTH_TIMEOUT_MS", 5000),
			DialTimeoutMS: getEnvAsInt("IMAP_DIAL_TIMEOUT_MS", 10000),
			Folder:        getEnv("IMAP_FOLDER", "INBOX"),
			BatchLimit:    getEnvAsInt("IMAP_BATCH_LIMIT", 50),
		},
		SMTP: SMTPConfig{
			Host:      os.Getenv("SMTP_HOST"),
			Port:      getEnvAsInt("SMTP_PORT", 465),
			Username:  getEnv("SMTP_USER", os.Getenv("IMAP_USER")),
			Password:  getEnv("SMTP_PASSWORD", os.Getenv("IMAP_PASSWORD")),
			TLS:       getEnvAsBool("SMTP_TLS", true),
			StartTLS:  getEnvAsBool("SMTP_STARTTLS", true),
			TimeoutMS: getEnvAsInt("SMTP_TIMEOUT_MS", 30000),
		},
		Ingestion: IngestionConfig{
			SystemAddress:    systemAddress,
			MessageIDDomain:  getEnv("MESSAGE_ID_DOMAIN", domainOf(systemAddress)),
			SLAWindowMinutes: getEnvAsInt("SLA_WINDOW_MINUTES", 240),
			PollSchedule:     getEnv("POLL_SCHEDULE", "*/10 * * * * *"),
			SLASchedule:      getEnv("SLA_SCHEDULE", "0 * * * * *"),
			MaxAttempts:      getEnvAsInt("INGEST_MAX_ATTEMPTS", 5),
			PollLockTTLSec:   getEnvAsInt("POLL_LOCK_TTL_SECONDS", 300),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the workers cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingestion.SLAWindowMinutes <= 0 {
		errs = append(errs, errors.New("SLA_WINDOW_MINUTES must be positive"))
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Ingestion.PollSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid POLL_SCHEDULE: %w", err))
	}
	if _, err := parser.Parse(c.Ingestion.SLASchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid SLA_SCHEDULE: %w", err))
	}
	if c.Ingestion.MaxAttempts <= 0 {
		errs = append(errs, errors.New("INGEST_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Enabled reports whether a mailbox is configured for polling.
func (m MailboxConfig) Enabled() bool {
	return m.Host != "" && m.Username != ""
}

// Addr returns host:port of the IMAP server.
func (m MailboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// AuthTimeout returns the login timeout.
func (m MailboxConfig) AuthTimeout() time.Duration {
	return time.Duration(m.AuthTimeoutMS) * time.Millisecond
}

// DialTimeout returns the socket connect timeout.
func (m MailboxConfig) DialTimeout() time.Duration {
	return time.Duration(m.DialTimeoutMS) * time.Millisecond
}

// Enabled reports whether outbound mail can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// Timeout returns the connect and command timeout of the relay.
func (s SMTPConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Addr returns host:port of the SMTP relay.
func (s SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SLAWindow returns the deadline applied on every inbound message.
func (i IngestionConfig) SLAWindow() time.Duration {
	return time.Duration(i.SLAWindowMinutes) * time.Minute
}

// PollLockTTL bounds how long a crashed poller can hold the mailbox lock.
func (i IngestionConfig) PollLockTTL() time.Duration {
	return time.Duration(i.PollLockTTLSec) * time.Second
}

func domainOf(address string) string {
	if _, domain, ok := strings.Cut(address, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
