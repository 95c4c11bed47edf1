package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Env string `validate:"required,oneof=development production test"`

	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Pike13   Pike13Config
	GitHub   GitHubConfig
	Sync     SyncConfig
	Export   ExportConfig
	Webhook  WebhookConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Driver       string `validate:"required,oneof=postgres sqlite3"`
	Host         string
	Port         int
	User         string
	Password     string
	Name         string `validate:"required"`
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	RepoTTL  time.Duration
}

type LogConfig struct {
	Level  string
	Format string `validate:"omitempty,oneof=json console"`
}

// Pike13Config points the scheduling-service client at its reporting and core APIs.
type Pike13Config struct {
	BaseURL  string `validate:"required,url"`
	Token    string
	Timeout  time.Duration
	Attempts int `validate:"min=1,max=5"`
}

// GitHubConfig configures the commit-hosting client used by the comment import.
type GitHubConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// SyncConfig holds the sync windows and cutoffs applied by each import phase.
type SyncConfig struct {
	TimeZone         string `validate:"required"`
	AttendanceDays   int    `validate:"min=0"`
	ScheduleDays     int    `validate:"min=0"`
	CoursePastDays   int    `validate:"min=0"`
	CourseFutureDays int    `validate:"min=0"`
	GitHubDays       int    `validate:"min=0"`
	CatchupMonths    int    `validate:"min=0"`
	StartDateCutoff  string `validate:"required,datetime=2006-01-02"`
	LookupFile       string
}

// ExportConfig controls where ledger exports are written.
type ExportConfig struct {
	StorageDir string
}

// WebhookConfig configures the commit webhook receiver.
type WebhookConfig struct {
	Port   int
	Secret string
}

// MetricsConfig controls metric output for batch runs.
type MetricsConfig struct {
	TextfilePath string
}

// Location resolves the configured sync time zone.
func (c SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Database = DatabaseConfig{
		Driver:       v.GetString("DB_DRIVER"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REPO_CACHE"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		RepoTTL:  parseDuration(v.GetString("REPO_CACHE_TTL"), 12*time.Hour),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Pike13 = Pike13Config{
		BaseURL:  strings.TrimRight(v.GetString("PIKE13_BASE_URL"), "/"),
		Token:    v.GetString("PIKE13_TOKEN"),
		Timeout:  parseDuration(v.GetString("PIKE13_TIMEOUT"), 60*time.Second),
		Attempts: v.GetInt("PIKE13_ATTEMPTS"),
	}

	cfg.GitHub = GitHubConfig{
		BaseURL: v.GetString("GITHUB_BASE_URL"),
		Token:   v.GetString("GITHUB_TOKEN"),
		Timeout: parseDuration(v.GetString("GITHUB_TIMEOUT"), 30*time.Second),
	}

	cfg.Sync = SyncConfig{
		TimeZone:         v.GetString("SYNC_TIMEZONE"),
		AttendanceDays:   v.GetInt("SYNC_ATTENDANCE_DAYS"),
		ScheduleDays:     v.GetInt("SYNC_SCHEDULE_DAYS"),
		CoursePastDays:   v.GetInt("SYNC_COURSE_PAST_DAYS"),
		CourseFutureDays: v.GetInt("SYNC_COURSE_FUTURE_DAYS"),
		GitHubDays:       v.GetInt("SYNC_GITHUB_DAYS"),
		CatchupMonths:    v.GetInt("SYNC_CATCHUP_MONTHS"),
		StartDateCutoff:  v.GetString("SYNC_START_DATE_CUTOFF"),
		LookupFile:       v.GetString("LOOKUP_FILE"),
	}

	cfg.Export = ExportConfig{StorageDir: v.GetString("EXPORT_STORAGE_DIR")}

	cfg.Webhook = WebhookConfig{
		Port:   v.GetInt("WEBHOOK_PORT"),
		Secret: v.GetString("WEBHOOK_SECRET"),
	}

	cfg.Metrics = MetricsConfig{TextfilePath: v.GetString("METRICS_TEXTFILE")}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "student_tracker")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_REPO_CACHE", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REPO_CACHE_TTL", "12h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PIKE13_BASE_URL", "https://jtl.pike13.com")
	v.SetDefault("PIKE13_TOKEN", "")
	v.SetDefault("PIKE13_TIMEOUT", "60s")
	v.SetDefault("PIKE13_ATTEMPTS", 2)

	v.SetDefault("GITHUB_BASE_URL", "")
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("GITHUB_TIMEOUT", "30s")

	v.SetDefault("SYNC_TIMEZONE", "America/Los_Angeles")
	v.SetDefault("SYNC_ATTENDANCE_DAYS", 7)
	v.SetDefault("SYNC_SCHEDULE_DAYS", 14)
	v.SetDefault("SYNC_COURSE_PAST_DAYS", 14)
	v.SetDefault("SYNC_COURSE_FUTURE_DAYS", 120)
	v.SetDefault("SYNC_GITHUB_DAYS", 7)
	v.SetDefault("SYNC_CATCHUP_MONTHS", 3)
	v.SetDefault("SYNC_START_DATE_CUTOFF", "2017-09-30")
	v.SetDefault("LOOKUP_FILE", "")

	v.SetDefault("EXPORT_STORAGE_DIR", "./exports")
	v.SetDefault("WEBHOOK_PORT", 8085)
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("METRICS_TEXTFILE", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
