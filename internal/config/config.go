// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RedeemPerMinute caps purchase attempts per tenant; 0 disables the limit.
	RedeemPerMinute int `yaml:"redeem_per_minute"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // postgres|memory
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LimitsConfig mirrors model.Limits; nil means unlimited.
type LimitsConfig struct {
	MaxSalesReps *int64 `yaml:"max_sales_reps"`
	MaxContacts  *int64 `yaml:"max_contacts"`
	StorageBytes *int64 `yaml:"storage_bytes"`
}

type LicensingConfig struct {
	AllowedSources    []string      `yaml:"allowed_sources"`
	Charset           string        `yaml:"charset"`
	GenerationRetries int           `yaml:"generation_retries"`
	MaxBatch          int           `yaml:"max_batch"`
	RedemptionRetries int           `yaml:"redemption_retries"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	FreeModules       []string      `yaml:"free_modules"`
	FreeLimits        LimitsConfig  `yaml:"free_limits"`
}

type EventsConfig struct {
	Driver   string `yaml:"driver"` // amqp|log
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"` // empty disables proof uploads
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	MaxBytes  int64  `yaml:"max_bytes"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Licensing   LicensingConfig   `yaml:"licensing"`
	Events      EventsConfig      `yaml:"events"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev, loads .env if present and reads the YAML file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	_ = godotenv.Load() // .env is optional
	return Load(configPath, dev)
}

// Load reads path, applies environment overrides and defaults, and validates.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
		// dev runs may rely on defaults and env only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	str(&cfg.HTTP.Addr, "LICENSING_HTTP_ADDR")
	str(&cfg.Storage.Driver, "LICENSING_STORAGE_DRIVER")
	str(&cfg.Database.URL, "LICENSING_DATABASE_URL", "DATABASE_URL")
	str(&cfg.Redis.URL, "LICENSING_REDIS_URL", "REDIS_URL")
	str(&cfg.Redis.Password, "LICENSING_REDIS_PASSWORD")
	str(&cfg.Auth.JWTSecret, "LICENSING_JWT_SECRET")
	str(&cfg.Events.Driver, "LICENSING_EVENTS_DRIVER")
	str(&cfg.Events.AMQPURL, "LICENSING_AMQP_URL", "AMQP_URL")
	str(&cfg.ObjectStore.Endpoint, "LICENSING_S3_ENDPOINT")
	str(&cfg.ObjectStore.AccessKey, "LICENSING_S3_ACCESS_KEY")
	str(&cfg.ObjectStore.SecretKey, "LICENSING_S3_SECRET_KEY")
	str(&cfg.ObjectStore.Bucket, "LICENSING_S3_BUCKET")
	str(&cfg.Log.Level, "LICENSING_LOG_LEVEL")

	if v := os.Getenv("LICENSING_ALLOWED_SOURCES"); v != "" {
		cfg.Licensing.AllowedSources = splitList(v)
	}
	if v := os.Getenv("LICENSING_FREE_MODULES"); v != "" {
		cfg.Licensing.FreeModules = splitList(v)
	}
	if v := os.Getenv("LICENSING_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Licensing.GracePeriod = d
		}
	}
	if v := os.Getenv("LICENSING_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 20
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "crm-licensing"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}
	if cfg.Licensing.Charset == "" {
		cfg.Licensing.Charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	}
	if cfg.Licensing.GenerationRetries <= 0 {
		cfg.Licensing.GenerationRetries = 10
	}
	if cfg.Licensing.MaxBatch <= 0 {
		cfg.Licensing.MaxBatch = 10000
	}
	if cfg.Licensing.RedemptionRetries <= 0 {
		cfg.Licensing.RedemptionRetries = 3
	}
	if cfg.Licensing.GracePeriod <= 0 {
		cfg.Licensing.GracePeriod = 72 * time.Hour
	}
	if len(cfg.Licensing.FreeModules) == 0 {
		cfg.Licensing.FreeModules = []string{"crm_core", "contact_management"}
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "log"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "licensing.events"
	}
	if cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = "payment-proofs"
	}
	if cfg.ObjectStore.MaxBytes <= 0 {
		cfg.ObjectStore.MaxBytes = 10 << 20
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		cfg.Scheduler.SweepInterval = 5 * time.Minute
	}
	if cfg.Scheduler.SweepBatch <= 0 {
		cfg.Scheduler.SweepBatch = 500
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 4 * time.Minute
	}
}

// Validate performs minimal validation of required settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres storage driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "amqp":
		if c.Events.AMQPURL == "" {
			return errors.New("events.amqp_url is required for the amqp events driver")
		}
	case "log":
	default:
		return fmt.Errorf("unknown events.driver %q", c.Events.Driver)
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Scheduler.LockTTL >= c.Scheduler.SweepInterval {
		return errors.New("scheduler.lock_ttl must be shorter than scheduler.sweep_interval")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
