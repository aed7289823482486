package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Env       string `env:"ENV" env-default:"development"`
	Port      string `env:"PORT" env-default:"8080"`
	JWTSecret string `env:"JWT_SECRET" env-required:"true"`
	// extra origins on top of the built-in frontend list
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	Mongo       MongoConfig
	Redis       RedisConfig
	Commission  CommissionConfig
	Dispatch    DispatchConfig
	Jobs        JobsConfig
	SMTP        SMTPConfig
	Log         LogConfig
}

type MongoConfig struct {
	URI       string `env:"MONGO_URI"`
	LegacyURI string `env:"MONGODB_URI"`
	Database  string `env:"DB_NAME" env-default:"agrimarket"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type CommissionConfig struct {
	DefaultRate     float64       `env:"COMMISSION_DEFAULT_RATE" env-default:"0.05"`
	PlatformFeeRate float64       `env:"PLATFORM_FEE_RATE" env-default:"0.10"`
	MaxRetries      int           `env:"COMMISSION_MAX_RETRIES" env-default:"3"`
	RetryBase       time.Duration `env:"COMMISSION_RETRY_BASE" env-default:"200ms"`
	ItemWorkers     int           `env:"COMMISSION_ITEM_WORKERS" env-default:"4"`
}

type DispatchConfig struct {
	Workers     int `env:"DISPATCH_WORKERS" env-default:"4"`
	QueueSize   int `env:"DISPATCH_QUEUE_SIZE" env-default:"1024"`
	MaxAttempts int `env:"DISPATCH_MAX_ATTEMPTS" env-default:"3"`
}

type JobsConfig struct {
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" env-default:"1h"`
	ReprocessInterval   time.Duration `env:"REPROCESS_INTERVAL" env-default:"5m"`
	TotalsSyncGrace     time.Duration `env:"TOTALS_SYNC_GRACE" env-default:"1m"`
	MaxJobAttempts      int           `env:"REPROCESS_MAX_ATTEMPTS" env-default:"10"`
	StaleJobAfter       time.Duration `env:"STALE_JOB_AFTER" env-default:"15m"`
	DriftAlertThreshold int64         `env:"DRIFT_ALERT_THRESHOLD" env-default:"100"`
}

type SMTPConfig struct {
	Host       string `env:"SMTP_HOST"`
	Port       int    `env:"SMTP_PORT" env-default:"2525"`
	User       string `env:"SMTP_USER"`
	Pass       string `env:"SMTP_PASS"`
	AlertEmail string `env:"ALERT_EMAIL"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
	File  string `env:"LOG_FILE"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = cfg.Mongo.LegacyURI
	}
	if cfg.Mongo.URI == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("MONGO_URI or MONGODB_URI environment variable is required for production")
		}
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Commission.DefaultRate <= 0 || cfg.Commission.DefaultRate > 1 {
		return nil, fmt.Errorf("COMMISSION_DEFAULT_RATE must be in (0,1], got %v", cfg.Commission.DefaultRate)
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}
