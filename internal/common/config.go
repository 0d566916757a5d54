package common

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	HTTPPort     int      `env:"HTTP_PORT, default=8080"`
	MetricsPort  int      `env:"METRICS_PORT"`
	DatabaseURL  string   `env:"DATABASE_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS, default=localhost:9092"`
	// DispatchTopic carries queued dispatch requests, EventsTopic the
	// outcome of every send attempt and identity status change.
	DispatchTopic string `env:"DISPATCH_TOPIC, default=dispatch.requests"`
	EventsTopic   string `env:"EVENTS_TOPIC, default=prospect.events"`
	OTLPEndpoint  string `env:"OTLP_ENDPOINT"`
	LogLevel      string `env:"LOG_LEVEL, default=info"`

	TraceSampleRatio float64 `env:"OTEL_SAMPLE_RATIO, default=1"`

	RedisAddr string        `env:"REDIS_ADDR"`
	RedisDB   int           `env:"REDIS_DB, default=0"`
	LockTTL   time.Duration `env:"LOCK_TTL, default=1m"`
	// AllowLocalLock permits running without Redis. Only safe when a single
	// process dispatches.
	AllowLocalLock bool `env:"ALLOW_LOCAL_LOCK, default=false"`

	BusinessTimezone   string        `env:"BUSINESS_TIMEZONE, default=America/Sao_Paulo"`
	DefaultCountryCode string        `env:"DEFAULT_COUNTRY_CODE, default=55"`
	LinkBaseURL        string        `env:"LINK_BASE_URL"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT, default=15s"`
	DispatchTimeout    time.Duration `env:"DISPATCH_TIMEOUT"`

	// A zero SchedulerInterval disables the auto-send scheduler.
	SchedulerInterval  time.Duration `env:"SCHEDULER_INTERVAL"`
	SchedulerBatchSize int           `env:"SCHEDULER_BATCH_SIZE, default=10"`

	MigrateOnStart bool `env:"MIGRATE_ON_START, default=false"`

	ServiceName string
}

// LoadConfig reads the environment, after loading an optional .env file.
func LoadConfig(service string) (*Config, error) {
	_ = godotenv.Load()
	return loadConfig(context.Background(), service, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, service string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	cfg.ServiceName = service

	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = cfg.HTTPPort + 1000
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if cfg.SchedulerBatchSize <= 0 {
		return nil, fmt.Errorf("invalid value for SCHEDULER_BATCH_SIZE: %d", cfg.SchedulerBatchSize)
	}
	return cfg, nil
}

// Location is the business timezone used for sending windows.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid value for BUSINESS_TIMEZONE: %w", err)
	}
	return loc, nil
}
