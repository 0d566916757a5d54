package common

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(context.Background(), "api", envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9080, cfg.MetricsPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "dispatch.requests", cfg.DispatchTopic)
	assert.Equal(t, "prospect.events", cfg.EventsTopic)
	assert.Equal(t, "55", cfg.DefaultCountryCode)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.False(t, cfg.AllowLocalLock)
	assert.Zero(t, cfg.SchedulerInterval)
	assert.False(t, cfg.MigrateOnStart)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(context.Background(), "dispatcher", envconfig.MapLookuper(map[string]string{
		"HTTP_PORT":          "7000",
		"METRICS_PORT":       "7100",
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"BUSINESS_TIMEZONE":  "UTC",
		"SCHEDULER_INTERVAL": "5m",
		"DISPATCH_TIMEOUT":   "45m",
		"MIGRATE_ON_START":   "true",
		"REDIS_ADDR":         "redis:6379",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTPPort)
	assert.Equal(t, 7100, cfg.MetricsPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 45*time.Minute, cfg.DispatchTimeout)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad port":     {"HTTP_PORT": "eighty"},
		"bad timezone": {"BUSINESS_TIMEZONE": "Mars/Olympus"},
		"bad duration": {"GATEWAY_TIMEOUT": "soon"},
		"zero batch":   {"SCHEDULER_BATCH_SIZE": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(context.Background(), "api", envconfig.MapLookuper(env))
			assert.Error(t, err)
		})
	}
}
