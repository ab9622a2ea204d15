package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.LocationMinInterval)
	assert.Equal(t, 10.0, cfg.MatchRadiusKm)
	assert.Equal(t, 8, cfg.MatchLimit)
	assert.Equal(t, "nurses_geo", cfg.RedisGeoKey)
	assert.Equal(t, "nurse-locations", cfg.KafkaLocationTopic)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOCATION_MIN_INTERVAL", "5s")
	t.Setenv("MATCH_RADIUS_KM", "25")
	t.Setenv("MATCH_LIMIT", "3")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.LocationMinInterval)
	assert.Equal(t, 25.0, cfg.MatchRadiusKm)
	assert.Equal(t, 3, cfg.MatchLimit)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestInvalidValuesReported(t *testing.T) {
	t.Setenv("MATCH_LIMIT", "0")
	t.Setenv("LOCATION_MIN_INTERVAL", "banana")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_LIMIT")
	assert.Contains(t, err.Error(), "LOCATION_MIN_INTERVAL")
}
