package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 81, cfg.ChunkSteps)
	assert.Equal(t, "zlib", cfg.Compressor)
	assert.Equal(t, 6, cfg.CompressionLevel)
	assert.Equal(t, domain.DefaultRegion, cfg.Region)
	assert.Equal(t, domain.GapFail, cfg.GapPolicy)
	assert.False(t, cfg.StrictMode)
	assert.Equal(t, 1, cfg.ConvertWorkers)
	assert.Equal(t, 4, cfg.AssembleWorkers)
	assert.Equal(t, 4, cfg.RetrieveConcurrency)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "wave-store-events", cfg.KafkaTopic)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("CHUNK_STEPS", "40")
	t.Setenv("COMPRESSOR", "zstd")
	t.Setenv("COMPRESSION_LEVEL", "3")
	t.Setenv("REGION_MIN_LAT", "-45.5")
	t.Setenv("REGION_MAX_LAT", "10")
	t.Setenv("REGION_MIN_LON", "90")
	t.Setenv("REGION_MAX_LON", "180")
	t.Setenv("GAP_POLICY", "record")
	t.Setenv("STRICT_MODE", "1")
	t.Setenv("CONVERT_WORKERS", "3")
	t.Setenv("ASSEMBLE_WORKERS", "8")
	t.Setenv("RETRIEVE_CONCURRENCY", "16")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-events")
	t.Setenv("KAFKA_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 40, cfg.ChunkSteps)
	assert.Equal(t, "zstd", cfg.Compressor)
	assert.Equal(t, 3, cfg.CompressionLevel)
	assert.Equal(t, domain.Region{MinLat: -45.5, MaxLat: 10, MinLon: 90, MaxLon: 180}, cfg.Region)
	assert.Equal(t, domain.GapRecord, cfg.GapPolicy)
	assert.True(t, cfg.StrictMode)
	assert.Equal(t, 3, cfg.ConvertWorkers)
	assert.Equal(t, 8, cfg.AssembleWorkers)
	assert.Equal(t, 16, cfg.RetrieveConcurrency)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-events", cfg.KafkaTopic)
	assert.True(t, cfg.KafkaEnabled)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidChunkSteps(t *testing.T) {
	t.Setenv("CHUNK_STEPS", "forty")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_STEPS")
}

func TestLoad_ZeroChunkSteps(t *testing.T) {
	t.Setenv("CHUNK_STEPS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_STEPS")
}

func TestLoad_InvalidGapPolicy(t *testing.T) {
	t.Setenv("GAP_POLICY", "ignore")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GAP_POLICY")
}

func TestLoad_InvalidRegionValue(t *testing.T) {
	t.Setenv("REGION_MIN_LAT", "south")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGION_MIN_LAT")
}

func TestLoad_InvertedRegion(t *testing.T) {
	t.Setenv("REGION_MIN_LAT", "10")
	t.Setenv("REGION_MAX_LAT", "-10")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGION_MIN_LAT")
}

func TestLoad_ZeroWorkers(t *testing.T) {
	t.Setenv("CONVERT_WORKERS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker counts")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", ",")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
