package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// Config holds all service settings, populated from environment variables.
// Per-invocation inputs (dates, roots, filter files) are command flags.
type Config struct {
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Store layout and compression.
	ChunkSteps       int
	Compressor       string
	CompressionLevel int

	// Conversion behavior.
	Region     domain.Region
	GapPolicy  domain.GapPolicy
	StrictMode bool

	ConvertWorkers      int
	AssembleWorkers     int
	RetrieveConcurrency int

	// Kafka completion events.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	chunkSteps, err := envInt("CHUNK_STEPS", 81)
	if err != nil {
		return nil, err
	}

	compressionLevel, err := envInt("COMPRESSION_LEVEL", 6)
	if err != nil {
		return nil, err
	}

	region, err := envRegion(domain.DefaultRegion)
	if err != nil {
		return nil, err
	}

	gapPolicy, err := domain.ParseGapPolicy(envOrDefault("GAP_POLICY", string(domain.GapFail)))
	if err != nil {
		return nil, fmt.Errorf("invalid GAP_POLICY: %w", err)
	}

	convertWorkers, err := envInt("CONVERT_WORKERS", 1)
	if err != nil {
		return nil, err
	}

	assembleWorkers, err := envInt("ASSEMBLE_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	retrieveConcurrency, err := envInt("RETRIEVE_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		ShutdownTimeout: shutdownTimeout,

		ChunkSteps:       chunkSteps,
		Compressor:       envOrDefault("COMPRESSOR", "zlib"),
		CompressionLevel: compressionLevel,

		Region:     region,
		GapPolicy:  gapPolicy,
		StrictMode: envBool("STRICT_MODE", false),

		ConvertWorkers:      convertWorkers,
		AssembleWorkers:     assembleWorkers,
		RetrieveConcurrency: retrieveConcurrency,

		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "wave-store-events"),
		KafkaEnabled: envBool("KAFKA_ENABLED", false),
	}

	if cfg.ChunkSteps < 1 {
		return nil, errors.New("CHUNK_STEPS must be at least 1")
	}
	if cfg.ConvertWorkers < 1 || cfg.AssembleWorkers < 1 || cfg.RetrieveConcurrency < 1 {
		return nil, errors.New("worker counts must be at least 1")
	}
	if cfg.Region.MinLat >= cfg.Region.MaxLat {
		return nil, errors.New("REGION_MIN_LAT must be below REGION_MAX_LAT")
	}
	if cfg.Region.MinLon >= cfg.Region.MaxLon {
		return nil, errors.New("REGION_MIN_LON must be below REGION_MAX_LON")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func envRegion(def domain.Region) (domain.Region, error) {
	r := domain.Region{}
	var err error
	if r.MinLat, err = envFloat("REGION_MIN_LAT", def.MinLat); err != nil {
		return r, err
	}
	if r.MaxLat, err = envFloat("REGION_MAX_LAT", def.MaxLat); err != nil {
		return r, err
	}
	if r.MinLon, err = envFloat("REGION_MIN_LON", def.MinLon); err != nil {
		return r, err
	}
	if r.MaxLon, err = envFloat("REGION_MAX_LON", def.MaxLon); err != nil {
		return r, err
	}
	return r, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
