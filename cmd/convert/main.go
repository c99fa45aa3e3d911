package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	httpadapter "github.com/couchcryptid/wave-archive/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/wave-archive/internal/adapter/kafka"
	"github.com/couchcryptid/wave-archive/internal/config"
	"github.com/couchcryptid/wave-archive/internal/domain"
	"github.com/couchcryptid/wave-archive/internal/observability"
	"github.com/couchcryptid/wave-archive/internal/pipeline"
)

func main() {
	dates := flag.String("dates", "", "forecast dates: YYYYMMDD, a comma list, or an inclusive FROM..TO range")
	inputRoot := flag.String("input-root", "", "root of the downloaded source tree")
	outputRoot := flag.String("output-root", "", "directory receiving published stores")
	gridScale := flag.Int("grid-scale", 1, "grid coarsening factor, matching a genmock source tree")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	parsed, err := parseDates(*dates)
	if err != nil {
		logger.Error("invalid -dates", "error", err)
		os.Exit(1)
	}
	if len(parsed) == 0 || *inputRoot == "" || *outputRoot == "" {
		flag.Usage()
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	// Completion events are feature-flagged via KAFKA_ENABLED.
	var writer *kafkaadapter.Writer
	var pub pipeline.Publisher
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		pub = writer
		logger.Info("kafka completion events enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka completion events disabled")
	}

	conv, err := pipeline.NewConverter(pipeline.Options{
		SourceRoot:       *inputRoot,
		OutputRoot:       *outputRoot,
		Grid:             domain.GFSWaveQuarterDegree.Coarsen(*gridScale),
		Region:           cfg.Region,
		GapPolicy:        cfg.GapPolicy,
		Strict:           cfg.StrictMode,
		ChunkSteps:       cfg.ChunkSteps,
		Compressor:       cfg.Compressor,
		CompressionLevel: cfg.CompressionLevel,
		Workers:          cfg.AssembleWorkers,
	}, pub, logger, metrics)
	if err != nil {
		logger.Error("failed to build converter", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server when an address is configured.
	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, conv, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	logger.Info("starting conversion",
		"dates", len(parsed),
		"input", *inputRoot,
		"output", *outputRoot,
		"workers", cfg.ConvertWorkers,
	)

	reports := conv.RunDates(ctx, parsed, cfg.ConvertWorkers)

	failed := 0
	for _, rep := range reports {
		if rep.Failed() {
			failed++
		}
	}
	logger.Info("conversion finished", "dates", len(reports), "failed", failed)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		cancel()
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// parseDates expands the -dates argument into the list of cycles to convert.
func parseDates(s string) ([]domain.ForecastDate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if from, to, ok := strings.Cut(s, ".."); ok {
		a, err := domain.ParseForecastDate(strings.TrimSpace(from))
		if err != nil {
			return nil, err
		}
		b, err := domain.ParseForecastDate(strings.TrimSpace(to))
		if err != nil {
			return nil, err
		}
		if b.CycleTime().Before(a.CycleTime()) {
			return nil, fmt.Errorf("date range %q is reversed", s)
		}
		var out []domain.ForecastDate
		for d := a; !d.CycleTime().After(b.CycleTime()); d = d.Next() {
			out = append(out, d)
		}
		return out, nil
	}

	var out []domain.ForecastDate
	for _, part := range strings.Split(s, ",") {
		d, err := domain.ParseForecastDate(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
