// Package main is the entry point for the supply/demand and Fibonacci
// market structure analyzer: it wires configuration, persistence, bar
// ingestion, the pipeline supervisor, and the read-only dashboard together
// and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketstructure/sdfib-analyzer/internal/analyzer"
	"github.com/marketstructure/sdfib-analyzer/internal/barsource"
	"github.com/marketstructure/sdfib-analyzer/internal/config"
	"github.com/marketstructure/sdfib-analyzer/internal/dashboard"
	"github.com/marketstructure/sdfib-analyzer/internal/metrics"
	"github.com/marketstructure/sdfib-analyzer/internal/pipelinepool"
	"github.com/marketstructure/sdfib-analyzer/internal/repository"
	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting supply/demand & fibonacci structure analyzer",
		zap.Strings("symbols", cfg.Symbols),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.NewFileRepository(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize repository", zap.Error(err))
	}

	m := metrics.NewDefault()
	facade := analyzer.NewWithMetrics(cfg, logger, m)

	supervisor := pipelinepool.NewSupervisor(logger, facade, cfg.Pipeline)

	// liveBars is the injection point for a market data adapter: nothing in
	// this repository feeds it, so ingestion is idle until one is wired in.
	liveBars := make(chan types.Bar)
	go func() {
		src := barsource.NewChannelSource(liveBars)
		if err := barsource.Run(ctx, src, supervisorConsumer{ctx: ctx, supervisor: supervisor}); err != nil && ctx.Err() == nil {
			logger.Error("bar source terminated", zap.Error(err))
		}
	}()

	deltas, unsubscribe := facade.Subscribe()
	go persistDeltas(logger, repo, deltas)

	server := dashboard.NewServer(logger, cfg.Server, facade)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("dashboard server error", zap.Error(err))
		}
	}()

	logger.Info("analyzer started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	supervisor.Stop()
	unsubscribe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during dashboard shutdown", zap.Error(err))
	}

	logger.Info("analyzer stopped")
}

// supervisorConsumer adapts a pipelinepool.Supervisor to barsource.Consumer
// so a BarSource can feed it without either package depending on the other.
type supervisorConsumer struct {
	ctx        context.Context
	supervisor *pipelinepool.Supervisor
}

func (c supervisorConsumer) OnBar(bar types.Bar) (*types.AnalysisDelta, error) {
	return nil, c.supervisor.Submit(c.ctx, bar)
}

// persistDeltas writes every zone created or transitioned by the analyzer to
// the repository so dashboard restarts and historical queries survive a
// process restart.
func persistDeltas(logger *zap.Logger, repo *repository.FileRepository, deltas <-chan types.AnalysisDelta) {
	for delta := range deltas {
		for _, zone := range delta.NewZones {
			if err := repo.SaveZone(zone); err != nil {
				logger.Error("failed to persist new zone", zap.String("zone_id", zone.ID), zap.Error(err))
			}
		}
		for _, update := range delta.StateUpdates {
			if err := repo.SaveStateUpdate(update); err != nil {
				logger.Error("failed to persist zone state update", zap.String("zone_id", update.ZoneID), zap.Error(err))
			}
			if zone, ok, err := repo.GetZone(update.ZoneID); err == nil && ok {
				zone.Status = update.NewStatus
				if err := repo.UpdateZone(zone); err != nil {
					logger.Error("failed to apply zone state update", zap.String("zone_id", update.ZoneID), zap.Error(err))
				}
			}
		}
		for _, event := range delta.TestEvents {
			if err := repo.SaveTestEvent(event); err != nil {
				logger.Error("failed to persist zone test event", zap.String("zone_id", event.ZoneID), zap.Error(err))
			}
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
