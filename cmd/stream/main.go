// ecml-stream - scores transactions consumed from Kafka
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Muneeb-Masood/EC-ML/internal/config"
	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/risk"
	"github.com/Muneeb-Masood/EC-ML/internal/stream"
	"github.com/Muneeb-Masood/EC-ML/internal/traces"
)

// Build info - set by ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("stream processor failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.KafkaBroker == "" {
		return errors.New("KAFKA_BROKER is required in stream mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var scorer ml.Scorer
	if cfg.MLEndpoint != "" {
		conn, err := ml.Dial(cfg.MLEndpoint)
		if err != nil {
			return err
		}
		defer conn.Close()
		scorer = conn
	}
	mlCfg := ml.DefaultConfig()
	mlCfg.Timeout = cfg.MLTimeout
	model := ml.NewService(scorer, mlCfg, logger)

	var store risk.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		store = risk.NewPostgresStore(db)
	}

	scoring := config.LoadScoring(cfg.ScoringConfig, logger)
	engine := risk.NewEngine(risk.ComponentsFromConfig(scoring, model, logger), store, logger)
	defer engine.Drain()

	streamCfg := stream.Config{
		Broker:       cfg.KafkaBroker,
		RequestTopic: cfg.KafkaRequestTopic,
		VerdictTopic: cfg.KafkaVerdictTopic,
		GroupID:      cfg.KafkaGroupID,
	}
	consumer, err := stream.NewConsumer(streamCfg)
	if err != nil {
		return err
	}
	defer consumer.Close()

	producer, err := stream.NewProducer(streamCfg)
	if err != nil {
		return err
	}
	publisher := stream.NewPublisher(producer, cfg.KafkaVerdictTopic, logger)
	defer publisher.Close()

	return stream.NewProcessor(consumer, publisher, engine, streamCfg, logger).Run(ctx)
}
