package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sprintly/backend/internal/config"
	"github.com/sprintly/backend/internal/queue"
	"github.com/sprintly/backend/internal/server"
	"github.com/sprintly/backend/internal/setup"
	"github.com/sprintly/backend/internal/storage"
	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/leaselock"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/logger/console"
	"github.com/sprintly/backend/pkg/metrics"
	"github.com/sprintly/backend/pkg/pipeline"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
	pgxstore "github.com/sprintly/backend/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		console.NewConsoleLogger(console.ConsoleLoggerParams{}).Fatal("Invalid configuration", "err", err)
	}

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// Init pgx client
	if err := setup.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := setup.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgStore := pgxstore.NewStoreWithConnection(pgConn)

	// Graph mirror
	var graph store.GraphStore
	graphStore, err := setup.NewGraphStore(ctx, cfg.Neo4j)
	if err != nil {
		logger.Fatal("Unable to connect to neo4j", "err", err)
	}
	if graphStore != nil {
		defer graphStore.Close(context.Background())
		graph = graphStore
	}

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("Unable to create s3 client", "err", err)
	}

	aiClient, err := setup.NewAIClient(cfg.AI, cfg.Pipeline)
	if err != nil {
		logger.Fatal("Unable to create AI client", "err", err)
	}

	baseParams, err := setup.PipelineParams(cfg.Pipeline)
	if err != nil {
		logger.Fatal("Invalid pipeline configuration", "err", err)
	}
	baseParams.Classifier = aiClient
	baseParams.Embedder = aiClient
	baseParams.Relational = pgStore
	baseParams.Graph = graph

	// Init rabbitmq
	conn, err := queue.Init(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("Unable to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queueName := cfg.RabbitMQ.Queue
	if err := queue.SetupQueues(ch, []string{queueName}, cfg.RabbitMQ.RetryDelay); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	hostname, _ := os.Hostname()
	registry := progress.NewRegistry()
	handler, err := queue.NewHandler(queue.NewHandlerParams{
		Runs:     pgStore,
		Leases:   leaselock.New(pgConn, fmt.Sprintf("%s:%d", hostname, os.Getpid())),
		Registry: registry,
		Objects:  s3Client,
		Bucket:   cfg.S3.Bucket,
		Events:   ch,
		NewRunner: func(job queue.IngestJobMsg) (queue.Runner, error) {
			params := baseParams
			if job.MaxWorkers > 0 {
				params.MaxWorkers = job.MaxWorkers
			}
			return pipeline.NewClient(params)
		},
	})
	if err != nil {
		logger.Fatal("Failed to create queue handler", "err", err)
	}

	// Status API
	e := server.New(registry, pgStore)
	go func() {
		if err := server.Start(ctx, e, cfg.Server.Port); err != nil {
			logger.Error("Status server stopped", "err", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				metrics.UpdateSystemMetrics()
				if n := registry.Prune(now, cfg.Server.RunRetention); n > 0 {
					logger.Debug("Pruned finished runs", "count", n)
				}
			}
		}
	}()

	// A dedicated consumer channel with prefetch=1 keeps one run per worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
	}

	logger.Info("Listening for messages", "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queueName)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queueName)

			if err := handler.ProcessIngestMessage(ctx, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queueName, "err", err)
				queue.HandleProcessingError(consumerCh, msg, queueName, cfg.RabbitMQ.MaxRetries, queue.IsPermanent(err))
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queueName)
			}

			logAIMetrics(aiClient)

			processingDuration := time.Since(startTime)
			logger.Info("Processing time", "duration", formatDuration(processingDuration))
			logger.Info("Waiting for next message")
		}
	}
}

func logAIMetrics(client any) {
	reporter, ok := client.(ai.MetricsReporter)
	if !ok {
		return
	}
	m := reporter.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", m.InputTokens,
		"output_tokens", m.OutputTokens,
		"total_tokens", m.TotalTokens,
		"duration", formatDuration(time.Duration(m.DurationMs)*time.Millisecond),
	)
	reporter.ResetMetrics()
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
