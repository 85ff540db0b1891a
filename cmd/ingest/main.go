package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sprintly/backend/internal/config"
	"github.com/sprintly/backend/internal/queue"
	"github.com/sprintly/backend/internal/setup"
	"github.com/sprintly/backend/internal/storage"
	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/loader/file"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/logger/console"
	"github.com/sprintly/backend/pkg/pipeline"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
	pgxstore "github.com/sprintly/backend/pkg/store/pgx"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/urfave/cli/v2"
)

const uploadPrefix = "uploads"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	jobFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to the connection export (CSV)",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "owner",
			Aliases:  []string{"o"},
			Usage:    "Entity id of the person who owns the export",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Run id (generated when empty)",
		},
		&cli.BoolFlag{
			Name:  "skip-enrichment",
			Usage: "Store new entities without classification or embeddings",
		},
		&cli.IntFlag{
			Name:  "max-workers",
			Usage: "Concurrent classification calls, 1-20 (0 uses the configured default)",
		},
	}

	return &cli.App{
		Name:      "ingest",
		Usage:     "Import connection exports into the entity and graph stores",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run an import locally and print its summary",
				Action: runCommand,
				Flags:  jobFlags,
			},
			{
				Name:   "submit",
				Usage:  "Upload an export and queue it for a worker",
				Action: submitCommand,
				Flags:  jobFlags,
			},
			{
				Name:   "status",
				Usage:  "Print the stored record of a run",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run-id",
						Usage:    "Run id",
						Required: true,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  c.Bool("debug"),
		Prefix: "ingest",
	}))
	return nil
}

// jobFromFlags validates the flags shared by run and submit.
func jobFromFlags(c *cli.Context) (queue.IngestJobMsg, error) {
	runID := c.String("run-id")
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return queue.IngestJobMsg{}, err
		}
		runID = id
	}
	job := queue.IngestJobMsg{
		RunID:          runID,
		OwnerID:        c.Int64("owner"),
		Key:            c.String("file"),
		SkipEnrichment: c.Bool("skip-enrichment"),
		MaxWorkers:     c.Int("max-workers"),
	}
	if err := config.Validate(job); err != nil {
		return job, fmt.Errorf("invalid arguments: %w", err)
	}
	return job, nil
}

func runCommand(c *cli.Context) error {
	job, err := jobFromFlags(c)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := setup.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	pool, err := setup.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	pgStore := pgxstore.NewStoreWithConnection(pool)

	params, err := setup.PipelineParams(cfg.Pipeline)
	if err != nil {
		return err
	}
	if job.MaxWorkers > 0 {
		params.MaxWorkers = job.MaxWorkers
	}
	params.Relational = pgStore

	graph, err := setup.NewGraphStore(ctx, cfg.Neo4j)
	if err != nil {
		return err
	}
	if graph != nil {
		defer graph.Close(context.Background())
		params.Graph = graph
	}

	aiClient, err := setup.NewAIClient(cfg.AI, cfg.Pipeline)
	if err != nil {
		return err
	}
	params.Classifier = aiClient
	params.Embedder = aiClient

	client, err := pipeline.NewClient(params)
	if err != nil {
		return err
	}

	src := file.NewSource(job.Key)
	if err := pgStore.CreateRun(ctx, store.Run{ID: job.RunID, OwnerID: job.OwnerID, Source: src.Name(), Status: store.RunQueued}); err != nil {
		return err
	}
	if err := pgStore.StartRun(ctx, job.RunID); err != nil {
		return err
	}

	tracker := progress.NewTracker(job.RunID)
	tracker.OnBoundary(func(s progress.Snapshot) {
		logger.Info("Stage", "stage", s.Stage, "finished", s.Finished, "current", s.Current, "total", s.Total)
	})

	result, runErr := client.Run(ctx, pipeline.RunParams{
		RunID:          job.RunID,
		OwnerID:        job.OwnerID,
		Source:         src,
		SkipEnrichment: job.SkipEnrichment,
		Tracker:        tracker,
	})

	storeCtx := context.WithoutCancel(ctx)
	if len(result.ReconciliationCandidates) > 0 {
		if err := pgStore.SaveReconciliationCandidates(storeCtx, job.RunID, result.ReconciliationCandidates); err != nil {
			logger.Error("Failed to save reconciliation candidates", "err", err)
		}
	}
	status, errMsg := store.RunCompleted, ""
	if runErr != nil {
		status, errMsg = store.RunFailed, runErr.Error()
	}
	if err := pgStore.FinishRun(storeCtx, job.RunID, status, result, errMsg); err != nil {
		logger.Error("Failed to finish run record", "err", err)
	}

	if err := writeJSON(c.App.Writer, result); err != nil {
		return err
	}
	return runErr
}

func submitCommand(c *cli.Context) error {
	job, err := jobFromFlags(c)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := c.Context

	f, err := os.Open(job.Key)
	if err != nil {
		return err
	}
	defer f.Close()

	s3Client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return err
	}
	key, err := storage.PutFile(ctx, s3Client, cfg.S3.Bucket, uploadPrefix, filepath.Base(job.Key), f)
	if err != nil {
		return err
	}
	job.Bucket = cfg.S3.Bucket
	job.Key = key

	if err := enqueue(ctx, cfg, job); err != nil {
		if delErr := storage.DeleteFile(context.WithoutCancel(ctx), s3Client, job.Bucket, key); delErr != nil {
			logger.Warn("Failed to remove orphaned upload", "key", key, "err", delErr)
		}
		return err
	}

	logger.Info("Run queued", "run_id", job.RunID, "key", key)
	return writeJSON(c.App.Writer, job)
}

// enqueue records the run as queued and publishes the job.
func enqueue(ctx context.Context, cfg *config.Config, job queue.IngestJobMsg) error {
	pool, err := setup.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	pgStore := pgxstore.NewStoreWithConnection(pool)
	if err := pgStore.CreateRun(ctx, store.Run{
		ID:      job.RunID,
		OwnerID: job.OwnerID,
		Source:  "s3://" + job.Bucket + "/" + job.Key,
		Status:  store.RunQueued,
	}); err != nil {
		return err
	}

	conn, err := queue.Init(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{cfg.RabbitMQ.Queue}, cfg.RabbitMQ.RetryDelay); err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := queue.PublishFIFO(ch, cfg.RabbitMQ.Queue, data); err != nil {
		return fmt.Errorf("failed to queue run: %w", err)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := setup.NewDBPool(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	run, err := pgxstore.NewStoreWithConnection(pool).GetRun(c.Context, c.String("run-id"))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %s not found", c.String("run-id"))
	}
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, run)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
