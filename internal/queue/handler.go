package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sprintly/backend/internal/config"
	"github.com/sprintly/backend/pkg/leaselock"
	"github.com/sprintly/backend/pkg/loader"
	loadercsv "github.com/sprintly/backend/pkg/loader/csv"
	s3loader "github.com/sprintly/backend/pkg/loader/s3"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/pipeline"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
)

// PermanentError marks a message that will fail the same way on every
// delivery. Such messages skip the retry queue.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Runner executes one import.
type Runner interface {
	Run(ctx context.Context, params pipeline.RunParams) (*pipeline.Result, error)
}

// RunnerFactory builds a Runner honoring the per-job overrides.
type RunnerFactory func(job IngestJobMsg) (Runner, error)

// Leaser serializes work on a run id across workers.
type Leaser interface {
	WithRunLease(ctx context.Context, runID string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type Handler struct {
	runs      store.RunStore
	leases    Leaser
	leaseOpts leaselock.Options
	registry  *progress.Registry
	objects   s3loader.ObjectAPI
	bucket    string
	events    Publisher
	newRunner RunnerFactory
}

type NewHandlerParams struct {
	Runs         store.RunStore
	Leases       Leaser
	LeaseOptions leaselock.Options
	Registry     *progress.Registry
	Objects      s3loader.ObjectAPI
	Bucket       string
	// Events receives progress and completion events. Optional.
	Events    Publisher
	NewRunner RunnerFactory
}

func NewHandler(params NewHandlerParams) (*Handler, error) {
	if params.Runs == nil || params.Leases == nil || params.Objects == nil || params.NewRunner == nil {
		return nil, errors.New("queue handler requires runs, leases, objects and a runner factory")
	}
	registry := params.Registry
	if registry == nil {
		registry = progress.NewRegistry()
	}
	return &Handler{
		runs:      params.Runs,
		leases:    params.Leases,
		leaseOpts: params.LeaseOptions,
		registry:  registry,
		objects:   params.Objects,
		bucket:    params.Bucket,
		events:    params.Events,
		newRunner: params.NewRunner,
	}, nil
}

// ProcessIngestMessage runs the import described by body. The returned
// error is a *PermanentError when redelivery cannot help.
func (h *Handler) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var job IngestJobMsg
	if err := json.Unmarshal(body, &job); err != nil {
		return &PermanentError{Err: fmt.Errorf("decode ingest job: %w", err)}
	}
	if err := config.Validate(job); err != nil {
		return &PermanentError{Err: fmt.Errorf("invalid ingest job: %w", err)}
	}
	if job.Bucket == "" {
		job.Bucket = h.bucket
	}

	log := logger.With("run_id", job.RunID)
	log.Info("[Queue] Received ingest job", "owner_id", job.OwnerID, "bucket", job.Bucket, "key", job.Key)

	err := h.runs.CreateRun(ctx, store.Run{
		ID:      job.RunID,
		OwnerID: job.OwnerID,
		Source:  "s3://" + job.Bucket + "/" + job.Key,
		Status:  store.RunQueued,
	})
	if err != nil {
		return fmt.Errorf("create run record: %w", err)
	}

	return h.leases.WithRunLease(ctx, job.RunID, h.leaseOpts, func(leaseCtx context.Context) error {
		return h.execute(leaseCtx, job, log)
	})
}

func (h *Handler) execute(ctx context.Context, job IngestJobMsg, log *logger.Logger) error {
	runner, err := h.newRunner(job)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("build pipeline: %w", err)}
	}

	tracker := progress.NewTracker(job.RunID)
	if err := h.registry.Register(tracker); err != nil {
		return fmt.Errorf("register run: %w", err)
	}
	tracker.OnBoundary(func(snap progress.Snapshot) {
		h.publish(ProgressTopic(job.RunID), ProgressEventMsg{RunID: job.RunID, Snapshot: snap})
	})

	if err := h.runs.StartRun(ctx, job.RunID); err != nil {
		tracker.Finish()
		return fmt.Errorf("start run record: %w", err)
	}

	result, runErr := runner.Run(ctx, pipeline.RunParams{
		RunID:          job.RunID,
		OwnerID:        job.OwnerID,
		Source:         s3loader.NewSourceWithClient(h.objects, job.Bucket, job.Key),
		SkipEnrichment: job.SkipEnrichment,
		Tracker:        tracker,
	})

	// Bookkeeping must land even when the lease or the worker is shutting
	// down.
	storeCtx := context.WithoutCancel(ctx)

	if result != nil && len(result.ReconciliationCandidates) > 0 {
		if err := h.runs.SaveReconciliationCandidates(storeCtx, job.RunID, result.ReconciliationCandidates); err != nil {
			log.Error("[Queue] Failed to save reconciliation candidates", "count", len(result.ReconciliationCandidates), "err", err)
		}
	}

	status := store.RunCompleted
	errMsg := ""
	if runErr != nil {
		status = store.RunFailed
		errMsg = runErr.Error()
	}
	if err := h.runs.FinishRun(storeCtx, job.RunID, status, result, errMsg); err != nil {
		log.Error("[Queue] Failed to finish run record", "status", status, "err", err)
	}
	h.publish(DoneTopic(job.RunID), RunDoneMsg{RunID: job.RunID, Status: status, Result: result, Error: errMsg})

	if runErr != nil {
		if isPermanentRunError(runErr) {
			return &PermanentError{Err: runErr}
		}
		return runErr
	}
	return nil
}

func (h *Handler) publish(topic string, msg any) {
	if h.events == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[Queue] Failed to encode event", "topic", topic, "err", err)
		return
	}
	if err := PublishTopic(h.events, topic, data); err != nil {
		logger.Warn("[Queue] Failed to publish event", "topic", topic, "err", err)
	}
}

// isPermanentRunError reports failures caused by the input itself.
func isPermanentRunError(err error) bool {
	var malformed *loadercsv.MalformedInputError
	return errors.As(err, &malformed) ||
		errors.Is(err, loader.ErrSizeExceeded) ||
		errors.Is(err, pipeline.ErrOwnerNotFound)
}
