package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/metrics"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
)

// RunParams identifies one import.
type RunParams struct {
	RunID   string
	OwnerID int64
	Source  loader.Source
	// SkipEnrichment leaves new entities pending: neither classified nor
	// embedded.
	SkipEnrichment bool
	// Tracker receives progress. A new one is created when nil.
	Tracker *progress.Tracker
}

// Result is the report of a run.
type Result struct {
	progress.Summary
	ReconciliationCandidates []store.ReconciliationCandidate `json:"reconciliation_candidates"`
}

// resolved is one unique entity of a run in resolver order.
type resolved struct {
	entity      *common.Entity
	existing    bool
	connectedOn time.Time
}

type run struct {
	id      string
	ownerID int64
	skip    bool
	tracker *progress.Tracker
	log     *logger.Logger

	unique     []resolved
	candidates []store.ReconciliationCandidate
}

// Run executes every stage for params.Source. The returned Result is never
// nil; on failure the error is a *RunError and Result holds partial counts.
func (c *Client) Run(ctx context.Context, params RunParams) (*Result, error) {
	tracker := params.Tracker
	if tracker == nil {
		tracker = progress.NewTracker(params.RunID)
	}
	r := &run{
		id:      params.RunID,
		ownerID: params.OwnerID,
		skip:    params.SkipEnrichment,
		tracker: tracker,
		log:     logger.With("run_id", params.RunID),
	}

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	r.log.Info("[Pipeline] Starting run", "owner_id", r.ownerID, "source", sourceName(params.Source), "skip_enrichment", r.skip)

	if stage, err := c.execute(ctx, r, params.Source); err != nil {
		tracker.Finish()
		tracker.RecordError(fmt.Sprintf("%s: %v", stage, err))
		result := r.result()
		r.log.Error("[Pipeline] Run failed", "stage", stage, "err", err)
		metrics.RecordSummary(result.Summary, metrics.OutcomeFailed)
		return result, &RunError{
			RunID:    r.id,
			Stage:    stage,
			Err:      err,
			Snapshot: tracker.Snapshot(stage),
			Result:   result,
		}
	}

	tracker.Finish()
	result := r.result()
	metrics.RecordSummary(result.Summary, metrics.OutcomeOK)
	r.log.Info("[Pipeline] Run completed",
		"total", result.Total,
		"created", result.Created,
		"skipped", result.Skipped,
		"rejected", result.Rejected,
		"degraded_enrichment", result.DegradedEnrichmentCount,
		"degraded_embedding", result.DegradedEmbeddingCount,
		"reconciliation_candidates", len(result.ReconciliationCandidates),
		"elapsed_seconds", result.ElapsedSeconds,
	)
	return result, nil
}

// execute runs the stages in order and reports the stage a fatal error
// occurred in.
func (c *Client) execute(ctx context.Context, r *run, src loader.Source) (progress.Stage, error) {
	if src == nil {
		return progress.StageIngest, errors.New("run has no input source")
	}

	exists, err := c.relational.EntityExists(ctx, r.ownerID)
	if err != nil {
		return progress.StageIngest, fmt.Errorf("check owner: %w", err)
	}
	if !exists {
		return progress.StageIngest, fmt.Errorf("%w: %d", ErrOwnerNotFound, r.ownerID)
	}

	if stage, err := c.ingestAndResolve(ctx, r, src); err != nil {
		r.abandon()
		return stage, err
	}
	if err := checkCancelled(ctx); err != nil {
		r.abandon()
		return progress.StageResolve, err
	}

	if r.skip {
		r.skipStage(progress.StageEnrich)
		r.skipStage(progress.StageEmbed)
	} else {
		c.enrich(ctx, r)
		if err := checkCancelled(ctx); err != nil {
			r.abandon()
			return progress.StageEnrich, err
		}
		c.embed(ctx, r)
		if err := checkCancelled(ctx); err != nil {
			r.abandon()
			return progress.StageEmbed, err
		}
	}

	if err := c.commit(ctx, r); err != nil {
		return progress.StageCommit, err
	}
	return "", nil
}

func (r *run) result() *Result {
	return &Result{
		Summary:                  r.tracker.Summary(),
		ReconciliationCandidates: r.candidates,
	}
}

// newEntities returns the entities first seen in this run, in resolver
// order.
func (r *run) newEntities() []*common.Entity {
	out := make([]*common.Entity, 0, len(r.unique))
	for _, u := range r.unique {
		if !u.existing {
			out = append(out, u.entity)
		}
	}
	return out
}

// abandon counts every new entity as not attempted when the run stops
// before the commit stage.
func (r *run) abandon() {
	r.tracker.Add(progress.CounterNotAttempted, int64(len(r.newEntities())))
}

func (r *run) startStage(stage progress.Stage, total int64) time.Time {
	r.tracker.SetTotal(stage, total)
	r.tracker.StartStage(stage)
	return time.Now()
}

func (r *run) finishStage(stage progress.Stage, started time.Time) {
	r.tracker.FinishStage(stage)
	metrics.ObserveStage(stage, time.Since(started))
	snap := r.tracker.Snapshot(stage)
	r.log.Info("[Pipeline] Stage finished", "stage", stage, "current", snap.Current, "total", snap.Total, "elapsed_seconds", snap.ElapsedSeconds)
}

func (r *run) skipStage(stage progress.Stage) {
	r.tracker.SetTotal(stage, 0)
	r.tracker.FinishStage(stage)
	r.log.Info("[Pipeline] Stage skipped", "stage", stage)
}

func checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return nil
}

func sourceName(src loader.Source) string {
	if src == nil {
		return ""
	}
	return src.Name()
}
