package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/metrics"
	"github.com/sprintly/backend/pkg/progress"

	"golang.org/x/sync/errgroup"
)

// enrich classifies every new entity with at most maxWorkers calls in
// flight. Failures degrade the entity and never abort the run. Once ctx is
// cancelled no further entity starts; calls already running finish on a
// detached context bounded by the call timeout.
func (c *Client) enrich(ctx context.Context, r *run) {
	entities := r.newEntities()
	started := r.startStage(progress.StageEnrich, int64(len(entities)))
	defer r.finishStage(progress.StageEnrich, started)

	var g errgroup.Group
	g.SetLimit(c.maxWorkers)
	for _, entity := range entities {
		if ctx.Err() != nil {
			break
		}
		e := entity
		g.Go(func() error {
			c.enrichEntity(ctx, r, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Client) enrichEntity(ctx context.Context, r *run, e *common.Entity) {
	if ctx.Err() != nil {
		return
	}

	in := ai.ClassifyInput{
		Name:     e.Name,
		Company:  e.Company,
		Position: e.Position,
	}
	detached := context.WithoutCancel(ctx)
	callStarted := time.Now()

	enrichment, attempts, err := util.RetryWithBackoff(ctx, c.backoff, ai.IsRetriable,
		func(_ context.Context, attempt int) (common.Enrichment, error) {
			callCtx, cancel := context.WithTimeout(detached, c.callTimeout)
			defer cancel()
			if c.limiter != nil {
				if err := c.limiter.Wait(callCtx); err != nil {
					return common.Enrichment{}, ai.Retriable("rate limiter", err)
				}
			}
			return c.classifier.Classify(callCtx, in)
		},
	)

	// The run aborts after this stage when cancelled, so an entity whose
	// retries were cut short stays pending instead of degraded.
	if err != nil && ctx.Err() != nil {
		return
	}

	if err != nil {
		e.Role = common.RoleUnknown
		e.EnrichmentStatus = common.EnrichmentDegraded
		e.Enrichment = nil
		r.tracker.Add(progress.CounterEnrichmentDegraded, 1)
		r.tracker.RecordError(fmt.Sprintf("classification of %s degraded: %v", e.Key, err))
		metrics.ObserveAICall("classify", metrics.OutcomeDegraded, time.Since(callStarted))
		r.log.Warn("[Enrich] Classification degraded",
			"identity_key", e.Key,
			"stage", progress.StageEnrich,
			"attempts", attempts,
			"err", err,
		)
	} else {
		now := c.now()
		e.Role = enrichment.Role
		if e.Role == "" {
			e.Role = common.RoleUnknown
		}
		e.Enrichment = &enrichment
		e.EnrichmentStatus = common.EnrichmentEnriched
		e.EnrichedAt = &now
		r.tracker.Add(progress.CounterEnriched, 1)
		metrics.ObserveAICall("classify", metrics.OutcomeOK, time.Since(callStarted))
	}
	r.tracker.Advance(progress.StageEnrich, 1)
}
