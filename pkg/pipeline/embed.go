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
	"github.com/sprintly/backend/pkg/store"
)

// embed computes vectors for new entities in batches of batchSize, in
// resolver order, one batch at a time. A batch that fails after one retry,
// or whose response length differs from the request, is degraded as a
// whole and the next batch proceeds. Once ctx is cancelled no further batch
// is sent and the remaining entities stay pending; a call already running
// finishes on a detached context bounded by the embedding timeout.
func (c *Client) embed(ctx context.Context, r *run) {
	entities := r.newEntities()
	started := r.startStage(progress.StageEmbed, int64(len(entities)))
	defer r.finishStage(progress.StageEmbed, started)

	batches := store.ChunkCount(len(entities), c.batchSize)
	batch := 0
	_ = store.ChunkRange(len(entities), c.batchSize, func(start, end int) error {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		batch++
		c.embedBatch(ctx, r, entities[start:end], batch, batches)
		return nil
	})
}

func (c *Client) embedBatch(ctx context.Context, r *run, entities []*common.Entity, batch, batches int) {
	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = c.truncator.Truncate(ai.EmbeddingText(e))
	}

	schedule := c.backoff
	schedule.MaxAttempts = 2
	detached := context.WithoutCancel(ctx)
	callStarted := time.Now()

	vectors, attempts, err := util.RetryWithBackoff(ctx, schedule, ai.IsRetriable,
		func(_ context.Context, attempt int) ([][]float32, error) {
			callCtx, cancel := context.WithTimeout(detached, c.embedTimeout)
			defer cancel()

			vectors, err := c.embedder.Embed(callCtx, texts)
			if err != nil {
				return nil, err
			}
			if err := checkVectors(vectors, len(texts)); err != nil {
				return nil, ai.Fatal("invalid embedding batch", err)
			}
			return vectors, nil
		},
	)
	n := int64(len(entities))

	// A retry cut short by cancellation leaves the batch pending.
	if err != nil && ctx.Err() != nil {
		return
	}

	if err != nil {
		for _, e := range entities {
			e.Embedding = nil
			e.EmbeddingStatus = common.EmbeddingDegraded
		}
		r.tracker.Add(progress.CounterEmbeddingDegraded, n)
		r.tracker.RecordError(fmt.Sprintf("embedding batch %d/%d degraded: %v", batch, batches, err))
		metrics.ObserveAICall("embed", metrics.OutcomeDegraded, time.Since(callStarted))
		r.log.Warn("[Embed] Batch degraded",
			"batch", batch,
			"batches", batches,
			"entities", n,
			"first_identity_key", entities[0].Key,
			"stage", progress.StageEmbed,
			"attempts", attempts,
			"err", err,
		)
	} else {
		for i, e := range entities {
			e.Embedding = vectors[i]
			e.EmbeddingStatus = common.EmbeddingEmbedded
		}
		r.tracker.Add(progress.CounterEmbedded, n)
		metrics.ObserveAICall("embed", metrics.OutcomeOK, time.Since(callStarted))
		r.log.Debug("[Embed] Batch embedded", "batch", batch, "batches", batches, "entities", n)
	}
	r.tracker.Advance(progress.StageEmbed, n)
}

func checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: requested %d, received %d", ErrBatchLengthMismatch, want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at index %d", ErrBatchLengthMismatch, i)
		}
	}
	return nil
}
