package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"
	loadercsv "github.com/sprintly/backend/pkg/loader/csv"
	"github.com/sprintly/backend/pkg/progress"
)

// ingestAndResolve streams records from src and resolves them window by
// window. The ingest stage starts once the counting pass is done, so its
// first snapshot already carries the total.
func (c *Client) ingestAndResolve(ctx context.Context, r *run, src loader.Source) (progress.Stage, error) {
	ingestStarted := time.Now()
	reader, err := loadercsv.Open(ctx, src, loadercsv.Options{
		MaxBytes: c.maxBytes,
		OnReject: func(rowErr *loadercsv.RowError) {
			r.tracker.Add(progress.CounterRejected, 1)
			r.tracker.Advance(progress.StageIngest, 1)
			r.tracker.RecordError(fmt.Sprintf("row %d rejected: %s", rowErr.Row, rowErr.Reason))
			r.log.Debug("[Ingest] Rejected row", "row", rowErr.Row, "reason", rowErr.Reason)
		},
	})
	if err != nil {
		return progress.StageIngest, err
	}
	defer reader.Close()

	total := int64(reader.Total())
	r.tracker.SetTotal(progress.StageIngest, total)
	r.tracker.StartStage(progress.StageIngest)
	resolveStarted := r.startStage(progress.StageResolve, total)

	seen := make(map[common.IdentityKey]struct{})
	window := make([]common.ConnectionRecord, 0, c.resolveWindow)
	for {
		if err := checkCancelled(ctx); err != nil {
			return progress.StageIngest, err
		}

		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return progress.StageIngest, fmt.Errorf("read input: %w", err)
		}
		r.tracker.Advance(progress.StageIngest, 1)

		window = append(window, record)
		if len(window) < c.resolveWindow {
			continue
		}
		if err := c.resolveBatch(ctx, r, window, seen); err != nil {
			return progress.StageResolve, err
		}
		window = window[:0]
	}
	if len(window) > 0 {
		if err := c.resolveBatch(ctx, r, window, seen); err != nil {
			return progress.StageResolve, err
		}
	}

	r.finishStage(progress.StageIngest, ingestStarted)
	r.tracker.SetTotal(progress.StageResolve, r.tracker.Snapshot(progress.StageResolve).Current)
	r.finishStage(progress.StageResolve, resolveStarted)

	r.log.Info("[Resolve] Records resolved",
		"total", total,
		"rejected", r.tracker.Count(progress.CounterRejected),
		"new", r.tracker.Count(progress.CounterNew),
		"existing", r.tracker.Count(progress.CounterExisting),
		"duplicate", r.tracker.Count(progress.CounterDuplicate),
	)
	return "", nil
}
