package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
)

// commit writes the unique entities in chunks of commitChunkSize. Each chunk
// is one relational transaction followed by a best-effort graph mirror.
// A failed chunk aborts the run and every later chunk counts as not
// attempted. Cancellation is honoured between chunks.
func (c *Client) commit(ctx context.Context, r *run) error {
	total := len(r.unique)
	chunks := store.ChunkCount(total, c.commitChunkSize)

	mirrorTotal := int64(chunks)
	if c.graph == nil {
		mirrorTotal = 0
		r.log.Info("[Mirror] No graph store configured, mirroring disabled")
	}
	commitStarted := r.startStage(progress.StageCommit, int64(total))
	mirrorStarted := r.startStage(progress.StageMirror, mirrorTotal)

	// Store calls must not be cut by cancellation mid-transaction.
	storeCtx := context.WithoutCancel(ctx)

	chunk := 0
	err := store.ChunkRange(total, c.commitChunkSize, func(start, end int) error {
		chunk++
		if err := checkCancelled(ctx); err != nil {
			r.tracker.Add(progress.CounterNotAttempted, countNew(r.unique[start:]))
			return err
		}

		window := r.unique[start:end]
		result, err := c.relational.CommitChunk(storeCtx, r.buildChunk(chunk, window))
		if err != nil {
			r.tracker.Add(progress.CounterNotAttempted, countNew(r.unique[start:]))
			return &CommitError{Chunk: chunk, Chunks: chunks, Err: err}
		}

		inserted := countNew(window)
		r.tracker.Add(progress.CounterCreated, int64(result.Created))
		// Keys inserted by a concurrent run between lookup and commit.
		r.tracker.Add(progress.CounterExisting, inserted-int64(result.Created))
		r.tracker.Add(progress.CounterCommitted, int64(len(window)))
		r.tracker.Advance(progress.StageCommit, int64(len(window)))
		r.log.Debug("[Commit] Chunk committed", "chunk", chunk, "chunks", chunks, "created", result.Created, "connections", len(result.Connections))

		c.mirror(storeCtx, r, chunk, window, result.Connections)
		return nil
	})

	r.finishStage(progress.StageCommit, commitStarted)
	r.finishStage(progress.StageMirror, mirrorStarted)
	return err
}

// buildChunk collects the entities to insert and the owner connection of
// every entity in window.
func (r *run) buildChunk(index int, window []resolved) *store.Chunk {
	chunk := &store.Chunk{
		Index:       index,
		Entities:    make([]*common.Entity, 0, len(window)),
		Connections: make([]store.PendingConnection, 0, len(window)),
	}
	for _, u := range window {
		if !u.existing {
			chunk.Entities = append(chunk.Entities, u.entity)
		}
		if u.existing && u.entity.ID == r.ownerID {
			continue
		}
		chunk.Connections = append(chunk.Connections, store.PendingConnection{
			SourceID:    r.ownerID,
			Target:      u.entity,
			Type:        common.RelationshipConnectedTo,
			ConnectedOn: u.connectedOn,
			Source:      ConnectionSource,
			Strength:    ConnectionStrength,
		})
	}
	return chunk
}

// mirror projects a committed chunk into the graph store. A failure is
// recorded as a reconciliation candidate; relational data stays committed.
func (c *Client) mirror(
	ctx context.Context,
	r *run,
	chunk int,
	window []resolved,
	connections []common.Connection,
) {
	if c.graph == nil {
		return
	}
	defer r.tracker.Advance(progress.StageMirror, 1)

	nodes := make([]*common.Entity, 0, len(window))
	ids := make([]int64, 0, len(window))
	for _, u := range window {
		ids = append(ids, u.entity.ID)
		if !u.existing {
			nodes = append(nodes, u.entity)
		}
	}

	started := time.Now()
	if err := c.graph.MirrorChunk(ctx, nodes, connections); err != nil {
		r.tracker.Add(progress.CounterMirrorFailed, 1)
		r.tracker.RecordError(fmt.Sprintf("graph mirror of chunk %d failed: %v", chunk, err))
		r.candidates = append(r.candidates, store.ReconciliationCandidate{
			Chunk:     chunk,
			EntityIDs: ids,
			Reason:    err.Error(),
		})
		r.log.Warn("[Mirror] Graph mirror failed, chunk needs reconciliation",
			"chunk", chunk,
			"entities", len(ids),
			"stage", progress.StageMirror,
			"err", err,
		)
		return
	}
	r.log.Debug("[Mirror] Chunk mirrored", "chunk", chunk, "nodes", len(nodes), "relationships", len(connections), "elapsed", time.Since(started))
}

func countNew(window []resolved) int64 {
	var n int64
	for _, u := range window {
		if !u.existing {
			n++
		}
	}
	return n
}
