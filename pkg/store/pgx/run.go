package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sprintly/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const createRunSQL = `
INSERT INTO ingest_runs (id, owner_id, source, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`

const startRunSQL = `
UPDATE ingest_runs
SET status = $2, attempts = attempts + 1, started_at = now(), error = NULL
WHERE id = $1`

const finishRunSQL = `
UPDATE ingest_runs
SET status = $2, summary = $3, error = $4, finished_at = now()
WHERE id = $1`

const getRunSQL = `
SELECT id, owner_id, source, status, attempts, summary, COALESCE(error, ''),
	created_at, started_at, finished_at
FROM ingest_runs WHERE id = $1`

const insertReconciliationSQL = `
INSERT INTO graph_reconciliation (run_id, chunk, entity_ids, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id, chunk) DO UPDATE SET
	entity_ids = EXCLUDED.entity_ids,
	reason = EXCLUDED.reason,
	created_at = now()`

func (s *Store) CreateRun(ctx context.Context, run store.Run) error {
	status := run.Status
	if status == "" {
		status = store.RunQueued
	}
	if _, err := s.conn.Exec(ctx, createRunSQL, run.ID, run.OwnerID, run.Source, string(status)); err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) StartRun(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, startRunSQL, id, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("start run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// FinishRun records the terminal status of a run. summary is stored as JSON
// and may be nil.
func (s *Store) FinishRun(
	ctx context.Context,
	id string,
	status store.RunStatus,
	summary any,
	errMsg string,
) error {
	var payload []byte
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		payload = b
	}

	tag, err := s.conn.Exec(ctx, finishRunSQL, id, string(status), payload, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (store.Run, error) {
	var (
		run     store.Run
		status  string
		summary []byte
		started *time.Time
		ended   *time.Time
	)
	err := s.conn.QueryRow(ctx, getRunSQL, id).Scan(
		&run.ID,
		&run.OwnerID,
		&run.Source,
		&status,
		&run.Attempts,
		&summary,
		&run.Error,
		&run.CreatedAt,
		&started,
		&ended,
	)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}

	run.Status = store.RunStatus(status)
	run.StartedAt = started
	run.FinishedAt = ended
	if len(summary) > 0 {
		run.Summary = json.RawMessage(summary)
	}
	return run, nil
}

// SaveReconciliationCandidates stores chunks whose graph mirror failed so an
// external job can replay them from the relational store.
func (s *Store) SaveReconciliationCandidates(
	ctx context.Context,
	runID string,
	candidates []store.ReconciliationCandidate,
) error {
	if len(candidates) == 0 {
		return nil
	}

	batch := &pgxv5.Batch{}
	for _, c := range candidates {
		batch.Queue(insertReconciliationSQL, runID, c.Chunk, c.EntityIDs, c.Reason)
	}
	if err := s.conn.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save reconciliation candidates: %w", err)
	}
	return nil
}
