package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sprintly/backend/pkg/common"
)

// ErrNotFound is returned when a looked up record does not exist.
var ErrNotFound = errors.New("not found")

// PendingConnection is a connection whose target may not have an id yet.
// The target id is resolved inside the transaction that creates it.
type PendingConnection struct {
	SourceID    int64
	Target      *common.Entity
	Type        string
	ConnectedOn time.Time
	Source      string
	Strength    float64
}

// Chunk is the unit of one relational transaction.
type Chunk struct {
	Index int
	// Entities lists the entities to create. Their IDs are set once the
	// transaction commits.
	Entities    []*common.Entity
	Connections []PendingConnection
}

// ChunkResult reports what a committed chunk wrote.
type ChunkResult struct {
	// Created counts entities inserted by this chunk. Entities whose key was
	// inserted concurrently by another run resolve to the existing row and
	// are not counted.
	Created     int
	Connections []common.Connection
}

// RelationalStore is the source of truth for entities and connections.
type RelationalStore interface {
	// LookupEntities returns the ids of the keys that already exist.
	LookupEntities(ctx context.Context, keys []common.IdentityKey) (map[common.IdentityKey]int64, error)
	EntityExists(ctx context.Context, id int64) (bool, error)
	// CommitChunk writes a chunk atomically. On error nothing of the chunk
	// is persisted and no entity id is assigned.
	CommitChunk(ctx context.Context, chunk *Chunk) (ChunkResult, error)
}

// GraphStore is the derived projection used for path discovery. Writes are
// idempotent upserts keyed by relational id.
type GraphStore interface {
	MirrorChunk(ctx context.Context, entities []*common.Entity, connections []common.Connection) error
}

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the persisted record of an import run.
type Run struct {
	ID         string          `json:"run_id"`
	OwnerID    int64           `json:"owner_id"`
	Source     string          `json:"source"`
	Status     RunStatus       `json:"status"`
	Attempts   int             `json:"attempts"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ReconciliationCandidate is a committed chunk whose graph mirror failed.
type ReconciliationCandidate struct {
	Chunk     int     `json:"chunk"`
	EntityIDs []int64 `json:"entity_ids"`
	Reason    string  `json:"reason"`
}

// RunStore persists run bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	StartRun(ctx context.Context, id string) error
	FinishRun(ctx context.Context, id string, status RunStatus, summary any, errMsg string) error
	GetRun(ctx context.Context, id string) (Run, error)
	SaveReconciliationCandidates(ctx context.Context, runID string, candidates []ReconciliationCandidate) error
}
