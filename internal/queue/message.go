package queue

import (
	"github.com/sprintly/backend/pkg/pipeline"
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
)

// IngestQueue receives IngestJobMsg payloads.
const IngestQueue = "ingest_queue"

// IngestJobMsg asks a worker to import one uploaded export. Bucket falls
// back to the worker's configured bucket when empty.
type IngestJobMsg struct {
	RunID          string `json:"run_id" validate:"required"`
	OwnerID        int64  `json:"owner_id" validate:"gt=0"`
	Bucket         string `json:"bucket"`
	Key            string `json:"key" validate:"required"`
	SkipEnrichment bool   `json:"skip_enrichment"`
	MaxWorkers     int    `json:"max_workers,omitempty" validate:"omitempty,min=1,max=20"`
}

// ProgressEventMsg is published on ProgressTopic at every stage boundary.
type ProgressEventMsg struct {
	RunID    string            `json:"run_id"`
	Snapshot progress.Snapshot `json:"snapshot"`
}

// RunDoneMsg is published on DoneTopic once a run attempt ends.
type RunDoneMsg struct {
	RunID  string           `json:"run_id"`
	Status store.RunStatus  `json:"status"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func ProgressTopic(runID string) string {
	return "ingest.progress." + runID
}

func DoneTopic(runID string) string {
	return "ingest.done." + runID
}
