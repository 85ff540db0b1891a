package pipeline

import (
	"errors"
	"fmt"

	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/progress"
)

var (
	ErrOwnerNotFound = errors.New("owner entity not found")
	ErrCancelled     = errors.New("run cancelled")
	// ErrBatchLengthMismatch marks an embedding batch whose response did not
	// carry one vector per input.
	ErrBatchLengthMismatch = ai.ErrEmbeddingMismatch
)

// CommitError reports a relational chunk that rolled back. Chunks are
// numbered from 1.
type CommitError struct {
	Chunk  int
	Chunks int
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit chunk %d of %d failed: %v", e.Chunk, e.Chunks, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// RunError is returned for every fatal run failure. Result holds the counts
// reached before the failure.
type RunError struct {
	RunID    string
	Stage    progress.Stage
	Err      error
	Snapshot progress.Snapshot
	Result   *Result
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed during %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
