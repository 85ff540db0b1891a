package util

import (
	"github.com/sprintly/backend/pkg/progress"
	"github.com/sprintly/backend/pkg/store"
)

// RunStatus merges the live tracker and the persisted record. A live,
// unfinished tracker always wins; otherwise the record decides.
func RunStatus(tracker *progress.Tracker, record *store.Run) string {
	if tracker != nil && !tracker.Done() {
		return string(store.RunRunning)
	}
	if record != nil {
		return string(record.Status)
	}
	if tracker != nil {
		return "finished"
	}
	return "unknown"
}
