package progress

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRunExists is returned when a run id is registered twice.
var ErrRunExists = errors.New("run already registered")

// Registry maps run ids to their trackers so concurrent runs never share
// counters.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Tracker
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Tracker)}
}

// Register adds t. A finished tracker with the same id is replaced.
func (r *Registry) Register(t *Tracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[t.RunID()]; ok && !existing.Done() {
		return ErrRunExists
	}
	r.runs[t.RunID()] = t
	return nil
}

func (r *Registry) Get(runID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.runs[runID]
	return t, ok
}

func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// RunIDs returns the registered run ids in sorted order.
func (r *Registry) RunIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune drops trackers that finished more than retention ago.
func (r *Registry) Prune(now time.Time, retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.runs {
		if t.Done() && now.Sub(t.FinishedAt()) > retention {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
