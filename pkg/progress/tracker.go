package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage names one step of an import run.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageResolve Stage = "resolve"
	StageEnrich  Stage = "enrich"
	StageEmbed   Stage = "embed"
	StageCommit  Stage = "commit"
	StageMirror  Stage = "mirror"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageIngest, StageResolve, StageEnrich, StageEmbed, StageCommit, StageMirror}

// Counter names an aggregate count kept for the run summary.
type Counter string

const (
	CounterRejected           Counter = "rejected"
	CounterNew                Counter = "new"
	CounterExisting           Counter = "existing"
	CounterDuplicate          Counter = "duplicate"
	CounterEnriched           Counter = "enriched"
	CounterEnrichmentDegraded Counter = "enrichment_degraded"
	CounterEmbedded           Counter = "embedded"
	CounterEmbeddingDegraded  Counter = "embedding_degraded"
	CounterCreated            Counter = "created"
	CounterCommitted          Counter = "committed"
	CounterNotAttempted       Counter = "not_attempted"
	CounterMirrorFailed       Counter = "mirror_failed_chunks"
)

var counters = []Counter{
	CounterRejected, CounterNew, CounterExisting, CounterDuplicate,
	CounterEnriched, CounterEnrichmentDegraded, CounterEmbedded,
	CounterEmbeddingDegraded, CounterCreated, CounterCommitted,
	CounterNotAttempted, CounterMirrorFailed,
}

// Snapshot is an immutable view of one stage. Current never decreases
// within a run.
type Snapshot struct {
	RunID                     string    `json:"run_id"`
	Stage                     Stage     `json:"stage"`
	Current                   int64     `json:"current"`
	Total                     int64     `json:"total"`
	Percent                   float64   `json:"percent"`
	Started                   bool      `json:"started"`
	Finished                  bool      `json:"finished"`
	ElapsedSeconds            float64   `json:"elapsed_seconds"`
	EstimatedRemainingSeconds float64   `json:"estimated_remaining_seconds"`
	Timestamp                 time.Time `json:"timestamp"`
}

type stageState struct {
	current    atomic.Int64
	total      atomic.Int64
	startedAt  atomic.Int64
	finishedAt atomic.Int64
}

// Tracker holds the counters of a single run. All methods are safe for
// concurrent use; reads never block writers.
type Tracker struct {
	runID     string
	startedAt time.Time
	now       func() time.Time

	stages   map[Stage]*stageState
	counters map[Counter]*atomic.Int64
	active   atomic.Int32

	finishedAt atomic.Int64

	// mu guards the listener lists and recent errors. Listeners are
	// called without it held.
	mu               sync.Mutex
	hasListeners     atomic.Bool
	onAdvance        []func(Snapshot)
	onBoundary       []func(Snapshot)
	recentErrors     []string
	recentErrorsNext int

	// advanceMu keeps advance delivery in snapshot order.
	advanceMu sync.Mutex
}

// MaxRecentErrors bounds the messages kept by RecordError.
const MaxRecentErrors = 20

// NewTracker creates a tracker for runID, starting its clock now.
func NewTracker(runID string) *Tracker {
	return newTrackerWithClock(runID, time.Now)
}

func newTrackerWithClock(runID string, now func() time.Time) *Tracker {
	t := &Tracker{
		runID:     runID,
		startedAt: now(),
		now:       now,
		stages:    make(map[Stage]*stageState, len(Stages)),
		counters:  make(map[Counter]*atomic.Int64, len(counters)),
	}
	for _, s := range Stages {
		t.stages[s] = &stageState{}
	}
	for _, c := range counters {
		t.counters[c] = &atomic.Int64{}
	}
	return t
}

func (t *Tracker) RunID() string {
	return t.runID
}

// OnAdvance registers fn to receive a snapshot after every Advance. Calls
// are serialized and delivered in non-decreasing order of Current.
func (t *Tracker) OnAdvance(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAdvance = append(t.onAdvance, fn)
	t.hasListeners.Store(true)
}

// OnBoundary registers fn to receive a snapshot when a stage starts or
// finishes.
func (t *Tracker) OnBoundary(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBoundary = append(t.onBoundary, fn)
	t.hasListeners.Store(true)
}

// SetTotal sets the expected amount of work for stage.
func (t *Tracker) SetTotal(stage Stage, total int64) {
	if st, ok := t.stages[stage]; ok {
		st.total.Store(max(total, 0))
	}
}

// StartStage marks stage as active and notifies boundary listeners.
func (t *Tracker) StartStage(stage Stage) {
	st, ok := t.stages[stage]
	if !ok {
		return
	}
	st.startedAt.CompareAndSwap(0, t.now().UnixNano())
	for i, s := range Stages {
		if s == stage {
			t.active.Store(int32(i))
		}
	}
	t.emit(stage, true)
}

// FinishStage marks stage as finished and notifies boundary listeners.
func (t *Tracker) FinishStage(stage Stage) {
	st, ok := t.stages[stage]
	if !ok {
		return
	}
	st.startedAt.CompareAndSwap(0, t.now().UnixNano())
	st.finishedAt.CompareAndSwap(0, t.now().UnixNano())
	t.emit(stage, true)
}

// Advance adds n units of completed work to stage. Negative n is ignored.
func (t *Tracker) Advance(stage Stage, n int64) {
	st, ok := t.stages[stage]
	if !ok || n <= 0 {
		return
	}
	st.current.Add(n)
	t.emit(stage, false)
}

// Add increments a summary counter. Negative n is ignored.
func (t *Tracker) Add(counter Counter, n int64) {
	if c, ok := t.counters[counter]; ok && n > 0 {
		c.Add(n)
	}
}

// Count returns the current value of a summary counter.
func (t *Tracker) Count(counter Counter) int64 {
	if c, ok := t.counters[counter]; ok {
		return c.Load()
	}
	return 0
}

// Finish stops the run clock.
func (t *Tracker) Finish() {
	t.finishedAt.CompareAndSwap(0, t.now().UnixNano())
}

// Done reports whether Finish has been called.
func (t *Tracker) Done() bool {
	return t.finishedAt.Load() != 0
}

// FinishedAt returns when Finish was called, or the zero time.
func (t *Tracker) FinishedAt() time.Time {
	ns := t.finishedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Elapsed is the wall time since the tracker was created, frozen by Finish.
func (t *Tracker) Elapsed() time.Duration {
	if ns := t.finishedAt.Load(); ns != 0 {
		return time.Unix(0, ns).Sub(t.startedAt)
	}
	return t.now().Sub(t.startedAt)
}

// ActiveStage returns the most recently started stage.
func (t *Tracker) ActiveStage() Stage {
	return Stages[t.active.Load()]
}

// Snapshot returns the state of stage.
func (t *Tracker) Snapshot(stage Stage) Snapshot {
	snap := Snapshot{RunID: t.runID, Stage: stage, Timestamp: t.now()}
	st, ok := t.stages[stage]
	if !ok {
		return snap
	}

	snap.Current = st.current.Load()
	snap.Total = st.total.Load()
	if snap.Total > 0 {
		snap.Percent = min(float64(snap.Current)/float64(snap.Total)*100, 100)
	}

	started := st.startedAt.Load()
	finished := st.finishedAt.Load()
	snap.Started = started != 0
	snap.Finished = finished != 0
	if !snap.Started {
		return snap
	}

	end := snap.Timestamp
	if snap.Finished {
		end = time.Unix(0, finished)
	}
	elapsed := end.Sub(time.Unix(0, started)).Seconds()
	snap.ElapsedSeconds = elapsed
	if !snap.Finished && snap.Current > 0 && snap.Total > snap.Current {
		snap.EstimatedRemainingSeconds = elapsed / float64(snap.Current) * float64(snap.Total-snap.Current)
	}
	return snap
}

// Snapshots returns a snapshot of every stage in execution order.
func (t *Tracker) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(Stages))
	for _, s := range Stages {
		out = append(out, t.Snapshot(s))
	}
	return out
}

// Current returns the snapshot of the active stage.
func (t *Tracker) Current() Snapshot {
	return t.Snapshot(t.ActiveStage())
}

// RecordError keeps msg among the most recent failure messages of the run.
func (t *Tracker) RecordError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.recentErrors) < MaxRecentErrors {
		t.recentErrors = append(t.recentErrors, msg)
		return
	}
	t.recentErrors[t.recentErrorsNext] = msg
	t.recentErrorsNext = (t.recentErrorsNext + 1) % MaxRecentErrors
}

// Errors returns the recent failure messages, oldest first.
func (t *Tracker) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.recentErrors))
	out = append(out, t.recentErrors[t.recentErrorsNext:]...)
	return append(out, t.recentErrors[:t.recentErrorsNext]...)
}

func (t *Tracker) listeners(boundary bool) []func(Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if boundary {
		return t.onBoundary
	}
	return t.onAdvance
}

func (t *Tracker) emit(stage Stage, boundary bool) {
	if !t.hasListeners.Load() {
		return
	}
	listeners := t.listeners(boundary)
	if len(listeners) == 0 {
		return
	}

	if !boundary {
		t.advanceMu.Lock()
		defer t.advanceMu.Unlock()
	}
	snap := t.Snapshot(stage)
	for _, fn := range listeners {
		fn(snap)
	}
}
