package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"
	loadercsv "github.com/sprintly/backend/pkg/loader/csv"
	"github.com/sprintly/backend/pkg/progress"
)

func assertConserved(t *testing.T, s progress.Summary) {
	t.Helper()
	if s.Created+s.Skipped+s.Rejected+s.NotAttempted != s.Total {
		t.Fatalf("rows not conserved: created=%d skipped=%d rejected=%d not_attempted=%d total=%d",
			s.Created, s.Skipped, s.Rejected, s.NotAttempted, s.Total)
	}
}

func TestRun_ResolvesDuplicatesWithinRun(t *testing.T) {
	h := newHarness()
	tracker := progress.NewTracker("run-a")
	data := csvHeader +
		csvRow("Ada", "Lovelace", "Acme") +
		csvRow("Grace", "Hopper", "Navy") +
		csvRow("ada", " Lovelace", "ACME")

	res, err := h.client().Run(context.Background(), RunParams{
		RunID:   "run-a",
		OwnerID: testOwnerID,
		Source:  source(data),
		Tracker: tracker,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := tracker.Count(progress.CounterNew); n != 2 {
		t.Fatalf("expected new=2, got %d", n)
	}
	if n := tracker.Count(progress.CounterExisting); n != 0 {
		t.Fatalf("expected existing=0, got %d", n)
	}
	if n := tracker.Count(progress.CounterDuplicate); n != 1 {
		t.Fatalf("expected duplicate=1, got %d", n)
	}
	if res.Total != 3 || res.Created != 2 || res.SkippedDuplicate != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	assertConserved(t, res.Summary)

	if len(h.relational.connections) != 2 {
		t.Fatalf("expected 2 owner connections, got %d", len(h.relational.connections))
	}
	for key, conn := range h.relational.connections {
		if key[0] != testOwnerID || conn.Type != common.RelationshipConnectedTo || conn.Source != ConnectionSource || conn.Strength != 1 {
			t.Fatalf("unexpected connection %+v", conn)
		}
	}
}

func TestRun_SecondRunCreatesNothing(t *testing.T) {
	h := newHarness()
	data := csvRows(7) + csvRow("Person0", "Test", "Company0")

	first, err := h.run(context.Background(), data)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Created != 7 {
		t.Fatalf("expected 7 created, got %d", first.Created)
	}

	tracker := progress.NewTracker("run-2")
	second, err := h.client().Run(context.Background(), RunParams{
		RunID:   "run-2",
		OwnerID: testOwnerID,
		Source:  source(data),
		Tracker: tracker,
	})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if n := tracker.Count(progress.CounterNew); n != 0 {
		t.Fatalf("expected new=0 on second run, got %d", n)
	}
	if second.Created != 0 || second.SkippedExisting != 7 || second.SkippedDuplicate != 1 {
		t.Fatalf("unexpected second summary %+v", second.Summary)
	}
	assertConserved(t, second.Summary)
	if h.relational.entityCount() != 7 {
		t.Fatalf("expected 7 stored entities, got %d", h.relational.entityCount())
	}
	if calls := h.classifier.calls.Load(); calls != 7 {
		t.Fatalf("existing entities must not be classified again, got %d calls", calls)
	}
}

func TestRun_DegradesEntityWhenClassifierKeepsFailing(t *testing.T) {
	h := newHarness()
	var bobCalls atomic.Int64
	h.classifier.fn = func(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
		if in.Name == "Bob Builder" {
			bobCalls.Add(1)
			return common.Enrichment{}, ai.Retriable("rate limited", errors.New("429"))
		}
		return common.Enrichment{Role: common.RoleInvestor, Confidence: 0.9, SectorFocus: []string{"fintech"}}, nil
	}
	data := csvHeader + csvRow("Alice", "Angel", "Seed Co") + csvRow("Bob", "Builder", "Build Inc")

	res, err := h.run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	bob, ok := h.relational.entityByKey("bob builder|build inc")
	if !ok {
		t.Fatal("degraded entity was not persisted")
	}
	if bob.Role != common.RoleUnknown || bob.EnrichmentStatus != common.EnrichmentDegraded {
		t.Fatalf("unexpected degraded entity %+v", bob)
	}
	if got := bobCalls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	alice, _ := h.relational.entityByKey("alice angel|seed co")
	if alice.Role != common.RoleInvestor || alice.EnrichmentStatus != common.EnrichmentEnriched || alice.EnrichedAt == nil {
		t.Fatalf("unexpected enriched entity %+v", alice)
	}
	if res.Created != 2 || res.DegradedEnrichmentCount != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
}

func TestRun_FatalClassifierErrorIsNotRetried(t *testing.T) {
	h := newHarness()
	h.classifier.fn = func(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
		return common.Enrichment{}, ai.Fatal("bad request", errors.New("400"))
	}

	res, err := h.run(context.Background(), csvRows(1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls := h.classifier.calls.Load(); calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if res.DegradedEnrichmentCount != 1 {
		t.Fatalf("expected one degraded entity, got %d", res.DegradedEnrichmentCount)
	}
}

func TestRun_DegradesMisalignedEmbeddingBatch(t *testing.T) {
	h := newHarness()
	h.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		if call == 2 {
			return vectorsFor(len(texts) - 1), nil
		}
		return vectorsFor(len(texts)), nil
	}

	res, err := h.run(context.Background(), csvRows(4500))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.embedder.calls != 3 {
		t.Fatalf("expected 3 embedding calls, got %d", h.embedder.calls)
	}
	if h.embedder.sizes[0] != 2000 || h.embedder.sizes[1] != 2000 || h.embedder.sizes[2] != 500 {
		t.Fatalf("unexpected batch sizes %v", h.embedder.sizes)
	}
	if res.DegradedEmbeddingCount != 2000 || res.Created != 4500 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}

	checks := []struct {
		index    int
		degraded bool
	}{
		{0, false}, {1999, false}, {2000, true}, {3999, true}, {4000, false}, {4499, false},
	}
	for _, c := range checks {
		key := common.NewIdentityKey(
			"Person"+strconv.Itoa(c.index)+" Test",
			"Company"+strconv.Itoa(c.index),
			common.DefaultNormalizer,
		)
		e, ok := h.relational.entityByKey(key)
		if !ok {
			t.Fatalf("entity %d missing", c.index)
		}
		if c.degraded {
			if e.Embedding != nil || e.EmbeddingStatus != common.EmbeddingDegraded {
				t.Fatalf("entity %d should be degraded: %+v", c.index, e.EmbeddingStatus)
			}
			continue
		}
		if len(e.Embedding) == 0 || e.EmbeddingStatus != common.EmbeddingEmbedded {
			t.Fatalf("entity %d should be embedded: %+v", c.index, e.EmbeddingStatus)
		}
	}
}

func TestRun_RetriesEmbeddingBatchOnce(t *testing.T) {
	h := newHarness()
	h.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		return nil, ai.Retriable("server error", errors.New("503"))
	}

	res, err := h.run(context.Background(), csvRows(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.embedder.calls != 2 {
		t.Fatalf("expected one retry, got %d calls", h.embedder.calls)
	}
	if res.DegradedEmbeddingCount != 3 || res.Created != 3 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
}

func TestRun_CommitFailureAbortsRemainingChunks(t *testing.T) {
	h := newHarness()
	h.params.CommitChunkSize = 2
	h.relational.failChunk = 3

	res, err := h.run(context.Background(), csvRows(10))
	if err == nil {
		t.Fatal("expected commit failure")
	}

	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != progress.StageCommit {
		t.Fatalf("expected RunError in commit stage, got %v", err)
	}
	var commitErr *CommitError
	if !errors.As(err, &commitErr) || commitErr.Chunk != 3 || commitErr.Chunks != 5 {
		t.Fatalf("expected CommitError for chunk 3 of 5, got %v", err)
	}
	if res.Created != 4 || res.Committed != 4 || res.NotAttempted != 6 {
		t.Fatalf("unexpected partial summary %+v", res.Summary)
	}
	if runErr.Result != res || runErr.Snapshot.Stage != progress.StageCommit || runErr.Snapshot.Current != 4 {
		t.Fatalf("unexpected run error detail %+v", runErr.Snapshot)
	}
	assertConserved(t, res.Summary)
	if h.relational.commits != 2 || h.relational.entityCount() != 4 {
		t.Fatalf("expected 2 committed chunks, got %d commits / %d entities", h.relational.commits, h.relational.entityCount())
	}
	if h.graph.calls != 2 {
		t.Fatalf("only committed chunks may be mirrored, got %d calls", h.graph.calls)
	}
}

func TestRun_GraphFailureLeavesRelationalData(t *testing.T) {
	h := newHarness()
	h.params.CommitChunkSize = 3
	h.graph.failCall = 2

	res, err := h.run(context.Background(), csvRows(9))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.relational.entityCount() != 9 || res.Created != 9 {
		t.Fatalf("relational data must stay committed, got %d entities", h.relational.entityCount())
	}
	if res.GraphMirrorFailedChunks != 1 || len(res.ReconciliationCandidates) != 1 {
		t.Fatalf("expected one reconciliation candidate, got %+v", res.ReconciliationCandidates)
	}
	candidate := res.ReconciliationCandidates[0]
	if candidate.Chunk != 2 || len(candidate.EntityIDs) != 3 || candidate.Reason == "" {
		t.Fatalf("unexpected candidate %+v", candidate)
	}
	for _, id := range candidate.EntityIDs {
		if id == 0 {
			t.Fatal("candidate must carry committed ids")
		}
	}
	if len(h.graph.nodes) != 6 || h.graph.calls != 3 {
		t.Fatalf("other chunks must mirror, got %d nodes in %d calls", len(h.graph.nodes), h.graph.calls)
	}
}

func TestRun_WithoutGraphStore(t *testing.T) {
	h := newHarness()
	h.params.Graph = nil
	tracker := progress.NewTracker("no-graph")

	_, err := h.client().Run(context.Background(), RunParams{RunID: "no-graph", OwnerID: testOwnerID, Source: source(csvRows(2)), Tracker: tracker})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap := tracker.Snapshot(progress.StageMirror); snap.Total != 0 || !snap.Finished {
		t.Fatalf("unexpected mirror snapshot %+v", snap)
	}
}

func TestRun_BoundsConcurrentClassifications(t *testing.T) {
	h := newHarness()
	h.params.MaxWorkers = 3
	h.classifier.delay = 5 * time.Millisecond

	if _, err := h.run(context.Background(), csvRows(40)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if peak := h.classifier.peak.Load(); peak > 3 {
		t.Fatalf("expected at most 3 calls in flight, saw %d", peak)
	}
	if calls := h.classifier.calls.Load(); calls != 40 {
		t.Fatalf("expected 40 calls, got %d", calls)
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	h := newHarness()
	h.params.MaxWorkers = 8
	h.params.CommitChunkSize = 7
	h.params.BatchSize = 9

	tracker := progress.NewTracker("run-mono")
	var mu sync.Mutex
	last := map[progress.Stage]int64{}
	violations := 0
	tracker.OnAdvance(func(s progress.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Current < last[s.Stage] {
			violations++
		}
		last[s.Stage] = s.Current
	})

	_, err := h.client().Run(context.Background(), RunParams{RunID: "run-mono", OwnerID: testOwnerID, Source: source(csvRows(60)), Tracker: tracker})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if violations != 0 {
		t.Fatalf("progress went backwards %d times", violations)
	}
	for _, stage := range []progress.Stage{progress.StageIngest, progress.StageResolve, progress.StageEnrich, progress.StageEmbed, progress.StageCommit} {
		snap := tracker.Snapshot(stage)
		if snap.Current != 60 || snap.Percent != 100 || !snap.Finished {
			t.Fatalf("unexpected final snapshot %+v", snap)
		}
	}
}

func TestRun_CancelledDuringEnrichment(t *testing.T) {
	h := newHarness()
	h.params.MaxWorkers = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.classifier.fn = func(callCtx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
		cancel()
		time.Sleep(5 * time.Millisecond)
		if callCtx.Err() != nil {
			t.Errorf("in-flight call must not observe cancellation")
		}
		return common.Enrichment{Role: common.RoleFounder}, nil
	}

	res, err := h.run(ctx, csvRows(20))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if h.relational.commits != 0 {
		t.Fatalf("cancelled run must not commit, got %d commits", h.relational.commits)
	}
	if calls := h.classifier.calls.Load(); calls > 2 {
		t.Fatalf("no entity may start after cancellation, got %d calls", calls)
	}
	if res.NotAttempted != 20 {
		t.Fatalf("expected all new entities not attempted, got %d", res.NotAttempted)
	}
	assertConserved(t, res.Summary)
}

func TestRun_CancelledDuringEmbedding(t *testing.T) {
	h := newHarness()
	h.params.BatchSize = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.embedder.fn = func(call int, texts []string) ([][]float32, error) {
		cancel()
		return vectorsFor(len(texts)), nil
	}

	res, err := h.run(ctx, csvRows(6))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if h.embedder.calls != 1 {
		t.Fatalf("no batch may start after cancellation, got %d calls", h.embedder.calls)
	}
	if n := h.embedder.cancelledCalls.Load(); n != 0 {
		t.Fatalf("in-flight embedding must not observe cancellation, got %d", n)
	}
	if res.DegradedEmbeddingCount != 0 {
		t.Fatalf("unsent batches must not count as degraded, got %d", res.DegradedEmbeddingCount)
	}
	if res.NotAttempted != 6 || h.relational.commits != 0 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	assertConserved(t, res.Summary)
}

func TestRun_IngestTotalEmittedFirst(t *testing.T) {
	h := newHarness()
	tracker := progress.NewTracker("run-total")

	var mu sync.Mutex
	var ingest []progress.Snapshot
	tracker.OnBoundary(func(s progress.Snapshot) {
		if s.Stage != progress.StageIngest {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		ingest = append(ingest, s)
	})

	data := csvRows(4) + "Mallory,Jones,,,Evil Corp,Partner,someday\n"
	_, err := h.client().Run(context.Background(), RunParams{RunID: "run-total", OwnerID: testOwnerID, Source: source(data), Tracker: tracker})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ingest) == 0 {
		t.Fatal("expected ingest boundary events")
	}
	first := ingest[0]
	if !first.Started || first.Finished {
		t.Fatalf("first ingest event should mark the stage start, got %+v", first)
	}
	if first.Current != 0 || first.Total != 5 {
		t.Fatalf("expected total of 5 rows before any record, got current=%d total=%d", first.Current, first.Total)
	}
}

func TestRun_SkipEnrichment(t *testing.T) {
	h := newHarness()
	res, err := h.client().Run(context.Background(), RunParams{
		RunID:          "fast",
		OwnerID:        testOwnerID,
		Source:         source(csvRows(5)),
		SkipEnrichment: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.classifier.calls.Load() != 0 || h.embedder.calls != 0 {
		t.Fatal("skip enrichment must not call the classifier or embedder")
	}
	if res.Created != 5 || res.DegradedEnrichmentCount != 0 || res.DegradedEmbeddingCount != 0 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	e, _ := h.relational.entityByKey("person0 test|company0")
	if e.EnrichmentStatus != common.EnrichmentPending || e.EmbeddingStatus != common.EmbeddingPending {
		t.Fatalf("expected pending statuses, got %s/%s", e.EnrichmentStatus, e.EmbeddingStatus)
	}
}

func TestRun_FatalInputErrors(t *testing.T) {
	tests := []struct {
		name    string
		owner   int64
		data    string
		maxSize int64
		check   func(error) bool
	}{
		{
			name:  "unknown owner",
			owner: 99,
			data:  csvRows(1),
			check: func(err error) bool { return errors.Is(err, ErrOwnerNotFound) },
		},
		{
			name:  "missing column",
			owner: testOwnerID,
			data:  "First Name,Last Name,Company\nAda,Lovelace,Acme\n",
			check: func(err error) bool {
				var malformed *loadercsv.MalformedInputError
				return errors.As(err, &malformed)
			},
		},
		{
			name:    "too large",
			owner:   testOwnerID,
			data:    csvRows(50),
			maxSize: 128,
			check:   func(err error) bool { return errors.Is(err, loader.ErrSizeExceeded) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.params.MaxBytes = tt.maxSize
			_, err := h.client().Run(context.Background(), RunParams{RunID: "bad", OwnerID: tt.owner, Source: source(tt.data)})
			var runErr *RunError
			if !errors.As(err, &runErr) || runErr.Stage != progress.StageIngest {
				t.Fatalf("expected ingest RunError, got %v", err)
			}
			if !tt.check(err) {
				t.Fatalf("unexpected cause %v", err)
			}
			if h.relational.commits != 0 {
				t.Fatal("nothing may be committed")
			}
		})
	}
}

func TestRun_RejectedRowsAreCounted(t *testing.T) {
	h := newHarness()
	data := csvRows(3) +
		",,,,Acme,Partner,02 Jan 2023\n" +
		"Eve,Smith,,,,Partner,02 Jan 2023\n" +
		"Mallory,Jones,,,Evil Corp,Partner,someday\n"

	res, err := h.run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Total != 6 || res.Rejected != 3 || res.Created != 3 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	assertConserved(t, res.Summary)
}

func TestRun_RecordsRecentErrors(t *testing.T) {
	h := newHarness()
	h.classifier.fn = func(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
		return common.Enrichment{}, ai.Fatal("bad request", errors.New("400"))
	}
	tracker := progress.NewTracker("run-errors")
	data := csvRows(2) + "Mallory,Jones,,,Evil Corp,Partner,someday\n"

	_, err := h.client().Run(context.Background(), RunParams{RunID: "run-errors", OwnerID: testOwnerID, Source: source(data), Tracker: tracker})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	errs := tracker.Errors()
	if len(errs) != 3 {
		t.Fatalf("expected 3 recorded errors, got %v", errs)
	}
	rejected, degraded := 0, 0
	for _, msg := range errs {
		switch {
		case strings.HasPrefix(msg, "row "):
			rejected++
		case strings.HasPrefix(msg, "classification of "):
			degraded++
		}
	}
	if rejected != 1 || degraded != 2 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestNewClient_Validation(t *testing.T) {
	h := newHarness()
	tests := []struct {
		name    string
		mutate  func(p *NewClientParams)
		wantErr bool
	}{
		{name: "defaults", mutate: func(p *NewClientParams) {}},
		{name: "max workers too high", mutate: func(p *NewClientParams) { p.MaxWorkers = 21 }, wantErr: true},
		{name: "max workers negative", mutate: func(p *NewClientParams) { p.MaxWorkers = -1 }, wantErr: true},
		{name: "missing store", mutate: func(p *NewClientParams) { p.Relational = nil }, wantErr: true},
		{name: "missing embedder", mutate: func(p *NewClientParams) { p.Embedder = nil }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := h.params
			tt.mutate(&params)
			c, err := NewClient(params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if c.maxWorkers != DefaultMaxWorkers || c.batchSize != DefaultBatchSize || c.commitChunkSize != DefaultCommitChunkSize {
				t.Fatalf("unexpected defaults %+v", c)
			}
		})
	}
}
