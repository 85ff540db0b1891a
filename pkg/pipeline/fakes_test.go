package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"
	"github.com/sprintly/backend/pkg/store"
)

const testOwnerID int64 = 1

// fakeRelational keeps entities and connections in memory. Chunks are
// applied atomically: a failing chunk leaves nothing behind.
type fakeRelational struct {
	mu          sync.Mutex
	nextID      int64
	byKey       map[common.IdentityKey]int64
	entities    map[int64]common.Entity
	connections map[[2]int64]common.Connection
	commits     int
	failChunk   int
	lookups     int
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{
		nextID:      testOwnerID + 1,
		byKey:       map[common.IdentityKey]int64{"owner|sprintly": testOwnerID},
		entities:    map[int64]common.Entity{testOwnerID: {ID: testOwnerID, Key: "owner|sprintly"}},
		connections: map[[2]int64]common.Connection{},
	}
}

func (f *fakeRelational) LookupEntities(ctx context.Context, keys []common.IdentityKey) (map[common.IdentityKey]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	found := map[common.IdentityKey]int64{}
	for _, k := range keys {
		if id, ok := f.byKey[k]; ok {
			found[k] = id
		}
	}
	return found, nil
}

func (f *fakeRelational) EntityExists(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entities[id]
	return ok, nil
}

func (f *fakeRelational) CommitChunk(ctx context.Context, chunk *store.Chunk) (store.ChunkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failChunk != 0 && chunk.Index == f.failChunk {
		return store.ChunkResult{}, errors.New("connection reset during commit")
	}

	var result store.ChunkResult
	ids := map[*common.Entity]int64{}
	for _, e := range chunk.Entities {
		if id, ok := f.byKey[e.Key]; ok {
			ids[e] = id
			continue
		}
		id := f.nextID
		f.nextID++
		f.byKey[e.Key] = id
		stored := *e
		stored.ID = id
		f.entities[id] = stored
		ids[e] = id
		result.Created++
	}
	for e, id := range ids {
		e.ID = id
	}
	for _, pc := range chunk.Connections {
		conn := common.Connection{
			SourceID:    pc.SourceID,
			TargetID:    pc.Target.ID,
			Type:        pc.Type,
			ConnectedOn: pc.ConnectedOn,
			Source:      pc.Source,
			Strength:    pc.Strength,
		}
		f.connections[[2]int64{conn.SourceID, conn.TargetID}] = conn
		result.Connections = append(result.Connections, conn)
	}
	f.commits++
	return result, nil
}

func (f *fakeRelational) entityByKey(key common.IdentityKey) (common.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[key]
	if !ok {
		return common.Entity{}, false
	}
	return f.entities[id], true
}

func (f *fakeRelational) entityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities) - 1
}

type fakeGraph struct {
	mu        sync.Mutex
	calls     int
	failCall  int
	nodes     map[int64]struct{}
	relations int
}

func (g *fakeGraph) MirrorChunk(ctx context.Context, entities []*common.Entity, connections []common.Connection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls == g.failCall {
		return errors.New("graph unavailable")
	}
	if g.nodes == nil {
		g.nodes = map[int64]struct{}{}
	}
	for _, e := range entities {
		g.nodes[e.ID] = struct{}{}
	}
	g.relations += len(connections)
	return nil
}

// fakeClassifier counts calls and the peak number of concurrent calls.
type fakeClassifier struct {
	delay    time.Duration
	fn       func(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error)
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeClassifier) Classify(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn != nil {
		return f.fn(ctx, in)
	}
	return common.Enrichment{Role: common.RoleFounder, Confidence: 0.8}, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	sizes []int
	fn    func(call int, texts []string) ([][]float32, error)

	// cancelledCalls counts calls whose context was done when they returned.
	cancelledCalls atomic.Int64
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.sizes = append(f.sizes, len(texts))
	f.mu.Unlock()
	defer func() {
		if ctx.Err() != nil {
			f.cancelledCalls.Add(1)
		}
	}()
	if f.fn != nil {
		return f.fn(call, texts)
	}
	return vectorsFor(len(texts)), nil
}

func vectorsFor(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out
}

const csvHeader = "First Name,Last Name,URL,Email Address,Company,Position,Connected On\n"

func csvRow(first, last, company string) string {
	return fmt.Sprintf("%s,%s,,,%s,Partner,02 Jan 2023\n", first, last, company)
}

// csvRows builds n rows with distinct identity keys.
func csvRows(n int) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for i := range n {
		b.WriteString(csvRow(fmt.Sprintf("Person%d", i), "Test", fmt.Sprintf("Company%d", i)))
	}
	return b.String()
}

func source(data string) loader.Source {
	return loader.NewBytesSource("connections.csv", []byte(data))
}

type harness struct {
	relational *fakeRelational
	graph      *fakeGraph
	classifier *fakeClassifier
	embedder   *fakeEmbedder
	params     NewClientParams
}

func newHarness() *harness {
	h := &harness{
		relational: newFakeRelational(),
		graph:      &fakeGraph{},
		classifier: &fakeClassifier{},
		embedder:   &fakeEmbedder{},
	}
	h.params = NewClientParams{
		Backoff:    util.Backoff{MaxAttempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond},
		Classifier: h.classifier,
		Embedder:   h.embedder,
		Relational: h.relational,
		Graph:      h.graph,
	}
	return h
}

func (h *harness) client() *Client {
	c, err := NewClient(h.params)
	if err != nil {
		panic(err)
	}
	return c
}

func (h *harness) run(ctx context.Context, data string) (*Result, error) {
	return h.client().Run(ctx, RunParams{RunID: "run-test", OwnerID: testOwnerID, Source: source(data)})
}
