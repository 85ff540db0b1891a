package pipeline

import (
	"fmt"
	"time"

	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/store"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxWorkers      = 10
	MaxWorkersLimit        = 20
	DefaultBatchSize       = 2000
	DefaultCommitChunkSize = 500
	DefaultResolveWindow   = 500
	DefaultMaxBytes        = 200 << 20
	DefaultCallTimeout     = 30 * time.Second
	DefaultEmbedTimeout    = 2 * time.Minute

	// ConnectionSource tags connections created by an import.
	ConnectionSource   = "csv_import"
	ConnectionStrength = 1.0
)

// Client runs imports. It holds the collaborators and limits shared by all
// runs; per-run state lives in the run started by Run.
//
// A Client should be created using NewClient.
type Client struct {
	maxWorkers      int
	batchSize       int
	commitChunkSize int
	resolveWindow   int
	maxBytes        int64
	callTimeout     time.Duration
	embedTimeout    time.Duration
	backoff         util.Backoff
	limiter         *rate.Limiter
	normalize       common.KeyNormalizer
	truncator       *ai.Truncator
	now             func() time.Time

	classifier ai.Classifier
	embedder   ai.Embedder
	relational store.RelationalStore
	graph      store.GraphStore
}

// NewClientParams configures a Client. Zero values select the defaults.
//
// MaxWorkers bounds concurrent classification calls and must be within
// 1..20. RateLimit is in requests per second and disabled when zero.
// Graph may be nil, which disables mirroring.
type NewClientParams struct {
	MaxWorkers      int
	BatchSize       int
	CommitChunkSize int
	ResolveWindow   int
	MaxBytes        int64
	CallTimeout     time.Duration
	EmbedTimeout    time.Duration
	Backoff         util.Backoff
	RateLimit       float64
	RateBurst       int
	Normalizer      common.KeyNormalizer
	Truncator       *ai.Truncator

	Classifier ai.Classifier
	Embedder   ai.Embedder
	Relational store.RelationalStore
	Graph      store.GraphStore
}

// NewClient validates params and returns a ready Client.
func NewClient(params NewClientParams) (*Client, error) {
	if params.Relational == nil {
		return nil, fmt.Errorf("relational store is required")
	}
	if params.Classifier == nil || params.Embedder == nil {
		return nil, fmt.Errorf("classifier and embedder are required")
	}

	maxWorkers := params.MaxWorkers
	if maxWorkers == 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxWorkers < 1 || maxWorkers > MaxWorkersLimit {
		return nil, fmt.Errorf("max workers must be between 1 and %d, got %d", MaxWorkersLimit, maxWorkers)
	}

	backoff := params.Backoff
	if backoff.MaxAttempts <= 0 {
		backoff = util.DefaultBackoff
	}

	normalize := params.Normalizer
	if normalize == nil {
		normalize = common.DefaultNormalizer
	}

	var limiter *rate.Limiter
	if params.RateLimit > 0 {
		burst := params.RateBurst
		if burst <= 0 {
			burst = maxWorkers
		}
		limiter = rate.NewLimiter(rate.Limit(params.RateLimit), burst)
	}

	c := &Client{
		maxWorkers:      maxWorkers,
		batchSize:       orDefault(params.BatchSize, DefaultBatchSize),
		commitChunkSize: orDefault(params.CommitChunkSize, DefaultCommitChunkSize),
		resolveWindow:   orDefault(params.ResolveWindow, DefaultResolveWindow),
		maxBytes:        params.MaxBytes,
		callTimeout:     params.CallTimeout,
		embedTimeout:    params.EmbedTimeout,
		backoff:         backoff,
		limiter:         limiter,
		normalize:       normalize,
		truncator:       params.Truncator,
		now:             time.Now,
		classifier:      params.Classifier,
		embedder:        params.Embedder,
		relational:      params.Relational,
		graph:           params.Graph,
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	if c.embedTimeout <= 0 {
		c.embedTimeout = DefaultEmbedTimeout
	}
	return c, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
