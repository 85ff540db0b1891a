package ai

import (
	"context"

	"github.com/sprintly/backend/pkg/common"
)

// ClassifyInput holds the fields a classifier sees for one contact.
type ClassifyInput struct {
	Name     string
	Company  string
	Position string
}

// Classifier assigns a role to a contact. Implementations return a
// *RetriableError for transient failures (rate limits, timeouts, 5xx) and a
// *FatalError for everything that will not succeed on retry.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (common.Enrichment, error)
}

// Embedder turns texts into vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	Requests       int     `json:"requests"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// MetricsReporter is implemented by clients that account token usage.
type MetricsReporter interface {
	GetMetrics() ModelMetrics
	ResetMetrics()
}
