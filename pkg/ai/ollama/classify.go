package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"

	"github.com/ollama/ollama/api"
)

// Classify requests a JSON formatted classification from the chat model.
func (c *Client) Classify(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
	schema, err := ai.SchemaJSON(&ai.ClassificationResponse{})
	if err != nil {
		return common.Enrichment{}, ai.Fatal("schema generation failed", err)
	}

	stream := false
	req := &api.ChatRequest{
		Model: c.chatModel,
		Messages: []api.Message{
			{Role: "system", Content: ai.ClassificationSystemPrompt},
			{Role: "user", Content: ai.BuildClassificationPrompt(in)},
		},
		Stream:  &stream,
		Format:  json.RawMessage(schema),
		Options: map[string]any{"temperature": c.temperature},
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return common.Enrichment{}, ai.FromTransport(err)
	}
	defer c.reqLock.Release(1)

	var content strings.Builder
	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		if cr.Done {
			final = cr
		}
		return nil
	}); err != nil {
		return common.Enrichment{}, classifyError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	parsed, err := ai.ParseClassification(content.String())
	if err != nil {
		return common.Enrichment{}, err
	}
	return parsed.Enrichment(), nil
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ai.FromStatus(statusErr.StatusCode, err)
	}
	return ai.FromTransport(err)
}
