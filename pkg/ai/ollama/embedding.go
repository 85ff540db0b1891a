package ollama

import (
	"context"
	"fmt"

	"github.com/sprintly/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Embed creates one embedding per text in a single request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, ai.FromTransport(err)
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(texts) {
		return nil, ai.Fatal(
			fmt.Sprintf("got %d vectors for %d inputs", len(res.Embeddings), len(texts)),
			ai.ErrEmbeddingMismatch,
		)
	}
	return res.Embeddings, nil
}
