package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/sprintly/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// Embed creates one embedding per text in a single request. Vectors are
// reordered by their response index; a response that does not cover every
// input is a fatal ai.ErrEmbeddingMismatch.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.EmbeddingClient == nil {
		return nil, ai.Fatal("embedding client not configured", nil)
	}

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	}
	if c.dimensions > 0 {
		body.Dimensions = openai.Int(int64(c.dimensions))
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, ai.FromTransport(err)
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, body)
	if err != nil {
		return nil, classifyError(err)
	}
	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	return orderEmbeddings(response.Data, len(texts))
}

func orderEmbeddings(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, ai.Fatal(fmt.Sprintf("got %d vectors for %d inputs", len(data), n), ai.ErrEmbeddingMismatch)
	}

	out := make([][]float32, n)
	for _, embedding := range data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= n || out[idx] != nil {
			return nil, ai.Fatal(fmt.Sprintf("unexpected embedding index %d", embedding.Index), ai.ErrEmbeddingMismatch)
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
