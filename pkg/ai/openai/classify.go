package openai

import (
	"context"
	"errors"
	"time"

	"github.com/sprintly/backend/pkg/ai"
	"github.com/sprintly/backend/pkg/common"

	"github.com/openai/openai-go/v3"
)

// Classify asks the chat model for a role classification using strict JSON
// schema output.
func (c *Client) Classify(ctx context.Context, in ai.ClassifyInput) (common.Enrichment, error) {
	if c.ChatClient == nil {
		return common.Enrichment{}, ai.Fatal("chat client not configured", nil)
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "contact_classification",
		Description: openai.String("Role classification of a professional contact"),
		Schema:      ai.GenerateSchema(&ai.ClassificationResponse{}),
		Strict:      openai.Bool(true),
	}

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.chatModel),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ai.ClassificationSystemPrompt),
			openai.UserMessage(ai.BuildClassificationPrompt(in)),
		},
		Temperature: openai.Float(c.temperature),
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return common.Enrichment{}, ai.FromTransport(err)
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return common.Enrichment{}, classifyError(err)
	}
	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return common.Enrichment{}, ai.Retriable("no choices in response", nil)
	}
	parsed, err := ai.ParseClassification(response.Choices[0].Message.Content)
	if err != nil {
		return common.Enrichment{}, err
	}
	return parsed.Enrichment(), nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ai.FromStatus(apiErr.StatusCode, err)
	}
	return ai.FromTransport(err)
}
