// Package enhancer rewrites a raw transcript into a cleaned-up,
// speaker-labeled transcript via an LLM, backing the "Enhancer" pipeline
// stage (spec.md §4.4).
package enhancer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Enhancer rewrites a raw transcript into the enhanced_transcript artifact.
type Enhancer interface {
	Enhance(ctx context.Context, rawTranscript string) (string, error)
}

const systemPrompt = `You clean up a raw, possibly fragmented meeting transcript into readable
prose. Preserve factual content and speaker turns exactly; fix punctuation and
obvious transcription artifacts only. Do not summarize or omit content.`

// Claude calls a Claude model over the Messages API.
type Claude struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewClaude constructs an Enhancer backed by the given API key and model ID.
// An empty model falls back to Claude Sonnet.
func NewClaude(apiKey, model string) *Claude {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewClaudeWithClient(&client, model)
}

// NewClaudeWithClient wraps a pre-built client, letting tests point at a
// local httptest server via option.WithBaseURL.
func NewClaudeWithClient(client *anthropic.Client, model string) *Claude {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_5
	}
	return &Claude{client: client, model: m}
}

func (c *Claude) Enhance(ctx context.Context, rawTranscript string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(rawTranscript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("enhancer: claude call: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("enhancer: empty response")
	}
	return resp.Content[0].Text, nil
}
