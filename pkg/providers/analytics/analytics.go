// Package analytics produces the report and scorecard artifacts from an
// enhanced transcript via an AWS Bedrock foundation model, backing the
// "Analytics" pipeline stage (spec.md §4.4).
package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Result is the pair of artifacts the Analytics stage produces.
type Result struct {
	Report    string
	Scorecard string
}

// Analyzer turns an enhanced transcript into a report and scorecard.
type Analyzer interface {
	Analyze(ctx context.Context, enhancedTranscript string) (Result, error)
}

const promptTemplate = `Produce a JSON object with exactly two string fields,
"report" (a prose meeting summary with action items) and "scorecard" (a short
bullet list scoring engagement, decisions made, and follow-up clarity), from
this transcript:

%s`

// Bedrock calls a foundation model through bedrock-runtime's InvokeModel
// API with an Anthropic messages-format request body.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock loads AWS credentials/region from the environment (the SDK's
// default chain) and targets modelID.
func NewBedrock(ctx context.Context, region, modelID string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("analytics: load aws config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

// NewBedrockWithClient wraps a pre-built client, letting tests point the
// client at a local httptest server via a custom BaseEndpoint.
func NewBedrockWithClient(client *bedrockruntime.Client, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: modelID}
}

func (b *Bedrock) Analyze(ctx context.Context, enhancedTranscript string) (Result, error) {
	prompt := fmt.Sprintf(promptTemplate, enhancedTranscript)

	body, err := json.Marshal(map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":         4096,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("analytics: marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("analytics: invoke model: %w", err)
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Result{}, fmt.Errorf("analytics: unmarshal model response: %w", err)
	}
	if len(resp.Content) == 0 {
		return Result{}, fmt.Errorf("analytics: empty model response")
	}

	var parsed struct {
		Report    string `json:"report"`
		Scorecard string `json:"scorecard"`
	}
	if err := json.Unmarshal([]byte(resp.Content[0].Text), &parsed); err != nil {
		return Result{Report: resp.Content[0].Text}, nil
	}
	return Result{Report: parsed.Report, Scorecard: parsed.Scorecard}, nil
}
