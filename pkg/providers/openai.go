// Package providers wraps the OpenAI-compatible HTTP API behind the
// narrow Generator and Embedder interfaces the pipeline depends on. Any
// endpoint speaking the OpenAI protocol works, including local servers.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
)

type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAIGenerator(cfg config.ProvidersConfig) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  cfg.LLMModel,
	}
}

func (p *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	applyOptions(&params, opts)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: generation: %v", domain.ErrDeadlineExceeded, err)
		}
		return "", fmt.Errorf("%w: generation: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrContentMalformed)
	}
	return completion.Choices[0].Message.Content, nil
}

// GenerateStructured asks the model for a JSON object and unmarshals it
// into out. The response is requested in JSON mode; models that still
// wrap the object in a markdown fence get the fence stripped.
func (p *OpenAIGenerator) GenerateStructured(ctx context.Context, prompt string, out interface{}, opts *domain.GenerationOptions) error {
	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	applyOptions(&params, opts)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: structured generation: %v", domain.ErrDeadlineExceeded, err)
		}
		return fmt.Errorf("%w: structured generation: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return fmt.Errorf("%w: no choices returned", domain.ErrContentMalformed)
	}

	raw := stripJSONFence(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: response is not valid JSON: %v", domain.ErrContentMalformed, err)
	}
	return nil
}

func (p *OpenAIGenerator) Health(ctx context.Context) error {
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxCompletionTokens: openai.Int(1),
	}
	if _, err := p.client.Chat.Completions.New(ctx, params); err != nil {
		return fmt.Errorf("%w: llm: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

func applyOptions(params *openai.ChatCompletionNewParams, opts *domain.GenerationOptions) {
	if opts == nil {
		return
	}
	if opts.Temperature >= 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

func NewOpenAIEmbedder(cfg config.ProvidersConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  cfg.EmbeddingModel,
	}
}

func (p *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}

	embedding, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: embedding: %v", domain.ErrDeadlineExceeded, err)
		}
		return nil, fmt.Errorf("%w: embedding: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data returned", domain.ErrContentMalformed)
	}

	vec := make([]float64, len(embedding.Data[0].Embedding))
	for i, v := range embedding.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (p *OpenAIEmbedder) Health(ctx context.Context) error {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String("ping")},
	}
	if _, err := p.client.Embeddings.New(ctx, params); err != nil {
		return fmt.Errorf("%w: embedder: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}
