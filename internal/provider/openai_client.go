package provider

import (
	"context"
	"errors"
	"net"

	"github.com/sashabaranov/go-openai"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/config"
	"DramaForge/server/internal/prompts"
)

const maxScriptRunes = 30000

// ChatClient serves every OpenAI-compatible vendor: OpenAI itself, DeepSeek
// and GLM expose the same chat completions surface behind different base
// URLs.
type ChatClient struct {
	name   string
	model  string
	client *openai.Client

	maxTokens   int
	temperature float32
}

// NewChatClient builds a client for one vendor endpoint. name is the public
// model id, model the wire-level model name the vendor expects.
func NewChatClient(name, model string, vendor config.VendorConfig, ai config.AIConfig) *ChatClient {
	cfg := openai.DefaultConfig(vendor.APIKey)
	if vendor.BaseURL != "" {
		cfg.BaseURL = vendor.BaseURL
	}
	return &ChatClient{
		name:        name,
		model:       model,
		client:      openai.NewClientWithConfig(cfg),
		maxTokens:   ai.MaxTokens,
		temperature: float32(ai.Temperature),
	}
}

func (c *ChatClient) Name() string {
	return c.name
}

func (c *ChatClient) ExtractAssets(ctx context.Context, script string, episode EpisodeContext) (*ExtractionResult, error) {
	prompt := prompts.Extraction(episode.EpisodeNumber,
		prompts.TrimScript(script, maxScriptRunes),
		episode.Feedback, episode.CurrentAssets)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseExtraction(raw)
}

func (c *ChatClient) GenerateStoryboard(ctx context.Context, script string, constraints StoryboardConstraints) ([]Shot, error) {
	prompt := prompts.Storyboard(constraints.MinShots, constraints.MaxShots,
		constraints.Assets, prompts.TrimScript(script, maxScriptRunes))
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseStoryboard(raw)
}

func (c *ChatClient) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemRole},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyChatError(c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.ProviderFatal(nil, c.name+" returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyChatError sorts vendor failures into transient and fatal. Rate
// limits, server errors and network failures retry; auth and bad-request
// errors do not.
func classifyChatError(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return apperr.ProviderTransient(err, name+" request failed")
		}
		return apperr.ProviderFatal(err, name+" request rejected")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.ProviderTransient(err, name+" network failure")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.ProviderTransient(err, name+" request timed out")
	}
	return apperr.ProviderFatal(err, name+" request failed")
}
