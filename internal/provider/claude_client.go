package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/config"
	"DramaForge/server/internal/prompts"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	anthropicTimeout = 120 * time.Second
)

// ClaudeClient speaks the Anthropic messages API, which is not
// OpenAI-compatible and needs its own wire types.
type ClaudeClient struct {
	name       string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxTokens   int
	temperature float64
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClaudeClient(name, model string, vendor config.VendorConfig, ai config.AIConfig) *ClaudeClient {
	baseURL := vendor.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &ClaudeClient{
		name:        name,
		model:       model,
		baseURL:     baseURL,
		apiKey:      vendor.APIKey,
		httpClient:  &http.Client{Timeout: anthropicTimeout},
		maxTokens:   ai.MaxTokens,
		temperature: ai.Temperature,
	}
}

func (c *ClaudeClient) Name() string {
	return c.name
}

func (c *ClaudeClient) ExtractAssets(ctx context.Context, script string, episode EpisodeContext) (*ExtractionResult, error) {
	prompt := prompts.Extraction(episode.EpisodeNumber,
		prompts.TrimScript(script, maxScriptRunes),
		episode.Feedback, episode.CurrentAssets)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseExtraction(raw)
}

func (c *ClaudeClient) GenerateStoryboard(ctx context.Context, script string, constraints StoryboardConstraints) ([]Shot, error) {
	prompt := prompts.Storyboard(constraints.MinShots, constraints.MaxShots,
		constraints.Assets, prompts.TrimScript(script, maxScriptRunes))
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseStoryboard(raw)
}

func (c *ClaudeClient) complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(claudeRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      prompts.SystemRole,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", apperr.ProviderFatal(err, "failed to marshal request")
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", apperr.ProviderFatal(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.ProviderTransient(err, c.name+" request failed to send")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.ProviderTransient(err, c.name+" response read failed")
	}

	if resp.StatusCode != http.StatusOK {
		wireErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", apperr.ProviderTransient(wireErr, c.name+" request failed")
		}
		return "", apperr.ProviderFatal(wireErr, c.name+" request rejected")
	}

	var parsed claudeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.ProviderFatal(err, c.name+" response is not valid JSON")
	}
	if parsed.Error != nil {
		return "", apperr.ProviderFatal(fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message),
			c.name+" request failed")
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", apperr.ProviderFatal(nil, c.name+" response contains no text block")
}
