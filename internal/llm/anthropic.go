package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic Messages API. Cacheable segments
// are sent as system blocks carrying an ephemeral cache_control marker.
type AnthropicProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewAnthropicProvider creates a provider reading its key from apiKeyEnv.
func NewAnthropicProvider(model, apiKeyEnv string) *AnthropicProvider {
	return &AnthropicProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.anthropic.com",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (a *AnthropicProvider) IsConfigured() bool {
	return a.APIKey != ""
}

type anthropicBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

// Generate sends a request to the Messages API.
func (a *AnthropicProvider) Generate(ctx context.Context, r Request) (*Response, error) {
	if a.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}

	system := make([]anthropicBlock, 0, len(r.Segments))
	for _, s := range r.Segments {
		b := anthropicBlock{Type: "text", Text: s.Text}
		if s.Cacheable {
			b.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		system = append(system, b)
	}

	body := map[string]any{
		"model":       a.Model,
		"max_tokens":  r.MaxTokens,
		"temperature": 0.2,
		"messages": []map[string]any{
			{"role": "user", "content": []anthropicBlock{{Type: "text", Text: r.Prompt}}},
		},
	}
	if len(system) > 0 {
		body["system"] = system
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Anthropic API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var text string
	for _, c := range result.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in Anthropic response")
	}

	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:       result.Usage.InputTokens + result.Usage.CacheCreationInputTokens,
			OutputTokens:      result.Usage.OutputTokens,
			CachedInputTokens: result.Usage.CacheReadInputTokens,
		},
	}, nil
}
