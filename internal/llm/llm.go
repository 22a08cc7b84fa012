package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Segment is a block of prompt context. Cacheable segments are sent with a
// cache marker on providers that support prompt caching.
type Segment struct {
	Text      string
	Cacheable bool
}

// Request is a single generation request. Segments precede Prompt.
type Request struct {
	Segments  []Segment
	Prompt    string
	MaxTokens int
}

// Text flattens the request into one prompt string for providers without
// segment support.
func (r Request) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
		b.WriteString("\n\n")
	}
	b.WriteString(r.Prompt)
	return b.String()
}

// Usage is the token accounting reported for one call.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// Response is a provider reply.
type Response struct {
	Text  string
	Usage Usage
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	IsConfigured() bool
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	zap.S().Warnf("Ollama model %q not found", o.Model)
	return false
}

// Generate sends a request to Ollama. Segments are flattened into the user
// message; Ollama has no prompt cache.
func (o *OllamaProvider) Generate(ctx context.Context, r Request) (*Response, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": r.Text()},
		},
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"num_predict": r.MaxTokens,
			"temperature": 0.2,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Response{
		Text:  result.Message.Content,
		Usage: Usage{InputTokens: result.PromptEvalCount, OutputTokens: result.EvalCount},
	}, nil
}

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a request to OpenAI. Segments go first in the system
// message so the automatic prefix cache can reuse them.
func (o *OpenAIProvider) Generate(ctx context.Context, r Request) (*Response, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	var messages []map[string]string
	if len(r.Segments) > 0 {
		parts := make([]string, len(r.Segments))
		for i, s := range r.Segments {
			parts[i] = s.Text
		}
		messages = append(messages, map[string]string{"role": "system", "content": strings.Join(parts, "\n\n")})
	}
	messages = append(messages, map[string]string{"role": "user", "content": r.Prompt})

	body := map[string]any{
		"model":       o.Model,
		"messages":    messages,
		"max_tokens":  r.MaxTokens,
		"temperature": 0.2,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens        int `json:"prompt_tokens"`
			CompletionTokens    int `json:"completion_tokens"`
			PromptTokensDetails struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"prompt_tokens_details"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in OpenAI response")
	}

	cached := result.Usage.PromptTokensDetails.CachedTokens
	return &Response{
		Text: result.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:       result.Usage.PromptTokens - cached,
			OutputTokens:      result.Usage.CompletionTokens,
			CachedInputTokens: cached,
		},
	}, nil
}

// CreateProvider creates an LLM provider based on configuration. It returns
// nil when the selected provider is not usable.
func CreateProvider(provider, model, ollamaURL, apiKeyEnv string) Provider {
	switch strings.ToLower(provider) {
	case "ollama":
		p := NewOllamaProvider(model, ollamaURL)
		if p.IsConfigured() {
			zap.S().Infof("Using Ollama with model: %s", model)
			return p
		}
		zap.S().Warn("Ollama not available. Check that it is running and the model is pulled.")
	case "openai":
		p := NewOpenAIProvider(model, apiKeyEnv)
		if p.IsConfigured() {
			zap.S().Infof("Using OpenAI with model: %s", model)
			return p
		}
		zap.S().Warnf("OpenAI selected but %s is not set", apiKeyEnv)
	default:
		p := NewAnthropicProvider(model, apiKeyEnv)
		if p.IsConfigured() {
			zap.S().Infof("Using Anthropic with model: %s", model)
			return p
		}
		zap.S().Warnf("Anthropic selected but %s is not set", apiKeyEnv)
	}
	return nil
}
