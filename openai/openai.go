// Package openai implements the mentor Provider interface over the OpenAI
// chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/covale/mentor"
)

// Provider implements the mentor Provider interface for the OpenAI API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	name       string
}

// Config holds configuration for the OpenAI provider.
type Config struct {
	APIKey  string
	Model   string        // Default model when the call config names none
	BaseURL string        // Optional, defaults to "https://api.openai.com/v1"
	Timeout time.Duration // Optional, defaults to 30s
}

// New creates a new OpenAI provider.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Provider{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		name:    "openai",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Call sends messages to OpenAI and returns the response with usage stats.
// The call config's model and token budget win over the provider defaults.
func (p *Provider) Call(ctx context.Context, messages []mentor.Message, opts mentor.CallOptions) (*mentor.ProviderResponse, error) {
	startTime := time.Now()

	model := opts.Model
	if model == "" {
		model = p.model
	}

	capitan.Info(ctx, mentor.ProviderCallStarted,
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(model),
		mentor.TemperatureKey.Field(float64(opts.Temperature)),
	)

	apiMessages := make([]message, len(messages))
	for i, msg := range messages {
		apiMessages[i] = message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	// JSON mode keeps structured-output calls parseable.
	requestBody := chatCompletionRequest{
		Model:       model,
		Messages:    apiMessages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_object",
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &mentor.ProviderError{Provider: p.name, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &mentor.ProviderError{Provider: p.name, Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(ctx, resp.StatusCode, body, startTime, model)
	}

	var completionResp chatCompletionResponse
	if err := json.Unmarshal(body, &completionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(completionResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	duration := time.Since(startTime)

	fields := []capitan.Field{
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(completionResp.Model),
		mentor.PromptTokensKey.Field(completionResp.Usage.PromptTokens),
		mentor.CompletionTokensKey.Field(completionResp.Usage.CompletionTokens),
		mentor.TotalTokensKey.Field(completionResp.Usage.TotalTokens),
		mentor.DurationMsKey.Field(int(duration.Milliseconds())),
		mentor.HTTPStatusCodeKey.Field(resp.StatusCode),
		mentor.ResponseIDKey.Field(completionResp.ID),
	}
	if completionResp.Choices[0].FinishReason != "" {
		fields = append(fields, mentor.ResponseFinishReasonKey.Field(completionResp.Choices[0].FinishReason))
	}
	capitan.Info(ctx, mentor.ProviderCallCompleted, fields...)

	return &mentor.ProviderResponse{
		Content: completionResp.Choices[0].Message.Content,
		Usage: mentor.TokenUsage{
			Prompt:     completionResp.Usage.PromptTokens,
			Completion: completionResp.Usage.CompletionTokens,
			Total:      completionResp.Usage.TotalTokens,
		},
	}, nil
}

// apiError classifies a non-200 response. Rate limits and 5xx are
// retryable transport faults; everything else is not.
func (p *Provider) apiError(ctx context.Context, status int, body []byte, startTime time.Time, model string) error {
	duration := time.Since(startTime)
	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError

	fields := []capitan.Field{
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(model),
		mentor.HTTPStatusCodeKey.Field(status),
		mentor.DurationMsKey.Field(int(duration.Milliseconds())),
	}

	var errorResp errorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		fields = append(fields,
			mentor.ErrorKey.Field(errorResp.Error.Message),
			mentor.APIErrorTypeKey.Field(errorResp.Error.Type),
		)
		if errorResp.Error.Code != "" {
			fields = append(fields, mentor.APIErrorCodeKey.Field(errorResp.Error.Code))
		}
		capitan.Error(ctx, mentor.ProviderCallFailed, fields...)

		return &mentor.ProviderError{
			Provider:  p.name,
			Status:    status,
			Retryable: retryable,
			Err:       fmt.Errorf("%s", errorResp.Error.Message),
		}
	}

	fields = append(fields, mentor.ErrorKey.Field(fmt.Sprintf("status %d", status)))
	capitan.Error(ctx, mentor.ProviderCallFailed, fields...)
	return &mentor.ProviderError{
		Provider:  p.name,
		Status:    status,
		Retryable: retryable,
		Err:       fmt.Errorf("status %d", status),
	}
}

// Request/Response types for the OpenAI API

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
