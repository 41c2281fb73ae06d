// Package anthropic implements the mentor Provider interface over the
// Anthropic messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/covale/mentor"
)

// Provider implements the mentor Provider interface for the Anthropic API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	name       string
}

// Config holds configuration for the Anthropic provider.
type Config struct {
	APIKey    string
	Model     string        // Default model when the call config names none
	BaseURL   string        // Optional, defaults to "https://api.anthropic.com"
	MaxTokens int           // Optional, defaults to 4096
	Timeout   time.Duration // Optional, defaults to 30s
}

// New creates a new Anthropic provider.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Provider{
		apiKey:    config.APIKey,
		model:     config.Model,
		baseURL:   config.BaseURL,
		maxTokens: config.MaxTokens,
		name:      "anthropic",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Call sends messages to Anthropic and returns the response with usage
// stats. The call config's model and token budget win over the provider
// defaults.
func (p *Provider) Call(ctx context.Context, messages []mentor.Message, opts mentor.CallOptions) (*mentor.ProviderResponse, error) {
	startTime := time.Now()

	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	capitan.Info(ctx, mentor.ProviderCallStarted,
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(model),
		mentor.TemperatureKey.Field(float64(opts.Temperature)),
	)

	// System messages go in the dedicated field, not the message list.
	var systemParts []string
	var apiMessages []message
	for _, msg := range messages {
		if msg.Role == mentor.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			apiMessages = append(apiMessages, message{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	requestBody := messagesRequest{
		Model:       model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}
	if len(systemParts) > 0 {
		requestBody.System = strings.Join(systemParts, "\n\n")
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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

	var messagesResp messagesResponse
	if err := json.Unmarshal(body, &messagesResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content string
	for _, block := range messagesResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no text content in response")
	}

	duration := time.Since(startTime)

	fields := []capitan.Field{
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(messagesResp.Model),
		mentor.PromptTokensKey.Field(messagesResp.Usage.InputTokens),
		mentor.CompletionTokensKey.Field(messagesResp.Usage.OutputTokens),
		mentor.TotalTokensKey.Field(messagesResp.Usage.InputTokens + messagesResp.Usage.OutputTokens),
		mentor.DurationMsKey.Field(int(duration.Milliseconds())),
		mentor.HTTPStatusCodeKey.Field(resp.StatusCode),
		mentor.ResponseIDKey.Field(messagesResp.ID),
	}
	if messagesResp.StopReason != "" {
		fields = append(fields, mentor.ResponseFinishReasonKey.Field(messagesResp.StopReason))
	}
	capitan.Info(ctx, mentor.ProviderCallCompleted, fields...)

	return &mentor.ProviderResponse{
		Content: content,
		Usage: mentor.TokenUsage{
			Prompt:     messagesResp.Usage.InputTokens,
			Completion: messagesResp.Usage.OutputTokens,
			Total:      messagesResp.Usage.InputTokens + messagesResp.Usage.OutputTokens,
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

// Request/Response types for the Anthropic API

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
