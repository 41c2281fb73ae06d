// Package gemini implements the mentor Provider interface over the
// Google Gemini generateContent API.
package gemini

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

// Provider implements the mentor Provider interface for the Gemini API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	name       string
}

// Config holds configuration for the Gemini provider.
type Config struct {
	APIKey  string
	Model   string        // Default model when the call config names none
	BaseURL string        // Optional, defaults to "https://generativelanguage.googleapis.com/v1beta"
	Timeout time.Duration // Optional, defaults to 30s
}

// New creates a new Gemini provider.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Provider{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		name:    "gemini",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Call sends messages to Gemini and returns the response with usage stats.
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

	// System messages move to system_instruction. Gemini also names the
	// assistant role "model".
	var systemParts []string
	var contents []content
	for _, msg := range messages {
		if msg.Role == mentor.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := msg.Role
		if role == mentor.RoleAssistant {
			role = "model"
		}
		contents = append(contents, content{
			Role: role,
			Parts: []part{
				{Text: msg.Content},
			},
		})
	}

	requestBody := generateContentRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			Temperature:      opts.Temperature,
			MaxOutputTokens:  opts.MaxTokens,
			ResponseMIMEType: "application/json",
		},
	}
	if len(systemParts) > 0 {
		requestBody.SystemInstruction = &content{
			Parts: []part{
				{Text: strings.Join(systemParts, "\n\n")},
			},
		}
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

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

	var generateResp generateContentResponse
	if err := json.Unmarshal(body, &generateResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(generateResp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := generateResp.Candidates[0]
	var textContent string
	for _, pt := range candidate.Content.Parts {
		if pt.Text != "" {
			textContent = pt.Text
			break
		}
	}
	if textContent == "" {
		return nil, fmt.Errorf("no text content in response")
	}

	duration := time.Since(startTime)

	promptTokens := generateResp.UsageMetadata.PromptTokenCount
	completionTokens := generateResp.UsageMetadata.CandidatesTokenCount
	totalTokens := generateResp.UsageMetadata.TotalTokenCount

	fields := []capitan.Field{
		mentor.ProviderKey.Field(p.name),
		mentor.ModelKey.Field(model),
		mentor.PromptTokensKey.Field(promptTokens),
		mentor.CompletionTokensKey.Field(completionTokens),
		mentor.TotalTokensKey.Field(totalTokens),
		mentor.DurationMsKey.Field(int(duration.Milliseconds())),
		mentor.HTTPStatusCodeKey.Field(resp.StatusCode),
	}
	if candidate.FinishReason != "" {
		fields = append(fields, mentor.ResponseFinishReasonKey.Field(candidate.FinishReason))
	}
	capitan.Info(ctx, mentor.ProviderCallCompleted, fields...)

	return &mentor.ProviderResponse{
		Content: textContent,
		Usage: mentor.TokenUsage{
			Prompt:     promptTokens,
			Completion: completionTokens,
			Total:      totalTokens,
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
			mentor.APIErrorTypeKey.Field(errorResp.Error.Status),
			mentor.APIErrorCodeKey.Field(fmt.Sprintf("%d", errorResp.Error.Code)),
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

// Request/Response types for the Gemini API

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float32 `json:"temperature,omitempty"`
	TopP             float32 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateContentResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
	Index        int     `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
