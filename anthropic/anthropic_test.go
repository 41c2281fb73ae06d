package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/covale/mentor"
)

func TestProviderCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify headers
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("Expected anthropic-version header, got %s", r.Header.Get("anthropic-version"))
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected /v1/messages, got %s", r.URL.Path)
		}

		// Verify request body
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		if req.Model != "claude-sonnet-4-20250514" {
			t.Errorf("Unexpected model: %s", req.Model)
		}
		if req.MaxTokens != 4096 {
			t.Errorf("Expected default max_tokens 4096, got %d", req.MaxTokens)
		}
		// System messages must be lifted out of the message list.
		if req.System != "you are a coach" {
			t.Errorf("Expected system field, got %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "test prompt" {
			t.Errorf("Unexpected messages: %v", req.Messages)
		}

		resp := messagesResponse{
			ID:    "msg-test",
			Model: "claude-sonnet-4-20250514",
			Content: []contentBlock{
				{Type: "text", Text: `{"summary": "test response"}`},
			},
			StopReason: "end_turn",
			Usage:      usage{InputTokens: 12, OutputTokens: 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := New(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	response, err := provider.Call(context.Background(), []mentor.Message{
		{Role: mentor.RoleSystem, Content: "you are a coach"},
		{Role: mentor.RoleUser, Content: "test prompt"},
	}, mentor.CallOptions{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if response.Content != `{"summary": "test response"}` {
		t.Errorf("Unexpected content: %q", response.Content)
	}
	if response.Usage.Total != 19 {
		t.Errorf("Expected 19 total tokens, got %d", response.Usage.Total)
	}
}

func TestProviderCallOverrides(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "claude-opus-4-20250514" {
			t.Errorf("Expected model override, got %s", req.Model)
		}
		if req.MaxTokens != 1024 {
			t.Errorf("Expected max_tokens 1024, got %d", req.MaxTokens)
		}

		json.NewEncoder(w).Encode(messagesResponse{
			Content: []contentBlock{{Type: "text", Text: "ok"}},
		})
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL})

	_, err := provider.Call(context.Background(), []mentor.Message{
		{Role: mentor.RoleUser, Content: "test"},
	}, mentor.CallOptions{Model: "claude-opus-4-20250514", MaxTokens: 1024})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
}

func TestProviderErrorHandling(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		expectedError string
		retryable     bool
	}{
		{
			name:          "rate limit error",
			statusCode:    http.StatusTooManyRequests,
			responseBody:  `{"type": "error", "error": {"type": "rate_limit_error", "message": "Rate limit exceeded"}}`,
			expectedError: "Rate limit exceeded",
			retryable:     true,
		},
		{
			name:          "invalid request",
			statusCode:    http.StatusBadRequest,
			responseBody:  `{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens required"}}`,
			expectedError: "max_tokens required",
			retryable:     false,
		},
		{
			name:          "overloaded",
			statusCode:    529,
			responseBody:  `{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`,
			expectedError: "Overloaded",
			retryable:     true,
		},
		{
			name:          "server error non-JSON body",
			statusCode:    http.StatusInternalServerError,
			responseBody:  `not json`,
			expectedError: "status 500",
			retryable:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			provider := New(Config{APIKey: "test-key", BaseURL: server.URL})

			_, err := provider.Call(context.Background(), []mentor.Message{
				{Role: mentor.RoleUser, Content: "test"},
			}, mentor.CallOptions{})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("Expected error containing %q, got %q", tt.expectedError, err.Error())
			}

			var provErr *mentor.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if provErr.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v for status %d", tt.retryable, tt.statusCode)
			}
		})
	}
}

func TestProviderNoTextContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "msg-test", "content": []}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL})

	_, err := provider.Call(context.Background(), []mentor.Message{
		{Role: mentor.RoleUser, Content: "test"},
	}, mentor.CallOptions{})
	if err == nil {
		t.Fatal("Expected error but got none")
	}
	if !strings.Contains(err.Error(), "no text content") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestProviderName(t *testing.T) {
	provider := New(Config{APIKey: "test-key"})
	if provider.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got %q", provider.Name())
	}
}
