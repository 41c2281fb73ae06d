package mentor

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider simulates LLM behavior for testing without network calls.
type MockProvider struct {
	name      string
	available bool
}

// NewMockProvider creates a new mock provider for testing.
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", available: true}
}

// NewMockProviderWithName creates a new mock provider with a specific name.
func NewMockProviderWithName(name string) *MockProvider {
	return &MockProvider{name: name, available: true}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return m.name
}

// SetAvailable sets the availability status (for testing failures).
func (m *MockProvider) SetAvailable(available bool) {
	m.available = available
}

// Call returns a canned completion, or an unavailable error.
func (m *MockProvider) Call(_ context.Context, _ []Message, _ CallOptions) (*ProviderResponse, error) {
	if !m.available {
		return nil, &ProviderError{
			Provider:  m.name,
			Retryable: true,
			Err:       fmt.Errorf("provider unavailable"),
		}
	}
	return &ProviderResponse{
		Content: "Mock response",
		Usage:   TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}, nil
}

// NewMockProviderWithResponse creates a mock that always returns a specific
// response.
func NewMockProviderWithResponse(response string) Provider {
	return &mockProviderFixed{name: "mock-fixed", response: response}
}

// mockProviderFixed always returns a fixed response.
type mockProviderFixed struct {
	name     string
	response string
}

func (m *mockProviderFixed) Name() string { return m.name }

func (m *mockProviderFixed) Call(_ context.Context, _ []Message, _ CallOptions) (*ProviderResponse, error) {
	return &ProviderResponse{Content: m.response}, nil
}

// NewMockProviderWithCallback creates a mock that calls a function to
// generate responses. The callback receives the final user message.
func NewMockProviderWithCallback(callback func(prompt string, opts CallOptions) (string, error)) Provider {
	return &mockProviderCallback{name: "mock-callback", callback: callback}
}

// mockProviderCallback uses a callback to generate responses.
type mockProviderCallback struct {
	name     string
	callback func(string, CallOptions) (string, error)
}

func (m *mockProviderCallback) Name() string { return m.name }

func (m *mockProviderCallback) Call(_ context.Context, messages []Message, opts CallOptions) (*ProviderResponse, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	content, err := m.callback(prompt, opts)
	if err != nil {
		return nil, err
	}
	return &ProviderResponse{Content: content}, nil
}

// NewMockProviderWithScript creates a mock that returns each response in
// order, repeating the last one once the script is exhausted. Useful for
// exercising re-prompt and clarification loops.
func NewMockProviderWithScript(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{name: "mock-scripted", responses: responses}
}

// ScriptedProvider replays a fixed sequence of responses.
type ScriptedProvider struct {
	name      string
	responses []string

	mu    sync.Mutex
	calls int
}

// Name returns the provider identifier.
func (m *ScriptedProvider) Name() string { return m.name }

// Calls reports how many times the provider has been invoked.
func (m *ScriptedProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Call returns the next scripted response.
func (m *ScriptedProvider) Call(_ context.Context, _ []Message, _ CallOptions) (*ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.responses) == 0 {
		return nil, &ProviderError{Provider: m.name, Retryable: false, Err: fmt.Errorf("script empty")}
	}
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return &ProviderResponse{Content: m.responses[idx]}, nil
}

// NewMockProviderWithError creates a mock that always fails with a
// transport error.
func NewMockProviderWithError(msg string) Provider {
	return &mockProviderError{name: "mock-error", msg: msg}
}

type mockProviderError struct {
	name string
	msg  string
}

func (m *mockProviderError) Name() string { return m.name }

func (m *mockProviderError) Call(_ context.Context, _ []Message, _ CallOptions) (*ProviderResponse, error) {
	return nil, &ProviderError{Provider: m.name, Retryable: false, Err: fmt.Errorf("%s", m.msg)}
}
