// Package mentor is the conversational-processing core of an AI coaching
// service. It turns one user message plus accumulated context (conversation
// history, a structured conversation memory, a user persona) into a
// model-generated reply, and houses the two batch synthesizers that derive
// those context artifacts from past conversations.
//
// The engine is built from small composable parts:
//
//   - Adapter: uniform call contract over multiple model providers, selected
//     per call type from static configuration
//   - Injector: placeholder substitution for {{CONVERSATION_MEMORY}} and
//     {{USER_PERSONA}} tokens embedded in stored prompt templates
//   - Clarifier: bounded follow-up-question loop for ambiguous queries
//   - Orchestrator: sequences the simplified single-call mode or the full
//     intent -> knowledge -> response -> enhancement pipeline
//   - MemorySynthesizer / PersonaSynthesizer: idempotent batch jobs that
//     summarize transcripts and memories into validated artifacts
//
// All LLM calls run through pipz pipelines for timeout and transport retry,
// and emit capitan hooks for observability.
//
// Basic usage:
//
//	adapter := mentor.NewAdapter(callConfig)
//	adapter.Register(openai.New(openai.Config{APIKey: key}))
//	orch := mentor.NewOrchestrator(adapter, templates)
//	out, _ := orch.Process(ctx, mentor.Input{Query: "why do leaves turn red?"}, flowCfg)
//	fmt.Println(out.ResponseText)
package mentor

import "context"

// Provider defines the interface for LLM providers.
// Providers accept conversation messages and return responses with usage stats.
type Provider interface {
	// Call sends messages to the LLM and returns the response with usage stats.
	// Messages should be in chronological order (oldest first).
	Call(ctx context.Context, messages []Message, opts CallOptions) (*ProviderResponse, error)

	// Name returns the provider identifier (e.g., "openai", "anthropic")
	Name() string
}

// Validator defines the interface for response validation.
// All structured output types must implement this so model outputs are
// checked before they are trusted.
type Validator interface {
	Validate() error
}

// CallOptions carries the per-call model parameters resolved from CallConfig.
type CallOptions struct {
	Model       string  // Provider-specific model identifier
	Temperature float32 // Sampling temperature
	MaxTokens   int     // Completion token budget (0 = provider default)
}

// TokenUsage contains token counts from a provider response.
type TokenUsage struct {
	Prompt     int // Tokens used by the prompt/messages
	Completion int // Tokens used by the completion/response
	Total      int // Total tokens used
}

// ProviderResponse contains the response from an LLM provider.
type ProviderResponse struct {
	Content string     // The text response content
	Usage   TokenUsage // Token usage statistics
}

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`    // RoleUser, RoleAssistant, or RoleSystem
	Content string `json:"content"` // The message content
}

// Role constants for message types.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// CallType names one kind of templated LLM call. Every call the engine makes
// is keyed by one of these, and CallConfig maps each to a provider, model,
// temperature, and token budget.
type CallType string

// Call types used by the orchestrator, clarifier, and synthesizers.
const (
	CallSimplified  CallType = "simplified_response"
	CallIntent      CallType = "intent_identification"
	CallClarify     CallType = "intent_clarification"
	CallKnowledge   CallType = "knowledge_retrieval"
	CallResponse    CallType = "response_generation"
	CallEnhancement CallType = "learning_enhancement"
	CallMemory      CallType = "memory_synthesis"
	CallPersona     CallType = "persona_synthesis"
)

// Default temperature constants for different call types.
// Lower values produce more deterministic outputs.
const (
	// TemperatureUnset indicates that no temperature has been explicitly set.
	// A zero-value float32 is also treated as unset for ergonomic struct
	// initialization.
	TemperatureUnset float32 = -1

	// TemperatureZero provides an explicitly near-zero temperature for
	// maximum determinism. Use this instead of 0.0 since zero means "unset".
	TemperatureZero float32 = 0.0001

	// DefaultTemperatureDeterministic is used for calls requiring consistent,
	// precise outputs (intent classification, memory synthesis).
	DefaultTemperatureDeterministic float32 = 0.1

	// DefaultTemperatureAnalytical is used for calls requiring consistent
	// analysis with some flexibility (knowledge retrieval, persona synthesis).
	DefaultTemperatureAnalytical float32 = 0.2

	// DefaultTemperatureCreative is used for calls benefiting from varied
	// phrasing (response generation, learning enhancement).
	DefaultTemperatureCreative float32 = 0.3
)

// CallRequest flows through the pipz pipeline inside the Adapter.
// It contains the rendered prompt, parameters, and response data.
type CallRequest struct {
	// Input fields
	Prompt   string    // Rendered prompt text, sent exactly as-is
	Messages []Message // Prior conversation messages, oldest first
	Options  CallOptions

	// Metadata fields
	RequestID    string   // Unique identifier for this request
	CallType     CallType // Which templated call this is
	ProviderName string   // Name of the provider being used

	// Output fields (populated by pipeline)
	Response string      // Raw text response from provider
	Usage    *TokenUsage // Token usage from provider response
}
