package mentor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/pipz"
)

// Adapter is the uniform call contract over all registered model providers.
// It resolves a call type to a provider, model, temperature, and token
// budget via CallConfig, then runs the call through a pipz pipeline. The
// adapter holds no request-scoped state; invocations are independent.
//
// Retry policy: the terminal processor retries transient transport failures
// (timeouts, rate limits, 5xx) with bounded exponential backoff. Malformed
// model output is never retried here; that decision belongs to the caller.
type Adapter struct {
	config      CallConfig
	providers   map[string]Provider
	opts        []Option
	maxRetries  int
	baseDelay   time.Duration
	callTimeout time.Duration

	// Pipelines are built once per provider and reused across calls so
	// stateful wrappers (circuit breaker, rate limiter) accumulate state
	// between invocations.
	mu        sync.Mutex
	pipelines map[string]pipz.Chainable[*CallRequest]
}

// AdapterSettings tunes the adapter's built-in reliability behavior.
type AdapterSettings struct {
	MaxRetries  int           // Transport retries after the first attempt (default 2)
	BaseDelay   time.Duration // Initial backoff delay, doubled per retry (default 500ms)
	CallTimeout time.Duration // Per-call deadline (default 30s)
}

// NewAdapter creates an adapter over the given call configuration.
// Additional pipz options (circuit breaker, rate limit, fallback) wrap the
// built-in timeout and retry behavior.
func NewAdapter(config CallConfig, opts ...Option) *Adapter {
	return &Adapter{
		config:      config,
		providers:   make(map[string]Provider),
		opts:        opts,
		maxRetries:  2,
		baseDelay:   500 * time.Millisecond,
		callTimeout: 30 * time.Second,
		pipelines:   make(map[string]pipz.Chainable[*CallRequest]),
	}
}

// Configure applies explicit reliability settings. Zero fields keep their
// defaults. Call before the first Invoke; the adapter is not safe to
// reconfigure concurrently with use.
func (a *Adapter) Configure(s AdapterSettings) *Adapter {
	if s.MaxRetries > 0 {
		a.maxRetries = s.MaxRetries
	}
	if s.BaseDelay > 0 {
		a.baseDelay = s.BaseDelay
	}
	if s.CallTimeout > 0 {
		a.callTimeout = s.CallTimeout
	}
	a.pipelines = make(map[string]pipz.Chainable[*CallRequest])
	return a
}

// Register adds a provider under its own name. Call before the first
// Invoke; registration is not synchronized with use. Re-registering a
// name discards that provider's built pipeline.
func (a *Adapter) Register(p Provider) {
	a.providers[p.Name()] = p
	delete(a.pipelines, p.Name())
}

// Invoke executes one templated call and returns the raw text completion.
// The prompt is sent exactly as rendered; history precedes it in the
// message sequence.
func (a *Adapter) Invoke(ctx context.Context, ct CallType, prompt string, history []Message) (string, *TokenUsage, error) {
	providerName, callOpts := a.config.Resolve(ct)
	provider, ok := a.providers[providerName]
	if !ok {
		return "", nil, fmt.Errorf("%w: no provider %q registered for call type %q", ErrConfigLoad, providerName, ct)
	}

	if callOpts.Temperature == TemperatureUnset || callOpts.Temperature == 0 {
		callOpts.Temperature = defaultTemperatureFor(ct)
	}

	req := &CallRequest{
		Prompt:       prompt,
		Messages:     history,
		Options:      callOpts,
		RequestID:    uuid.New().String(),
		CallType:     ct,
		ProviderName: providerName,
	}

	pipeline := a.pipelineFor(provider)
	processed, err := pipeline.Process(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if processed.Response == "" {
		return "", nil, fmt.Errorf("%w: no response from provider %q", ErrOutputInvalid, providerName)
	}
	return processed.Response, processed.Usage, nil
}

// pipelineFor returns the provider's call pipeline, building it on first
// use: retrying terminal, per-call timeout, then any caller-supplied
// options outermost. The built pipeline is memoized per provider; circuit
// breakers and rate limiters keep their state across invocations.
func (a *Adapter) pipelineFor(provider Provider) pipz.Chainable[*CallRequest] {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pipeline, ok := a.pipelines[provider.Name()]; ok {
		return pipeline
	}

	var pipeline pipz.Chainable[*CallRequest] = newTerminal(provider, a.maxRetries, a.baseDelay)
	pipeline = pipz.NewTimeout("call-timeout", pipeline, a.callTimeout)
	for _, opt := range a.opts {
		pipeline = opt(pipeline)
	}
	a.pipelines[provider.Name()] = pipeline
	return pipeline
}

// newTerminal creates the terminal processor that calls the provider with
// the history plus the rendered prompt as the final user message. Only
// transient transport errors are retried.
func newTerminal(provider Provider, maxRetries int, baseDelay time.Duration) pipz.Chainable[*CallRequest] {
	return pipz.Apply("provider-call", func(ctx context.Context, req *CallRequest) (*CallRequest, error) {
		messages := make([]Message, len(req.Messages)+1)
		copy(messages, req.Messages)
		messages[len(messages)-1] = Message{Role: RoleUser, Content: req.Prompt}

		delay := baseDelay
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return req, ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}

			resp, err := provider.Call(ctx, messages, req.Options)
			if err == nil {
				req.Response = resp.Content
				req.Usage = &resp.Usage
				return req, nil
			}
			lastErr = err
			if !IsRetryable(err) {
				return req, err
			}
		}
		return req, lastErr
	})
}

// defaultTemperatureFor maps a call type to its default temperature when
// the call configuration does not pin one.
func defaultTemperatureFor(ct CallType) float32 {
	switch ct {
	case CallIntent, CallClarify, CallMemory:
		return DefaultTemperatureDeterministic
	case CallKnowledge, CallPersona:
		return DefaultTemperatureAnalytical
	default:
		return DefaultTemperatureCreative
	}
}
