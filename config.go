package mentor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FlowConfig is the externally-stored, versioned pipeline configuration.
// It is loaded once per invocation from a ConfigCache and only ever read by
// the core; the loader refreshes it out of band.
type FlowConfig struct {
	// UseSimplifiedMode selects the single-call path over the full
	// four-stage pipeline.
	UseSimplifiedMode bool `json:"use_simplified_mode"`

	// ForceSimplifiedMode overrides UseSimplifiedMode when true. It exists
	// so operators can pin the simplified path without editing the stored
	// flag, and takes precedence over it.
	ForceSimplifiedMode bool `json:"force_simplified_mode"`

	// MemoryStaleSeconds is how much older than its conversation's last
	// activity a memory may be before it qualifies for regeneration.
	MemoryStaleSeconds int `json:"memory_stale_seconds"`

	// InactiveSeconds is how long a conversation must be quiet before the
	// memory synthesizer will touch it. Active conversations are never
	// summarized mid-flow.
	InactiveSeconds int `json:"inactive_seconds"`

	// ClarificationCap bounds how many extra follow-up rounds the
	// clarifier may run before forcing resolution.
	ClarificationCap int `json:"clarification_cap"`

	Version string `json:"version"`
}

// Simplified reports whether the simplified single-call mode is in effect.
// ForceSimplifiedMode wins over the stored flag.
func (c FlowConfig) Simplified() bool {
	return c.ForceSimplifiedMode || c.UseSimplifiedMode
}

// MemoryStaleAfter returns the staleness threshold as a duration.
func (c FlowConfig) MemoryStaleAfter() time.Duration {
	return time.Duration(c.MemoryStaleSeconds) * time.Second
}

// InactiveAfter returns the inactivity threshold as a duration.
func (c FlowConfig) InactiveAfter() time.Duration {
	return time.Duration(c.InactiveSeconds) * time.Second
}

// DefaultFlowConfig returns the thresholds used when a field is absent from
// the stored document. There is deliberately no default for the whole
// document: a missing config file fails the invocation.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		MemoryStaleSeconds: 3600,
		InactiveSeconds:    1800,
		ClarificationCap:   1,
	}
}

// CallSettings maps one call type to its provider and model parameters.
type CallSettings struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// CallConfig is the static call-type routing table, decoded from JSON.
// Providers names the credential source per provider; the core only uses it
// to surface configuration errors early.
type CallConfig struct {
	DefaultProvider string                  `json:"default_provider"`
	Providers       map[string]string       `json:"providers"`
	Calls           map[string]CallSettings `json:"calls"`
}

// Resolve returns the provider name and call options for a call type,
// falling back to the default provider and an unset temperature when the
// call type has no explicit entry.
func (c CallConfig) Resolve(ct CallType) (string, CallOptions) {
	settings, ok := c.Calls[string(ct)]
	if !ok {
		return c.DefaultProvider, CallOptions{Temperature: TemperatureUnset}
	}
	provider := settings.Provider
	if provider == "" {
		provider = c.DefaultProvider
	}
	temp := settings.Temperature
	if temp == 0 {
		temp = TemperatureUnset
	}
	return provider, CallOptions{
		Model:       settings.Model,
		Temperature: temp,
		MaxTokens:   settings.MaxTokens,
	}
}

// LoadCallConfig reads a call configuration JSON file.
func LoadCallConfig(path string) (CallConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CallConfig{}, fmt.Errorf("read call config: %w", err)
	}
	var cfg CallConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CallConfig{}, fmt.Errorf("parse call config: %w", err)
	}
	return cfg, nil
}

// ConfigLoader fetches the flow configuration from its external store.
type ConfigLoader interface {
	Load(ctx context.Context) (FlowConfig, error)
}

// FileConfigLoader loads a FlowConfig from a local JSON file. Thresholds
// absent from the file fall back to DefaultFlowConfig values.
type FileConfigLoader struct {
	Path string
}

// Load reads and decodes the configuration file.
func (l FileConfigLoader) Load(_ context.Context) (FlowConfig, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return FlowConfig{}, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	cfg := DefaultFlowConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FlowConfig{}, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	return cfg, nil
}

// ConfigLoaderFunc adapts a function to the ConfigLoader interface.
type ConfigLoaderFunc func(ctx context.Context) (FlowConfig, error)

// Load calls f.
func (f ConfigLoaderFunc) Load(ctx context.Context) (FlowConfig, error) {
	return f(ctx)
}

// ConfigCache serves a periodically-refreshed FlowConfig to concurrent
// invocations. Reads are lock-cheap; a stale entry is served immediately
// while a single background refresh runs (stale-while-revalidate). Only a
// cold cache blocks on the loader, and a cold-cache load failure is fatal
// for the invocation.
type ConfigCache struct {
	loader ConfigLoader
	ttl    time.Duration

	mu         sync.RWMutex
	cached     *FlowConfig
	fetchedAt  time.Time
	refreshing bool
}

// NewConfigCache creates a cache over loader, treating entries older than
// ttl as stale.
func NewConfigCache(loader ConfigLoader, ttl time.Duration) *ConfigCache {
	return &ConfigCache{loader: loader, ttl: ttl}
}

// Get returns the current flow configuration, loading it on first use.
func (c *ConfigCache) Get(ctx context.Context) (FlowConfig, error) {
	c.mu.RLock()
	cached := c.cached
	age := time.Since(c.fetchedAt)
	c.mu.RUnlock()

	if cached != nil {
		if age > c.ttl {
			c.refreshAsync()
		}
		return *cached, nil
	}

	cfg, err := c.loader.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrConfigLoad) {
			err = fmt.Errorf("%w: %v", ErrConfigLoad, err)
		}
		return FlowConfig{}, err
	}

	c.mu.Lock()
	c.cached = &cfg
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached entry so the next Get loads fresh.
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// refreshAsync kicks a single background reload. Concurrent invocations keep
// reading the stale copy; a failed refresh keeps the stale copy too.
func (c *ConfigCache) refreshAsync() {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cfg, err := c.loader.Load(ctx)

		c.mu.Lock()
		c.refreshing = false
		if err == nil {
			c.cached = &cfg
			c.fetchedAt = time.Now()
		}
		c.mu.Unlock()
	}()
}
