package mentor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFlowConfigSimplified(t *testing.T) {
	tests := []struct {
		name  string
		cfg   FlowConfig
		want  bool
	}{
		{"neither", FlowConfig{}, false},
		{"use_only", FlowConfig{UseSimplifiedMode: true}, true},
		{"force_only", FlowConfig{ForceSimplifiedMode: true}, true},
		{"force_wins_over_stored_false", FlowConfig{UseSimplifiedMode: false, ForceSimplifiedMode: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Simplified(); got != tt.want {
				t.Errorf("Simplified() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlowConfigThresholds(t *testing.T) {
	cfg := DefaultFlowConfig()
	if cfg.MemoryStaleAfter() != time.Hour {
		t.Errorf("MemoryStaleAfter() = %v, want 1h", cfg.MemoryStaleAfter())
	}
	if cfg.InactiveAfter() != 30*time.Minute {
		t.Errorf("InactiveAfter() = %v, want 30m", cfg.InactiveAfter())
	}
	if cfg.ClarificationCap != 1 {
		t.Errorf("ClarificationCap = %d, want 1", cfg.ClarificationCap)
	}
}

func TestCallConfigResolve(t *testing.T) {
	cfg := CallConfig{
		DefaultProvider: "openai",
		Calls: map[string]CallSettings{
			"intent_clarification": {Provider: "anthropic", Model: "claude-sonnet-4-20250514", Temperature: 0.1, MaxTokens: 1024},
			"response_generation":  {Model: "gpt-4o"},
		},
	}

	t.Run("explicit_entry", func(t *testing.T) {
		provider, opts := cfg.Resolve(CallClarify)
		if provider != "anthropic" {
			t.Errorf("provider = %q, want anthropic", provider)
		}
		if opts.Model != "claude-sonnet-4-20250514" || opts.MaxTokens != 1024 {
			t.Errorf("Unexpected options: %+v", opts)
		}
		if opts.Temperature != 0.1 {
			t.Errorf("Temperature = %v, want 0.1", opts.Temperature)
		}
	})

	t.Run("missing_provider_falls_back_to_default", func(t *testing.T) {
		provider, opts := cfg.Resolve(CallResponse)
		if provider != "openai" {
			t.Errorf("provider = %q, want openai", provider)
		}
		if opts.Model != "gpt-4o" {
			t.Errorf("Model = %q, want gpt-4o", opts.Model)
		}
		// No pinned temperature means unset, not zero.
		if opts.Temperature != TemperatureUnset {
			t.Errorf("Temperature = %v, want unset", opts.Temperature)
		}
	})

	t.Run("near_zero_passes_through", func(t *testing.T) {
		// TemperatureZero exists because a literal 0 reads as "unset"; the
		// near-zero value must survive resolution untouched.
		pinned := CallConfig{
			DefaultProvider: "openai",
			Calls: map[string]CallSettings{
				"intent_clarification": {Temperature: TemperatureZero},
			},
		}
		_, opts := pinned.Resolve(CallClarify)
		if opts.Temperature != TemperatureZero {
			t.Errorf("Temperature = %v, want %v", opts.Temperature, TemperatureZero)
		}
	})

	t.Run("unknown_call_type", func(t *testing.T) {
		provider, opts := cfg.Resolve(CallMemory)
		if provider != "openai" {
			t.Errorf("provider = %q, want openai", provider)
		}
		if opts.Temperature != TemperatureUnset {
			t.Errorf("Temperature = %v, want unset", opts.Temperature)
		}
	})
}

func TestLoadCallConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	content := `{
		"default_provider": "openai",
		"providers": {"openai": "OPENAI_API_KEY"},
		"calls": {
			"simplified_response": {"model": "gpt-4o-mini", "temperature": 0.3}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCallConfig(path)
	if err != nil {
		t.Fatalf("LoadCallConfig failed: %v", err)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Calls["simplified_response"].Model != "gpt-4o-mini" {
		t.Errorf("Unexpected call settings: %+v", cfg.Calls)
	}

	if _, err := LoadCallConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFileConfigLoader(t *testing.T) {
	t.Run("absent_fields_get_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "flow.json")
		if err := os.WriteFile(path, []byte(`{"use_simplified_mode": true, "version": "v3"}`), 0600); err != nil {
			t.Fatal(err)
		}

		cfg, err := FileConfigLoader{Path: path}.Load(context.Background())
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !cfg.UseSimplifiedMode || cfg.Version != "v3" {
			t.Errorf("Unexpected config: %+v", cfg)
		}
		if cfg.MemoryStaleSeconds != 3600 || cfg.ClarificationCap != 1 {
			t.Errorf("Defaults not applied: %+v", cfg)
		}
	})

	t.Run("missing_file_is_config_load_error", func(t *testing.T) {
		_, err := FileConfigLoader{Path: "/nonexistent/flow.json"}.Load(context.Background())
		if !errors.Is(err, ErrConfigLoad) {
			t.Errorf("Expected ErrConfigLoad, got %v", err)
		}
	})
}

func TestConfigCache(t *testing.T) {
	t.Run("cold_load_cached", func(t *testing.T) {
		var loads atomic.Int32
		loader := ConfigLoaderFunc(func(context.Context) (FlowConfig, error) {
			loads.Add(1)
			return FlowConfig{Version: "v1", ClarificationCap: 1}, nil
		})
		cache := NewConfigCache(loader, time.Minute)

		for i := 0; i < 3; i++ {
			cfg, err := cache.Get(context.Background())
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if cfg.Version != "v1" {
				t.Errorf("Version = %q", cfg.Version)
			}
		}
		if loads.Load() != 1 {
			t.Errorf("Loader called %d times, want 1", loads.Load())
		}
	})

	t.Run("cold_failure_is_fatal", func(t *testing.T) {
		loader := ConfigLoaderFunc(func(context.Context) (FlowConfig, error) {
			return FlowConfig{}, fmt.Errorf("store unreachable")
		})
		cache := NewConfigCache(loader, time.Minute)

		_, err := cache.Get(context.Background())
		if !errors.Is(err, ErrConfigLoad) {
			t.Errorf("Expected ErrConfigLoad, got %v", err)
		}
	})

	t.Run("stale_served_while_refreshing", func(t *testing.T) {
		var loads atomic.Int32
		loader := ConfigLoaderFunc(func(context.Context) (FlowConfig, error) {
			n := loads.Add(1)
			return FlowConfig{Version: fmt.Sprintf("v%d", n)}, nil
		})
		cache := NewConfigCache(loader, time.Millisecond)

		cfg, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if cfg.Version != "v1" {
			t.Errorf("Version = %q, want v1", cfg.Version)
		}

		time.Sleep(10 * time.Millisecond)

		// The stale read returns immediately with the old copy.
		cfg, err = cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if cfg.Version != "v1" {
			t.Errorf("Stale read returned %q, want v1", cfg.Version)
		}

		// Eventually the background refresh lands.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			cfg, _ = cache.Get(context.Background())
			if cfg.Version != "v1" {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if cfg.Version == "v1" {
			t.Error("Background refresh never replaced the stale entry")
		}
	})

	t.Run("refresh_failure_keeps_stale", func(t *testing.T) {
		var loads atomic.Int32
		loader := ConfigLoaderFunc(func(context.Context) (FlowConfig, error) {
			if loads.Add(1) > 1 {
				return FlowConfig{}, fmt.Errorf("store unreachable")
			}
			return FlowConfig{Version: "v1"}, nil
		})
		cache := NewConfigCache(loader, time.Millisecond)

		if _, err := cache.Get(context.Background()); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		cfg, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Stale read failed: %v", err)
		}
		if cfg.Version != "v1" {
			t.Errorf("Version = %q, want stale v1", cfg.Version)
		}
	})

	t.Run("invalidate_forces_reload", func(t *testing.T) {
		var loads atomic.Int32
		loader := ConfigLoaderFunc(func(context.Context) (FlowConfig, error) {
			n := loads.Add(1)
			return FlowConfig{Version: fmt.Sprintf("v%d", n)}, nil
		})
		cache := NewConfigCache(loader, time.Minute)

		if _, err := cache.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
		cache.Invalidate()

		cfg, err := cache.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Version != "v2" {
			t.Errorf("Version = %q, want v2 after invalidate", cfg.Version)
		}
	})
}
