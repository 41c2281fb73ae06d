package mentor

import (
	"context"
	"fmt"
	"testing"
	"time"
)

const personaJSON = `{
	"persona": "A self-directed learner who prefers building small projects over reading theory.",
	"extra": {"pace": "fast"}
}`

func seedMemories(t *testing.T, store MemoryStore, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.Upsert(context.Background(), MemoryRecord{
			ConversationID: fmt.Sprintf("%s-c%d", userID, i),
			UserID:         userID,
			Data: ConversationMemoryData{
				MainTopics:         []string{"topic"},
				Action:             []string{"action"},
				TypicalObservation: "observation",
			},
			UpdatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestPersonaSynthesize(t *testing.T) {
	cfg := DefaultFlowConfig()

	t.Run("success", func(t *testing.T) {
		memories := NewInMemoryMemoryStore()
		seedMemories(t, memories, "u1", 2)
		store := NewInMemoryPersonaStore()

		synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(personaJSON)), memories, store, nil)

		data, err := synth.Synthesize(context.Background(), "u1", false, cfg)
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if data.Persona == "" {
			t.Error("Empty persona")
		}
		if data.Extra["pace"] != "fast" {
			t.Errorf("Extra = %v", data.Extra)
		}

		rec, err := store.Get(context.Background(), "u1")
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil || rec.Data.Persona != data.Persona {
			t.Errorf("Persona not stored: %+v", rec)
		}
	})

	t.Run("idempotent_upsert", func(t *testing.T) {
		memories := NewInMemoryMemoryStore()
		seedMemories(t, memories, "u1", 1)
		store := NewInMemoryPersonaStore()

		synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(personaJSON)), memories, store, nil)

		for i := 0; i < 3; i++ {
			if _, err := synth.Synthesize(context.Background(), "u1", false, cfg); err != nil {
				t.Fatalf("Synthesize %d failed: %v", i, err)
			}
		}
		if store.Len() != 1 {
			t.Errorf("Store has %d records, want 1", store.Len())
		}
	})

	t.Run("no_memories", func(t *testing.T) {
		synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(personaJSON)),
			NewInMemoryMemoryStore(), NewInMemoryPersonaStore(), nil)

		if _, err := synth.Synthesize(context.Background(), "u-nobody", false, cfg); err == nil {
			t.Error("Expected error for user with no memories")
		}
	})

	t.Run("invalid_output_never_stored", func(t *testing.T) {
		memories := NewInMemoryMemoryStore()
		seedMemories(t, memories, "u1", 1)
		store := NewInMemoryPersonaStore()

		synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(`{"persona": ""}`)), memories, store, nil)

		if _, err := synth.Synthesize(context.Background(), "u1", false, cfg); err == nil {
			t.Fatal("Expected validation error")
		}
		if store.Len() != 0 {
			t.Errorf("Invalid persona was stored")
		}
	})

	t.Run("refresh_stale_pre_step", func(t *testing.T) {
		// One stale conversation: refreshStale must regenerate its memory
		// before the persona is derived.
		transcripts := NewInMemoryTranscripts()
		transcripts.Add("u1", "c1", []Message{
			{Role: RoleUser, Content: "teach me testing"},
		}, time.Now().Add(-2*time.Hour))

		memories := NewInMemoryMemoryStore()
		provider := NewMockProviderWithScript(memoryJSON, personaJSON)
		adapter := newTestAdapter(provider)

		memSynth := NewMemorySynthesizer(adapter, transcripts, memories)
		synth := NewPersonaSynthesizer(adapter, memories, NewInMemoryPersonaStore(), memSynth)

		data, err := synth.Synthesize(context.Background(), "u1", true, DefaultFlowConfig())
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if data.Persona == "" {
			t.Error("Empty persona")
		}
		// Memory synthesis plus persona synthesis.
		if provider.Calls() != 2 {
			t.Errorf("Provider called %d times, want 2", provider.Calls())
		}
		if memories.Len() != 1 {
			t.Errorf("Memory not refreshed before persona synthesis")
		}
	})
}

// conflictOncePersonaStore rejects the first upsert with the conflict
// sentinel, then delegates.
type conflictOncePersonaStore struct {
	*InMemoryPersonaStore
	conflicted bool
}

func (s *conflictOncePersonaStore) Upsert(ctx context.Context, rec PersonaRecord) error {
	if !s.conflicted {
		s.conflicted = true
		return fmt.Errorf("upsert persona: %w", ErrUpsertConflict)
	}
	return s.InMemoryPersonaStore.Upsert(ctx, rec)
}

func TestPersonaSynthesizeRetriesUpsertConflict(t *testing.T) {
	memories := NewInMemoryMemoryStore()
	seedMemories(t, memories, "u1", 1)
	store := &conflictOncePersonaStore{InMemoryPersonaStore: NewInMemoryPersonaStore()}

	synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(personaJSON)), memories, store, nil)

	if _, err := synth.Synthesize(context.Background(), "u1", false, DefaultFlowConfig()); err != nil {
		t.Fatalf("Synthesize failed despite retryable conflict: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Store has %d records, want 1", store.Len())
	}
}

func TestPersonaRunBatch(t *testing.T) {
	memories := NewInMemoryMemoryStore()
	seedMemories(t, memories, "u1", 1)
	// u2 has no memories and must fail without blocking u3.
	seedMemories(t, memories, "u3", 1)

	store := NewInMemoryPersonaStore()
	synth := NewPersonaSynthesizer(newTestAdapter(NewMockProviderWithResponse(personaJSON)), memories, store, nil)

	result := synth.RunBatch(context.Background(), []string{"u1", "u2", "u3"}, false, DefaultFlowConfig())

	if len(result.Succeeded) != 2 {
		t.Errorf("Succeeded = %v, want u1 and u3", result.Succeeded)
	}
	if _, ok := result.Failed["u2"]; !ok {
		t.Errorf("u2 should have failed: %v", result.Failed)
	}
	if store.Len() != 2 {
		t.Errorf("Store has %d personas, want 2", store.Len())
	}
}

func TestUserPersonaInjectionValues(t *testing.T) {
	data := UserPersonaData{Persona: "A careful reader", Extra: map[string]string{"pace": "slow"}}
	values := data.InjectionValues()
	if values["persona"] != "A careful reader" {
		t.Errorf("persona = %q", values["persona"])
	}
}
