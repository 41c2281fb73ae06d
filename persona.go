package mentor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
)

// UserPersonaData is the structured summary of a user derived from all of
// their conversation memories. One instance exists per user; Extra carries
// optional extensible keys.
type UserPersonaData struct {
	Persona string            `json:"persona"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Validate checks the persona against its schema.
func (p UserPersonaData) Validate() error {
	if p.Persona == "" {
		return fmt.Errorf("persona required but empty")
	}
	return nil
}

// InjectionValues renders the persona for the placeholder engine. Extra
// keys are exposed alongside the core persona field.
func (p UserPersonaData) InjectionValues() map[string]string {
	vals := map[string]string{"persona": p.Persona}
	for k, v := range p.Extra {
		vals[k] = v
	}
	return vals
}

// PersonaRecord is a stored persona keyed by user id.
type PersonaRecord struct {
	UserID    string
	Data      UserPersonaData
	UpdatedAt time.Time
}

// PersonaStore persists user personas. Upsert overwrites the single record
// for a user; repeated synthesis never duplicates.
type PersonaStore interface {
	Get(ctx context.Context, userID string) (*PersonaRecord, error)
	Upsert(ctx context.Context, rec PersonaRecord) error
}

// PersonaSynthesizer is the batch job that summarizes a user's conversation
// memories into a persona. Idempotent: repeated invocation for the same
// user overwrites the one persona record, which makes it safe under
// at-least-once batch delivery.
type PersonaSynthesizer struct {
	adapter  *Adapter
	memories MemoryStore
	store    PersonaStore
	memSynth *MemorySynthesizer
	schema   string
}

// NewPersonaSynthesizer wires the synthesizer to its collaborators.
// memSynth is optional; without it, the refresh pre-step is skipped.
func NewPersonaSynthesizer(adapter *Adapter, memories MemoryStore, store PersonaStore, memSynth *MemorySynthesizer) *PersonaSynthesizer {
	return &PersonaSynthesizer{
		adapter:  adapter,
		memories: memories,
		store:    store,
		memSynth: memSynth,
		schema:   generateJSONSchema[UserPersonaData](),
	}
}

// Synthesize regenerates the persona for one user. When refreshStale is
// set and a memory synthesizer is wired, conversations with stale memories
// are re-summarized first so the persona operates on fresh artifacts; a
// partial refresh failure degrades to the memories on hand.
func (s *PersonaSynthesizer) Synthesize(ctx context.Context, userID string, refreshStale bool, cfg FlowConfig) (UserPersonaData, error) {
	if refreshStale && s.memSynth != nil {
		if stale, err := s.memSynth.StaleConversations(ctx, userID, cfg); err == nil && len(stale) > 0 {
			s.memSynth.RunBatch(ctx, userID, stale)
		}
	}

	records, err := s.memories.ListByUser(ctx, userID)
	if err != nil {
		return UserPersonaData{}, fmt.Errorf("list memories for %s: %w", userID, err)
	}
	if len(records) == 0 {
		return UserPersonaData{}, fmt.Errorf("user %s has no conversation memories", userID)
	}

	prompt := s.buildPrompt(records)
	data, err := s.generate(ctx, prompt.Render())
	if err != nil {
		capitan.Error(ctx, SynthSkipped,
			UserIDKey.Field(userID),
			ErrorKey.Field(err.Error()),
			ErrorTypeKey.Field("validation_error"),
		)
		return UserPersonaData{}, err
	}

	rec := PersonaRecord{UserID: userID, Data: data, UpdatedAt: time.Now()}
	if err := s.store.Upsert(ctx, rec); err != nil {
		// One persona row per user; a lost write race just means try again.
		if !errors.Is(err, ErrUpsertConflict) {
			return UserPersonaData{}, fmt.Errorf("upsert persona %s: %w", userID, err)
		}
		if err := s.store.Upsert(ctx, rec); err != nil {
			return UserPersonaData{}, fmt.Errorf("upsert persona %s: %w", userID, err)
		}
	}

	capitan.Info(ctx, SynthCompleted,
		UserIDKey.Field(userID),
		CallTypeKey.Field(string(CallPersona)),
	)
	return data, nil
}

// buildPrompt lays each memory out as one input block.
func (s *PersonaSynthesizer) buildPrompt(records []MemoryRecord) *Prompt {
	input := ""
	for i, rec := range records {
		if i > 0 {
			input += "\n"
		}
		input += fmt.Sprintf("Conversation %d: topics %v; actions %v; observation: %s",
			i+1, rec.Data.MainTopics, rec.Data.Action, rec.Data.TypicalObservation)
	}

	return &Prompt{
		Task: "Derive a coaching persona for this learner from the conversation " +
			"memories below: how they learn, what motivates them, and what a coach " +
			"should keep in mind.",
		Input:  input,
		Schema: s.schema,
		Constraints: []string{
			"persona: a few sentences, written about the learner in third person",
			"extra: optional additional traits as short key/value pairs",
		},
	}
}

// generate invokes the model with one re-prompt for malformed output.
func (s *PersonaSynthesizer) generate(ctx context.Context, rendered string) (UserPersonaData, error) {
	raw, _, err := s.adapter.Invoke(ctx, CallPersona, rendered, nil)
	if err != nil {
		return UserPersonaData{}, err
	}
	data, decodeErr := decodeOutput[UserPersonaData](raw)
	if decodeErr == nil {
		return data, nil
	}

	raw, _, err = s.adapter.Invoke(ctx, CallPersona, rendered, nil)
	if err != nil {
		return UserPersonaData{}, err
	}
	return decodeOutput[UserPersonaData](raw)
}

// RunBatch synthesizes personas for a set of users with per-item failure
// isolation.
func (s *PersonaSynthesizer) RunBatch(ctx context.Context, userIDs []string, refreshStale bool, cfg FlowConfig) BatchResult {
	result := BatchResult{Failed: make(map[string]error)}
	for _, id := range userIDs {
		if _, err := s.Synthesize(ctx, id, refreshStale, cfg); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}
