package mentor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// ConversationMemoryData is the structured summary of one finished
// conversation: its topics, suggested follow-up actions, and a typical
// observation about the exchange. One instance exists per conversation.
type ConversationMemoryData struct {
	MainTopics         []string `json:"main_topics"`
	Action             []string `json:"action"`
	TypicalObservation string   `json:"typical_observation"`
}

// Validate checks the memory against its schema.
func (m ConversationMemoryData) Validate() error {
	if len(m.MainTopics) == 0 {
		return fmt.Errorf("main_topics required but empty")
	}
	if m.TypicalObservation == "" {
		return fmt.Errorf("typical_observation required but empty")
	}
	return nil
}

// InjectionValues renders the memory for the placeholder engine. List
// fields join with commas.
func (m ConversationMemoryData) InjectionValues() map[string]string {
	return map[string]string{
		"main_topics":         strings.Join(m.MainTopics, ", "),
		"action":              strings.Join(m.Action, ", "),
		"typical_observation": m.TypicalObservation,
	}
}

// MemoryRecord is a stored memory keyed by conversation id.
type MemoryRecord struct {
	ConversationID string
	UserID         string
	Data           ConversationMemoryData
	UpdatedAt      time.Time
}

// MemoryStore persists conversation memories. Upsert overwrites the single
// record for a conversation; repeated synthesis never duplicates.
type MemoryStore interface {
	Get(ctx context.Context, conversationID string) (*MemoryRecord, error)
	Upsert(ctx context.Context, rec MemoryRecord) error
	ListByUser(ctx context.Context, userID string) ([]MemoryRecord, error)
}

// TranscriptSource exposes the external conversation store read-only.
type TranscriptSource interface {
	// Transcript returns the full message history of a conversation.
	Transcript(ctx context.Context, conversationID string) ([]Message, error)
	// LastActivity returns when the conversation last changed.
	LastActivity(ctx context.Context, conversationID string) (time.Time, error)
	// ConversationsByUser lists a user's conversation ids.
	ConversationsByUser(ctx context.Context, userID string) ([]string, error)
}

// MemorySynthesizer is the batch job that summarizes a conversation
// transcript into a ConversationMemoryData and upserts it. Safe to re-run:
// the trigger mechanism is at-least-once and the upsert is idempotent.
type MemorySynthesizer struct {
	adapter     *Adapter
	transcripts TranscriptSource
	store       MemoryStore
	schema      string
}

// NewMemorySynthesizer wires the synthesizer to its collaborators.
func NewMemorySynthesizer(adapter *Adapter, transcripts TranscriptSource, store MemoryStore) *MemorySynthesizer {
	return &MemorySynthesizer{
		adapter:     adapter,
		transcripts: transcripts,
		store:       store,
		schema:      generateJSONSchema[ConversationMemoryData](),
	}
}

// Synthesize regenerates the memory for one conversation. Validation
// failure skips the upsert and returns the error; the stored record is
// never replaced with an invalid one.
func (s *MemorySynthesizer) Synthesize(ctx context.Context, conversationID, userID string) (ConversationMemoryData, error) {
	transcript, err := s.transcripts.Transcript(ctx, conversationID)
	if err != nil {
		return ConversationMemoryData{}, fmt.Errorf("fetch transcript %s: %w", conversationID, err)
	}
	if len(transcript) == 0 {
		return ConversationMemoryData{}, fmt.Errorf("conversation %s has no messages", conversationID)
	}

	prompt := &Prompt{
		Task: "Summarize this coaching conversation into a structured memory: the " +
			"main topics discussed, concrete follow-up actions for the learner, and " +
			"one typical observation about how the learner engages.",
		History: transcript,
		Schema:  s.schema,
		Constraints: []string{
			"main_topics: short noun phrases, most important first",
			"action: imperative phrases the learner can act on",
			"typical_observation: one sentence",
		},
	}

	data, err := s.generate(ctx, prompt.Render())
	if err != nil {
		capitan.Error(ctx, SynthSkipped,
			ConversationIDKey.Field(conversationID),
			ErrorKey.Field(err.Error()),
			ErrorTypeKey.Field("validation_error"),
		)
		return ConversationMemoryData{}, err
	}

	rec := MemoryRecord{
		ConversationID: conversationID,
		UserID:         userID,
		Data:           data,
		UpdatedAt:      time.Now(),
	}
	if err := upsertMemory(ctx, s.store, rec); err != nil {
		return ConversationMemoryData{}, fmt.Errorf("upsert memory %s: %w", conversationID, err)
	}

	capitan.Info(ctx, SynthCompleted,
		ConversationIDKey.Field(conversationID),
		UserIDKey.Field(userID),
		CallTypeKey.Field(string(CallMemory)),
	)
	return data, nil
}

// upsertMemory writes one memory record, retrying once when the store
// loses a write race. Upserts are idempotent by conversation id, so the
// retry cannot duplicate.
func upsertMemory(ctx context.Context, store MemoryStore, rec MemoryRecord) error {
	err := store.Upsert(ctx, rec)
	if errors.Is(err, ErrUpsertConflict) {
		err = store.Upsert(ctx, rec)
	}
	return err
}

// generate invokes the model with one re-prompt for malformed output.
func (s *MemorySynthesizer) generate(ctx context.Context, rendered string) (ConversationMemoryData, error) {
	raw, _, err := s.adapter.Invoke(ctx, CallMemory, rendered, nil)
	if err != nil {
		return ConversationMemoryData{}, err
	}
	data, decodeErr := decodeOutput[ConversationMemoryData](raw)
	if decodeErr == nil {
		return data, nil
	}

	raw, _, err = s.adapter.Invoke(ctx, CallMemory, rendered, nil)
	if err != nil {
		return ConversationMemoryData{}, err
	}
	return decodeOutput[ConversationMemoryData](raw)
}

// NeedsRefresh decides whether a conversation's memory should be
// (re)generated: no memory yet, or memory older than the conversation's
// last activity. Never while the conversation is still active, so
// mid-flow conversations are not repeatedly summarized. Thresholds come
// from FlowConfig and are tunable.
func NeedsRefresh(mem *MemoryRecord, lastActivity, now time.Time, cfg FlowConfig) bool {
	if now.Sub(lastActivity) < cfg.InactiveAfter() {
		return false
	}
	if mem == nil {
		return true
	}
	return lastActivity.Sub(mem.UpdatedAt) > cfg.MemoryStaleAfter()
}

// BatchResult reports per-item outcomes of one batch run. Failures are
// isolated: one bad conversation never aborts the rest.
type BatchResult struct {
	Succeeded []string
	Failed    map[string]error
}

// RunBatch synthesizes memories for a set of conversations with per-item
// failure isolation.
func (s *MemorySynthesizer) RunBatch(ctx context.Context, userID string, conversationIDs []string) BatchResult {
	result := BatchResult{Failed: make(map[string]error)}
	for _, id := range conversationIDs {
		if _, err := s.Synthesize(ctx, id, userID); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// StaleConversations returns the subset of a user's conversations whose
// memory qualifies for regeneration under cfg's thresholds.
func (s *MemorySynthesizer) StaleConversations(ctx context.Context, userID string, cfg FlowConfig) ([]string, error) {
	ids, err := s.transcripts.ConversationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var stale []string
	for _, id := range ids {
		lastActivity, err := s.transcripts.LastActivity(ctx, id)
		if err != nil {
			continue
		}
		mem, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if NeedsRefresh(mem, lastActivity, now, cfg) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}
