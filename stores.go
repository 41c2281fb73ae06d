package mentor

import (
	"context"
	"sync"
	"time"
)

// InMemoryMemoryStore is a map-backed MemoryStore. Used in tests and small
// deployments; production typically wires sqlitestore instead.
type InMemoryMemoryStore struct {
	mu      sync.RWMutex
	records map[string]MemoryRecord
}

// NewInMemoryMemoryStore creates an empty store.
func NewInMemoryMemoryStore() *InMemoryMemoryStore {
	return &InMemoryMemoryStore{records: make(map[string]MemoryRecord)}
}

// Get returns the memory for a conversation, or nil when none exists.
func (s *InMemoryMemoryStore) Get(_ context.Context, conversationID string) (*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[conversationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Upsert overwrites the single record for the conversation.
func (s *InMemoryMemoryStore) Upsert(_ context.Context, rec MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ConversationID] = rec
	return nil
}

// ListByUser returns all memories belonging to a user.
func (s *InMemoryMemoryStore) ListByUser(_ context.Context, userID string) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemoryRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len reports how many records exist.
func (s *InMemoryMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// InMemoryPersonaStore is a map-backed PersonaStore.
type InMemoryPersonaStore struct {
	mu      sync.RWMutex
	records map[string]PersonaRecord
}

// NewInMemoryPersonaStore creates an empty store.
func NewInMemoryPersonaStore() *InMemoryPersonaStore {
	return &InMemoryPersonaStore{records: make(map[string]PersonaRecord)}
}

// Get returns the persona for a user, or nil when none exists.
func (s *InMemoryPersonaStore) Get(_ context.Context, userID string) (*PersonaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Upsert overwrites the single record for the user.
func (s *InMemoryPersonaStore) Upsert(_ context.Context, rec PersonaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
	return nil
}

// Len reports how many records exist.
func (s *InMemoryPersonaStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// InMemoryTranscripts is a map-backed TranscriptSource for tests.
type InMemoryTranscripts struct {
	mu           sync.RWMutex
	transcripts  map[string][]Message
	lastActivity map[string]time.Time
	byUser       map[string][]string
}

// NewInMemoryTranscripts creates an empty source.
func NewInMemoryTranscripts() *InMemoryTranscripts {
	return &InMemoryTranscripts{
		transcripts:  make(map[string][]Message),
		lastActivity: make(map[string]time.Time),
		byUser:       make(map[string][]string),
	}
}

// Add registers a conversation with its transcript and activity time.
func (s *InMemoryTranscripts) Add(userID, conversationID string, transcript []Message, lastActivity time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[conversationID] = transcript
	s.lastActivity[conversationID] = lastActivity
	s.byUser[userID] = append(s.byUser[userID], conversationID)
}

// Transcript returns the message history of a conversation.
func (s *InMemoryTranscripts) Transcript(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcripts[conversationID], nil
}

// LastActivity returns when the conversation last changed.
func (s *InMemoryTranscripts) LastActivity(_ context.Context, conversationID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity[conversationID], nil
}

// ConversationsByUser lists a user's conversation ids.
func (s *InMemoryTranscripts) ConversationsByUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byUser[userID], nil
}
