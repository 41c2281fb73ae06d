// Package sqlitestore provides a SQLite-backed implementation of the
// mentor persistence interfaces: MemoryStore, PersonaStore, and
// TemplateSource share one database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/covale/mentor"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config holds store configuration.
type Config struct {
	DataDir  string
	Filename string // Optional, defaults to "mentor.db"
}

// Store persists conversation memories, user personas, and prompt
// templates in SQLite. Safe for concurrent use; sql.DB pools connections
// and WAL mode allows concurrent readers.
type Store struct {
	db *sql.DB
}

// New creates a new Store. It creates the data directory if needed, opens
// SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("sqlitestore: create data dir: %w", err)
	}

	filename := cfg.Filename
	if filename == "" {
		filename = "mentor.db"
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, filename))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("sqlitestore: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sqlitestore: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_memories (
			conversation_id TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			data            TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_user ON conversation_memories(user_id);

		CREATE TABLE IF NOT EXISTS user_personas (
			user_id    TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS prompt_templates (
			name           TEXT    NOT NULL,
			version_number INTEGER NOT NULL,
			purpose        TEXT    NOT NULL DEFAULT '',
			text           TEXT    NOT NULL,
			is_active      INTEGER NOT NULL DEFAULT 1,
			is_production  INTEGER NOT NULL DEFAULT 0,
			updated_at     TEXT    NOT NULL,
			PRIMARY KEY (name, version_number)
		);

		CREATE INDEX IF NOT EXISTS idx_templates_name ON prompt_templates(name, is_production);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Conversation memories ───────────────────────────────────────────────────

// Get retrieves the memory for a conversation, or nil when none exists.
func (s *Store) Get(ctx context.Context, conversationID string) (*mentor.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, data, updated_at
		 FROM conversation_memories WHERE conversation_id = ?`,
		conversationID,
	)

	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

// Upsert inserts or overwrites the single memory record for a
// conversation. Re-running synthesis for the same conversation never
// produces a second row.
func (s *Store) Upsert(ctx context.Context, rec mentor.MemoryRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_memories (conversation_id, user_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		     user_id    = excluded.user_id,
		     data       = excluded.data,
		     updated_at = excluded.updated_at`,
		rec.ConversationID, rec.UserID, string(data), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", classifyWriteErr(err))
	}
	return nil
}

// classifyWriteErr maps SQLite busy/locked races on concurrent writes to
// the engine's retryable conflict sentinel. All writes here are idempotent
// upserts, so a caller losing the race can simply try again.
func classifyWriteErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED") {
		return fmt.Errorf("%w: %v", mentor.ErrUpsertConflict, err)
	}
	return err
}

// ListByUser returns all conversation memories belonging to a user,
// most recently updated first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]mentor.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, user_id, data, updated_at
		 FROM conversation_memories
		 WHERE user_id = ?
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var records []mentor.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("list memories: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*mentor.MemoryRecord, error) {
	var rec mentor.MemoryRecord
	var data, updatedAt string
	if err := row.Scan(&rec.ConversationID, &rec.UserID, &data, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("decode memory data: %w", err)
	}
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// ─── User personas ───────────────────────────────────────────────────────────

// GetPersona retrieves the persona for a user, or nil when none exists.
func (s *Store) GetPersona(ctx context.Context, userID string) (*mentor.PersonaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, data, updated_at FROM user_personas WHERE user_id = ?`,
		userID,
	)

	var rec mentor.PersonaRecord
	var data, updatedAt string
	err := row.Scan(&rec.UserID, &data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("decode persona data: %w", err)
	}
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// UpsertPersona inserts or overwrites the single persona record for a user.
func (s *Store) UpsertPersona(ctx context.Context, rec mentor.PersonaRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_personas (user_id, data, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     data       = excluded.data,
		     updated_at = excluded.updated_at`,
		rec.UserID, string(data), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert persona: %w", classifyWriteErr(err))
	}
	return nil
}

// Personas returns a PersonaStore view of this store. The memory methods
// already satisfy mentor.MemoryStore on *Store directly; personas need an
// adapter because both interfaces name their methods Get and Upsert.
func (s *Store) Personas() mentor.PersonaStore {
	return personaView{s}
}

type personaView struct {
	s *Store
}

func (v personaView) Get(ctx context.Context, userID string) (*mentor.PersonaRecord, error) {
	return v.s.GetPersona(ctx, userID)
}

func (v personaView) Upsert(ctx context.Context, rec mentor.PersonaRecord) error {
	return v.s.UpsertPersona(ctx, rec)
}

// ─── Prompt templates ────────────────────────────────────────────────────────

// Fetch returns every stored version of a named template.
func (s *Store) Fetch(ctx context.Context, name string) ([]mentor.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, purpose, version_number, text, is_active, is_production
		 FROM prompt_templates
		 WHERE name = ?
		 ORDER BY version_number ASC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch templates: %w", err)
	}
	defer rows.Close()

	var templates []mentor.Template
	for rows.Next() {
		var t mentor.Template
		if err := rows.Scan(&t.Name, &t.Purpose, &t.VersionNumber, &t.Text, &t.Active, &t.Production); err != nil {
			return nil, fmt.Errorf("fetch templates: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// SaveTemplate inserts or overwrites one template version.
func (s *Store) SaveTemplate(ctx context.Context, t mentor.Template) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_templates (name, version_number, purpose, text, is_active, is_production, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, version_number) DO UPDATE SET
		     purpose       = excluded.purpose,
		     text          = excluded.text,
		     is_active     = excluded.is_active,
		     is_production = excluded.is_production,
		     updated_at    = excluded.updated_at`,
		t.Name, t.VersionNumber, t.Purpose, t.Text, t.Active, t.Production,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save template: %w", classifyWriteErr(err))
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
