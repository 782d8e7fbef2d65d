package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

const personaSchema = `
CREATE TABLE IF NOT EXISTS persona_options (
	name    TEXT PRIMARY KEY,
	options TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS persona_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const stateCurrent = "current"

// SQLiteStore layers durable voice options and current-persona selection on
// top of a MemoryStore. Reads are served from memory.
type SQLiteStore struct {
	*MemoryStore
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and restores any
// state saved for the seeded personas. Saved rows for personas no longer in
// the seed are ignored.
func OpenSQLiteStore(ctx context.Context, path string, seed []Persona) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open persona db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, personaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init persona db: %w", err)
	}

	store := &SQLiteStore{MemoryStore: NewMemoryStore(seed), db: db}
	if err := store.restore(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) restore(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, options FROM persona_options`)
	if err != nil {
		return fmt.Errorf("load persona options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return fmt.Errorf("scan persona options: %w", err)
		}
		var opts speech.Options
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return fmt.Errorf("decode options for %s: %w", name, err)
		}
		if _, err := s.MemoryStore.SaveOptions(name, opts); err != nil && !errors.Is(err, ErrPersonaNotFound) {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM persona_state WHERE key = ?`, stateCurrent).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("load current persona: %w", err)
	}
	if _, err := s.MemoryStore.SetCurrent(current); err != nil && !errors.Is(err, ErrPersonaNotFound) {
		return err
	}
	return nil
}

// SetCurrent persists the selection before applying it in memory.
func (s *SQLiteStore) SetCurrent(name string) (Persona, error) {
	if _, ok := s.FindByName(name); !ok {
		return Persona{}, ErrPersonaNotFound
	}
	_, err := s.db.Exec(`INSERT INTO persona_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, stateCurrent, name)
	if err != nil {
		return Persona{}, fmt.Errorf("save current persona: %w", err)
	}
	return s.MemoryStore.SetCurrent(name)
}

// SaveOptions persists the clamped options before applying them in memory.
func (s *SQLiteStore) SaveOptions(name string, opts speech.Options) (Persona, error) {
	if _, ok := s.FindByName(name); !ok {
		return Persona{}, ErrPersonaNotFound
	}
	clamped := opts.Clamped()
	raw, err := json.Marshal(clamped)
	if err != nil {
		return Persona{}, fmt.Errorf("encode options: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO persona_options (name, options) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET options = excluded.options`, name, string(raw))
	if err != nil {
		return Persona{}, fmt.Errorf("save persona options: %w", err)
	}
	return s.MemoryStore.SaveOptions(name, clamped)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
