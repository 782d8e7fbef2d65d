// Package prefs persists the client's session preferences.
package prefs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Keys stored in the backend.
const (
	KeyTypewriter  = "typewriterEnabled"
	KeyVoice       = "voiceEnabled"
	KeyLastPersona = "lastPersona"
)

// KV is a durable string key/value backend.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Preferences is the client's session preference set.
type Preferences struct {
	TypewriterEnabled bool
	VoiceEnabled      bool
	LastPersona       string
}

// HasLastPersona reports whether a persona name was remembered.
func (p Preferences) HasLastPersona() bool {
	return p.LastPersona != ""
}

func defaults() Preferences {
	return Preferences{TypewriterEnabled: true, VoiceEnabled: true}
}

// Store is the only writer of Preferences. Every setter persists before
// updating the cached copy.
type Store struct {
	kv KV

	mu     sync.RWMutex
	prefs  Preferences
	loaded bool
}

// NewStore wraps kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, prefs: defaults()}
}

// Load reads the preferences once. Absent keys keep their defaults; an
// unparseable flag is treated as absent.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	prefs := defaults()

	for key, target := range map[string]*bool{
		KeyTypewriter: &prefs.TypewriterEnabled,
		KeyVoice:      &prefs.VoiceEnabled,
	} {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return s.Get(), fmt.Errorf("load %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if v, err := strconv.ParseBool(raw); err == nil {
			*target = v
		}
	}

	name, ok, err := s.kv.Get(ctx, KeyLastPersona)
	if err != nil {
		return s.Get(), fmt.Errorf("load %s: %w", KeyLastPersona, err)
	}
	if ok {
		prefs.LastPersona = name
	}

	s.mu.Lock()
	s.prefs = prefs
	s.loaded = true
	s.mu.Unlock()
	return prefs, nil
}

// Get returns the cached preferences.
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Loaded reports whether Load has completed.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// SetTypewriter persists the typewriter flag.
func (s *Store) SetTypewriter(ctx context.Context, enabled bool) error {
	return s.set(ctx, KeyTypewriter, strconv.FormatBool(enabled), func(p *Preferences) { p.TypewriterEnabled = enabled })
}

// SetVoice persists the voice flag.
func (s *Store) SetVoice(ctx context.Context, enabled bool) error {
	return s.set(ctx, KeyVoice, strconv.FormatBool(enabled), func(p *Preferences) { p.VoiceEnabled = enabled })
}

// SetLastPersona persists the remembered persona name.
func (s *Store) SetLastPersona(ctx context.Context, name string) error {
	return s.set(ctx, KeyLastPersona, name, func(p *Preferences) { p.LastPersona = name })
}

func (s *Store) set(ctx context.Context, key, value string, apply func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	apply(&s.prefs)
	return nil
}
