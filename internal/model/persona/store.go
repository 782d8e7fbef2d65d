package persona

import (
	"errors"
	"sync"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// ErrPersonaNotFound is returned for names the store does not know.
var ErrPersonaNotFound = errors.New("persona not found")

// Store exposes persona retrieval and mutation for HTTP handlers.
type Store interface {
	List() []Persona
	FindByName(name string) (Persona, bool)
	Current() Persona
	SetCurrent(name string) (Persona, error)
	SaveOptions(name string, opts speech.Options) (Persona, error)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu      sync.RWMutex
	items   []Persona
	current int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// The first persona starts as current.
func NewMemoryStore(items []Persona) *MemoryStore {
	copied := make([]Persona, len(items))
	for i, item := range items {
		copied[i] = item.Clone()
	}
	return &MemoryStore{items: copied}
}

// List returns the personas in seed order.
func (s *MemoryStore) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Persona, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// FindByName looks up a persona by its unique name.
func (s *MemoryStore) FindByName(name string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(name); idx >= 0 {
		return s.items[idx].Clone(), true
	}
	return Persona{}, false
}

// Current returns the active persona, or the zero value for an empty store.
func (s *MemoryStore) Current() Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return Persona{}
	}
	return s.items[s.current].Clone()
}

// SetCurrent makes name the active persona.
func (s *MemoryStore) SetCurrent(name string) (Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return Persona{}, ErrPersonaNotFound
	}
	s.current = idx
	return s.items[idx].Clone(), nil
}

// SaveOptions replaces the voice options of name. Numeric controls are clamped.
func (s *MemoryStore) SaveOptions(name string, opts speech.Options) (Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return Persona{}, ErrPersonaNotFound
	}
	s.items[idx].VsayOptions = opts.Clamped()
	return s.items[idx].Clone(), nil
}

func (s *MemoryStore) indexOf(name string) int {
	for i, item := range s.items {
		if item.Name == name {
			return i
		}
	}
	return -1
}
