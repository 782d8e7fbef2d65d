// Package persona tracks the active persona of the chat client and keeps its
// voice options in step with the server.
package persona

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// ErrNotActive is returned by operations that need an active persona.
var ErrNotActive = errors.New("no active persona")

// State of the session.
type State int

const (
	Uninitialized State = iota
	Loading
	Active
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// API is the subset of the service client the session needs.
type API interface {
	Personas(ctx context.Context) ([]string, error)
	CurrentPersona(ctx context.Context) (api.Descriptor, error)
	SetCurrentPersona(ctx context.Context, name string) (api.Descriptor, error)
	SavePersonaSettings(ctx context.Context, name string, opts speech.Options) error
}

// Listing populates the settings view.
type Listing struct {
	Names   []string
	Current api.Descriptor
}

// Session holds the active persona.
type Session struct {
	api    API
	prefs  *prefs.Store
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	active    *api.Descriptor
	switchGen uint64
	observers []func(api.Descriptor)

	// writeMu serializes voice option read-modify-write sequences.
	writeMu sync.Mutex
}

// NewSession creates an uninitialized session.
func NewSession(client API, store *prefs.Store, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{api: client, prefs: store, logger: logger.Named("persona")}
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns a copy of the active persona.
func (s *Session) Active() (api.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return api.Descriptor{}, false
	}
	return s.active.Clone(), true
}

// ActiveName returns the active persona name, or "".
func (s *Session) ActiveName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Name
}

// OnChange registers fn to run after every successful switch or
// initialization.
func (s *Session) OnChange(fn func(api.Descriptor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Initialize adopts the remembered persona, or the server's current one when
// nothing is remembered. On failure the session stays Uninitialized.
func (s *Session) Initialize(ctx context.Context) error {
	remembered := s.prefs.Get().LastPersona

	gen := s.beginLoading()
	var (
		desc api.Descriptor
		err  error
	)
	if remembered != "" {
		desc, err = s.api.SetCurrentPersona(ctx, remembered)
	} else {
		desc, err = s.api.CurrentPersona(ctx)
	}
	if err != nil {
		s.endLoading(gen)
		s.logger.Warn("initialize persona failed", zap.String("remembered", remembered), zap.Error(err))
		return fmt.Errorf("initialize persona: %w", err)
	}

	s.activate(gen, desc)
	s.logger.Info("persona active", zap.String("name", desc.Name))
	return nil
}

// SwitchTo remembers name immediately, then asks the server to make it
// current. The remembered name is kept even when the switch fails.
func (s *Session) SwitchTo(ctx context.Context, name string) error {
	if err := s.prefs.SetLastPersona(ctx, name); err != nil {
		s.logger.Warn("remember persona failed", zap.String("name", name), zap.Error(err))
	}

	gen := s.beginLoading()
	desc, err := s.api.SetCurrentPersona(ctx, name)
	if err != nil {
		s.endLoading(gen)
		s.logger.Warn("switch persona failed", zap.String("name", name), zap.Error(err))
		return fmt.Errorf("switch to %s: %w", name, err)
	}

	if !s.activate(gen, desc) {
		s.logger.Debug("superseded switch result dropped", zap.String("name", name))
		return nil
	}
	s.logger.Info("persona switched", zap.String("name", desc.Name))
	return nil
}

// UpdateVoiceOption merges one edited option into the server's copy of the
// active persona's options and saves the result. Updates issued from this
// session are applied one at a time.
func (s *Session) UpdateVoiceOption(ctx context.Context, key string, value any) error {
	active, ok := s.Active()
	if !ok || s.State() != Active {
		return ErrNotActive
	}

	normalized, err := speech.Normalize(key, value)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	base := active.VsayOptions
	server, err := s.api.CurrentPersona(ctx)
	switch {
	case err != nil:
		s.logger.Warn("fetch persona before save failed", zap.String("name", active.Name), zap.Error(err))
		return fmt.Errorf("fetch %s: %w", active.Name, err)
	case server.Name == active.Name:
		base = server.VsayOptions
	default:
		// the server moved to another persona; merge onto our copy instead
		s.logger.Debug("server current persona differs", zap.String("active", active.Name), zap.String("server", server.Name))
		if local, ok := s.Active(); ok && local.Name == active.Name {
			base = local.VsayOptions
		}
	}

	merged := base.Merge(speech.Options{key: normalized}).Clamped()
	if err := s.api.SavePersonaSettings(ctx, active.Name, merged); err != nil {
		s.logger.Warn("save voice option failed", zap.String("name", active.Name), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("save %s: %w", active.Name, err)
	}

	s.mu.Lock()
	if s.active != nil && s.active.Name == active.Name {
		s.active.VsayOptions = merged.Clone()
	}
	s.mu.Unlock()

	s.logger.Debug("voice option saved", zap.String("name", active.Name), zap.String("key", key), zap.Any("value", normalized))
	return nil
}

// ListAvailable fetches the persona names and the current descriptor in
// parallel.
func (s *Session) ListAvailable(ctx context.Context) (Listing, error) {
	var listing Listing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := s.api.Personas(gctx)
		if err != nil {
			return fmt.Errorf("list personas: %w", err)
		}
		listing.Names = names
		return nil
	})
	g.Go(func() error {
		current, err := s.api.CurrentPersona(gctx)
		if err != nil {
			return fmt.Errorf("current persona: %w", err)
		}
		listing.Current = current
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("list personas failed", zap.Error(err))
		return Listing{}, err
	}
	return listing, nil
}

func (s *Session) beginLoading() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchGen++
	s.state = Loading
	return s.switchGen
}

// endLoading restores the previous state after a failed request, unless a
// newer request has taken over.
func (s *Session) endLoading(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.switchGen {
		return
	}
	if s.active != nil {
		s.state = Active
	} else {
		s.state = Uninitialized
	}
}

func (s *Session) activate(gen uint64, desc api.Descriptor) bool {
	s.mu.Lock()
	if gen != s.switchGen {
		s.mu.Unlock()
		return false
	}
	d := desc.Clone()
	if d.VsayOptions == nil {
		d.VsayOptions = speech.Options{}
	}
	s.active = &d
	s.state = Active
	observers := append([]func(api.Descriptor){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(d.Clone())
	}
	return true
}
