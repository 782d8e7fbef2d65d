// Package settings drives the settings panel: preference toggles, persona
// selection and voice option editing.
package settings

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/persona"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// Session is the persona session seen by the panel.
type Session interface {
	State() persona.State
	ListAvailable(ctx context.Context) (persona.Listing, error)
	SwitchTo(ctx context.Context, name string) error
	UpdateVoiceOption(ctx context.Context, key string, value any) error
	OnChange(fn func(api.Descriptor))
}

// Legacy is the single-persona settings endpoint used when no persona is
// active.
type Legacy interface {
	Settings(ctx context.Context) (speech.Options, error)
	SaveSettings(ctx context.Context, opts speech.Options) (speech.Options, error)
}

// Panel is the render model of the settings panel.
type Panel struct {
	Visible    bool
	Typewriter bool
	Voice      bool
	Personas   []string
	Current    string
	// Legacy is set when the values come from the single-persona endpoint.
	Legacy bool
	Values speech.Options
}

// Controller owns the panel model.
type Controller struct {
	session Session
	prefs   *prefs.Store
	legacy  Legacy
	logger  *zap.Logger

	mu    sync.Mutex
	panel Panel
	// committed holds the last values known to be saved on the server.
	committed speech.Options
}

// NewController creates a hidden panel and subscribes to persona switches.
func NewController(session Session, store *prefs.Store, legacy Legacy, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		session: session,
		prefs:   store,
		legacy:  legacy,
		logger:  logger.Named("settings"),
		panel:     Panel{Values: speech.Options{}},
		committed: speech.Options{},
	}
	session.OnChange(c.refresh)
	return c
}

// Open loads fresh values and only then shows the panel. On failure the
// panel stays hidden and keeps its previous values.
func (c *Controller) Open(ctx context.Context) error {
	current := c.prefs.Get()

	if c.session.State() == persona.Active {
		listing, err := c.session.ListAvailable(ctx)
		if err != nil {
			c.logger.Warn("load personas for panel failed", zap.Error(err))
			return err
		}
		c.mu.Lock()
		c.panel.Personas = append([]string(nil), listing.Names...)
		c.panel.Current = listing.Current.Name
		c.panel.Values = listing.Current.VsayOptions.Clone()
		c.committed = listing.Current.VsayOptions.Clone()
		c.panel.Legacy = false
		c.show(current)
		c.mu.Unlock()
		return nil
	}

	if c.legacy == nil {
		return persona.ErrNotActive
	}
	opts, err := c.legacy.Settings(ctx)
	if err != nil {
		c.logger.Warn("load legacy settings failed", zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.panel.Personas = nil
	c.panel.Current = ""
	c.panel.Values = opts.Clone()
	c.committed = opts.Clone()
	c.panel.Legacy = true
	c.show(current)
	c.mu.Unlock()
	return nil
}

func (c *Controller) show(p prefs.Preferences) {
	c.panel.Typewriter = p.TypewriterEnabled
	c.panel.Voice = p.VoiceEnabled
	c.panel.Visible = true
}

// Close hides the panel.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.Visible = false
}

// SetTypewriter writes the typewriter toggle through to the preferences.
func (c *Controller) SetTypewriter(ctx context.Context, enabled bool) error {
	if err := c.prefs.SetTypewriter(ctx, enabled); err != nil {
		c.logger.Warn("save typewriter preference failed", zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.panel.Typewriter = enabled
	c.mu.Unlock()
	return nil
}

// SetVoice writes the voice toggle through to the preferences.
func (c *Controller) SetVoice(ctx context.Context, enabled bool) error {
	if err := c.prefs.SetVoice(ctx, enabled); err != nil {
		c.logger.Warn("save voice preference failed", zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.panel.Voice = enabled
	c.mu.Unlock()
	return nil
}

// Input updates the visible readout of key without touching the network.
func (c *Controller) Input(key string, value any) error {
	normalized, err := speech.Normalize(key, value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panel.Values == nil {
		c.panel.Values = speech.Options{}
	}
	c.panel.Values[key] = normalized
	return nil
}

// Commit sends the readout of key to the server. When the save fails the
// readout goes back to the last saved value.
func (c *Controller) Commit(ctx context.Context, key string) error {
	c.mu.Lock()
	value, ok := c.panel.Values[key]
	legacy := c.panel.Legacy
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no value for %s", key)
	}

	if !legacy {
		if err := c.session.UpdateVoiceOption(ctx, key, value); err != nil {
			c.logger.Warn("commit voice option failed", zap.String("key", key), zap.Error(err))
			c.revert(key)
			return err
		}
		c.mu.Lock()
		c.committed[key] = value
		c.mu.Unlock()
		return nil
	}

	opts, err := c.legacy.Settings(ctx)
	if err != nil {
		c.logger.Warn("fetch legacy settings failed", zap.Error(err))
		c.revert(key)
		return err
	}
	saved, err := c.legacy.SaveSettings(ctx, opts.Merge(speech.Options{key: value}).Clamped())
	if err != nil {
		c.logger.Warn("save legacy settings failed", zap.String("key", key), zap.Error(err))
		c.revert(key)
		return err
	}
	c.mu.Lock()
	if v, ok := saved[key]; ok {
		c.panel.Values[key] = v
		c.committed[key] = v
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) revert(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.committed[key]; ok {
		c.panel.Values[key] = v
		return
	}
	delete(c.panel.Values, key)
}

// SelectPersona switches the active persona. The readouts refresh from the
// server's values when the switch succeeds.
func (c *Controller) SelectPersona(ctx context.Context, name string) error {
	if err := c.session.SwitchTo(ctx, name); err != nil {
		return err
	}
	c.mu.Lock()
	c.panel.Legacy = false
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the panel model.
func (c *Controller) Snapshot() Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.panel
	p.Personas = append([]string(nil), c.panel.Personas...)
	p.Values = c.panel.Values.Clone()
	return p
}

func (c *Controller) refresh(d api.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.Current = d.Name
	c.panel.Values = d.VsayOptions.Clone()
	c.committed = d.VsayOptions.Clone()
}
