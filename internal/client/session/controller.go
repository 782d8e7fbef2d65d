// Package session owns the client state and wires the orchestration
// components together.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/attachment"
	"github.com/zhouzirui/spectra-communicator/internal/client/exchange"
	"github.com/zhouzirui/spectra-communicator/internal/client/persona"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/client/settings"
)

// API is everything the client needs from the service.
type API interface {
	persona.API
	exchange.Sender
	settings.Legacy
	AudioURL(ref string) (string, error)
}

// State is the single owner of the client's mutable state. Components get
// it by reference.
type State struct {
	Draft       string
	Prefs       *prefs.Store
	Attachments *attachment.Pipeline
	Persona     *persona.Session
	Transcript  *exchange.Transcript
	Exchange    *exchange.Pipeline
	Settings    *settings.Controller
}

// Deps configures New.
type Deps struct {
	API             API
	KV              prefs.KV
	Player          exchange.Player
	Indicator       attachment.Indicator
	Decoder         attachment.Decoder
	Tracer          exchange.Tracer
	Speaking        exchange.Speaking
	TypewriterDelay time.Duration
	FailureText     string
	DefaultAvatar   string
	Logger          *zap.Logger
}

// Controller drives the client session.
type Controller struct {
	mu     sync.Mutex
	state  *State
	logger *zap.Logger
}

// New builds the component graph around d.
func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := prefs.NewStore(d.KV)
	personaSession := persona.NewSession(d.API, store, logger)
	transcript := exchange.NewTranscript()

	opts := []exchange.Option{
		exchange.WithPersona(personaSession),
		exchange.WithAudioResolver(d.API.AudioURL),
		exchange.WithRevealers(exchange.NewTypewriter(d.TypewriterDelay), exchange.Instant{}),
		exchange.WithFailureText(d.FailureText),
		exchange.WithLogger(logger),
	}
	if d.Player != nil {
		opts = append(opts, exchange.WithPlayer(d.Player))
	}
	if d.Tracer != nil {
		opts = append(opts, exchange.WithTracer(d.Tracer))
	}
	if d.Speaking != nil {
		opts = append(opts, exchange.WithSpeaking(d.Speaking))
	}
	if d.DefaultAvatar != "" {
		opts = append(opts, exchange.WithDefaultAvatar(d.DefaultAvatar))
	}

	state := &State{
		Prefs:       store,
		Attachments: attachment.New(d.Decoder, d.Indicator, logger),
		Persona:     personaSession,
		Transcript:  transcript,
		Exchange:    exchange.New(d.API, transcript, store, opts...),
		Settings:    settings.NewController(personaSession, store, d.API, logger),
	}
	return &Controller{state: state, logger: logger.Named("session")}
}

// State returns the shared state.
func (c *Controller) State() *State {
	return c.state
}

// Start loads the preferences and initializes the persona session. Failures
// are logged; the session stays usable.
func (c *Controller) Start(ctx context.Context) {
	if _, err := c.state.Prefs.Load(ctx); err != nil {
		c.logger.Warn("load preferences failed, using defaults", zap.Error(err))
	}
	if err := c.state.Persona.Initialize(ctx); err != nil {
		c.logger.Warn("persona session not initialized", zap.Error(err))
	}
}

// SetDraft replaces the input draft.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Draft = text
}

// Draft returns the input draft.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Draft
}

// Submit hands the draft and the pending attachment to the exchange
// pipeline, clearing both in the same step. ok is false when there was
// nothing to send.
func (c *Controller) Submit(ctx context.Context) (done <-chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := c.state.Draft
	if _, pending := c.state.Attachments.Pending(); !pending && strings.TrimSpace(text) == "" {
		return nil, false
	}

	var att *attachment.Attachment
	if taken, ok := c.state.Attachments.Take(); ok {
		att = &taken
	}
	c.state.Draft = ""
	return c.state.Exchange.Submit(ctx, text, att)
}

// Wait blocks until background work has settled.
func (c *Controller) Wait() {
	c.state.Attachments.Wait()
	c.state.Exchange.Wait()
}
