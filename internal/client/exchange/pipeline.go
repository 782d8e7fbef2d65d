// Package exchange runs the conversation state machine of the chat client:
// one submission in, one rendered reply (or failure line) out.
package exchange

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/attachment"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
)

// DefaultFailureText is the system line shown when an exchange fails.
const DefaultFailureText = "An error occurred. Please try again."

// Sender performs the network leg of an exchange.
type Sender interface {
	Chat(ctx context.Context, req api.ChatRequest) (api.ChatReply, error)
}

// Preferences exposes the current toggles.
type Preferences interface {
	Get() prefs.Preferences
}

// Persona exposes the active persona.
type Persona interface {
	Active() (api.Descriptor, bool)
}

// Player starts audio playback for a resolved URL.
type Player interface {
	Play(ctx context.Context, url string) error
}

// Speaking follows the avatar while a reply is revealed. Calls carry the
// exchange generation so a superseded reveal cannot stop a newer one.
type Speaking interface {
	Talk(gen uint64, avatar api.Descriptor)
	Step(gen uint64)
	Stop(gen uint64)
}

type nopSpeaking struct{}

func (nopSpeaking) Talk(uint64, api.Descriptor) {}
func (nopSpeaking) Step(uint64)                 {}
func (nopSpeaking) Stop(uint64)                 {}

// Pipeline serializes submissions into one coherent transcript. User lines
// are appended synchronously in Submit; replies are appended in submission
// order. A reply that starts rendering cancels the reveal of the one before
// it, whose line is then completed at once.
type Pipeline struct {
	sender     Sender
	transcript *Transcript
	prefs      Preferences
	persona    Persona
	player     Player
	resolve    func(ref string) (string, error)
	typewriter Revealer
	instant    Revealer
	tracer     Tracer
	speaking   Speaking
	failure    string
	avatar     string
	logger     *zap.Logger

	mu     sync.Mutex
	gen    uint64
	states map[uint64]State
	// tail closes once the newest exchange has appended its reply line.
	tail      chan struct{}
	rendering uint64
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPersona sets the active persona source.
func WithPersona(p Persona) Option { return func(pl *Pipeline) { pl.persona = p } }

// WithPlayer sets the audio player.
func WithPlayer(p Player) Option { return func(pl *Pipeline) { pl.player = p } }

// WithAudioResolver turns audio references into playable URLs.
func WithAudioResolver(fn func(ref string) (string, error)) Option {
	return func(pl *Pipeline) { pl.resolve = fn }
}

// WithRevealers sets the typewriter and instant revealers.
func WithRevealers(typewriter, instant Revealer) Option {
	return func(pl *Pipeline) {
		if typewriter != nil {
			pl.typewriter = typewriter
		}
		if instant != nil {
			pl.instant = instant
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option { return func(pl *Pipeline) { pl.tracer = t } }

// WithSpeaking sets the avatar animation hook.
func WithSpeaking(s Speaking) Option {
	return func(pl *Pipeline) {
		if s != nil {
			pl.speaking = s
		}
	}
}

// WithFailureText overrides the system line shown for failed exchanges.
func WithFailureText(text string) Option {
	return func(pl *Pipeline) {
		if text != "" {
			pl.failure = text
		}
	}
}

// WithDefaultAvatar names the speaker when no persona is active.
func WithDefaultAvatar(name string) Option { return func(pl *Pipeline) { pl.avatar = name } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(pl *Pipeline) { pl.logger = l } }

// New creates a pipeline writing to transcript.
func New(sender Sender, transcript *Transcript, preferences Preferences, opts ...Option) *Pipeline {
	p := &Pipeline{
		sender:     sender,
		transcript: transcript,
		prefs:      preferences,
		typewriter: NewTypewriter(0),
		instant:    Instant{},
		tracer:     nopTracer{},
		speaking:   nopSpeaking{},
		failure:    DefaultFailureText,
		avatar:     "Spectra",
		logger:     zap.NewNop(),
		states:     make(map[uint64]State),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("exchange")
	return p
}

// State reports the newest exchange's state, or Idle when it has finished.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[p.gen]; ok {
		return s
	}
	return Idle
}

// InFlight reports how many exchanges have not returned to Idle.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// Wait blocks until every exchange and playback has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit starts an exchange. With blank text and no attachment nothing
// happens and ok is false. Otherwise the user line is already in the
// transcript when Submit returns; done closes when the exchange is Idle.
func (p *Pipeline) Submit(ctx context.Context, text string, att *attachment.Attachment) (done <-chan struct{}, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return nil, false
	}

	line := Line{Role: RoleUser, Text: text}
	if att != nil {
		line.FileName = att.FileName
		line.Preview = att.Preview
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.transcript.Append(line)
	p.tracer.Event(gen, EventUserLine)
	prev := p.tail
	appended := make(chan struct{})
	p.tail = appended
	p.setStateLocked(gen, Sending)
	p.wg.Add(1)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer p.wg.Done()
		defer close(finished)
		p.run(ctx, gen, text, att, prev, appended)
	}()
	return finished, true
}

func (p *Pipeline) run(ctx context.Context, gen uint64, text string, att *attachment.Attachment, prev <-chan struct{}, appended chan struct{}) {
	current := p.prefs.Get()
	req := api.ChatRequest{Message: text}
	voice := current.VoiceEnabled
	req.Voice = &voice
	avatar := api.Descriptor{AvatarName: p.avatar}
	if p.persona != nil {
		if d, ok := p.persona.Active(); ok {
			req.Persona = d.Name
			if d.AvatarName == "" {
				d.AvatarName = p.avatar
			}
			avatar = d
		}
	}
	speaker := avatar.AvatarName
	if att != nil {
		req.Image = &api.Image{Name: att.FileName, Data: att.Data}
	}

	p.setState(gen, AwaitingReply)
	p.tracer.Event(gen, EventSend)
	reply, err := p.sender.Chat(ctx, req)

	// replies are placed in submission order
	if prev != nil {
		<-prev
	}

	if err != nil {
		p.logger.Warn("exchange failed", zap.Uint64("gen", gen), zap.Error(err))
		p.setState(gen, Failed)
		p.transcript.Append(Line{Role: RoleSystem, Text: p.failure})
		p.tracer.Event(gen, EventFailureLine)
		close(appended)
		p.setState(gen, Idle)
		return
	}
	p.tracer.Event(gen, EventReply)

	revealCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.tracer.Event(p.rendering, EventSuperseded)
		p.cancel()
	}
	p.rendering, p.cancel = gen, cancel
	p.setStateLocked(gen, Rendering)
	idx := p.transcript.Append(Line{Role: RoleAssistant, Speaker: speaker, AudioURL: reply.AudioURL})
	p.tracer.Event(gen, EventAssistantLine)
	p.mu.Unlock()
	close(appended)

	if reply.AudioURL != "" && p.prefs.Get().VoiceEnabled {
		p.play(ctx, gen, reply.AudioURL)
	}

	revealer := p.instant
	if p.prefs.Get().TypewriterEnabled {
		revealer = p.typewriter
	}
	p.tracer.Event(gen, EventReveal)
	p.speaking.Talk(gen, avatar)
	if err := revealer.Reveal(revealCtx, reply.Response, func(prefix string) {
		p.transcript.Update(idx, prefix)
		p.speaking.Step(gen)
	}); err != nil {
		p.logger.Debug("reveal stopped early", zap.Uint64("gen", gen), zap.Error(err))
	}
	// a cancelled reveal still leaves the full reply on screen
	p.transcript.Update(idx, reply.Response)
	p.speaking.Stop(gen)
	p.tracer.Event(gen, EventRevealDone)

	p.mu.Lock()
	if p.rendering == gen {
		p.rendering, p.cancel = 0, nil
	}
	p.setStateLocked(gen, Idle)
	p.mu.Unlock()
}

// play starts playback without blocking the reveal. Failures are logged only.
func (p *Pipeline) play(ctx context.Context, gen uint64, ref string) {
	if p.player == nil {
		return
	}
	target := ref
	if p.resolve != nil {
		resolved, err := p.resolve(ref)
		if err != nil {
			p.logger.Warn("resolve audio url failed", zap.String("ref", ref), zap.Error(err))
			return
		}
		target = resolved
	}

	p.tracer.Event(gen, EventPlay)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.player.Play(context.WithoutCancel(ctx), target); err != nil {
			p.logger.Warn("audio playback failed", zap.String("url", target), zap.Error(err))
		}
	}()
}

func (p *Pipeline) setState(gen uint64, to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStateLocked(gen, to)
}

func (p *Pipeline) setStateLocked(gen uint64, to State) {
	from, ok := p.states[gen]
	if !ok {
		from = Idle
	}
	if to == Idle {
		delete(p.states, gen)
	} else {
		p.states[gen] = to
	}
	p.tracer.Transition(gen, from, to)
}
