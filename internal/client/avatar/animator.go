// Package avatar animates the assistant while a reply is revealed: the
// mouth alternates between the idle and talk images at a fixed interval,
// optionally with a short beep each time it opens.
package avatar

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
)

const (
	DefaultInterval  = 150 * time.Millisecond
	DefaultIdleImage = "idle.png"
	DefaultTalkImage = "talk.png"
)

// Frame is one picture of the avatar.
type Frame struct {
	Speaker string
	Image   string
	// Talking is set while a reply is being revealed.
	Talking bool
	// MouthOpen is set when Image is the talk image.
	MouthOpen bool
}

// Face renders frames.
type Face interface {
	Show(f Frame)
}

// Beeper plays the reveal beep.
type Beeper interface {
	Beep(ctx context.Context) error
}

// Animator drives a Face from the reveal steps of the exchange pipeline.
type Animator struct {
	face     Face
	beeper   Beeper
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	gen     uint64
	talking bool
	open    bool
	last    time.Time
	speaker string
	idle    string
	talk    string

	beeping atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Animator.
type Option func(*Animator)

// WithInterval sets how often the mouth toggles.
func WithInterval(d time.Duration) Option {
	return func(a *Animator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithBeeper enables the beep on every mouth opening.
func WithBeeper(b Beeper) Option { return func(a *Animator) { a.beeper = b } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Animator) { a.logger = l } }

// New creates an animator rendering to face.
func New(face Face, opts ...Option) *Animator {
	a := &Animator{
		face:     face,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("avatar")
	return a
}

// Talk starts the animation for the reply of exchange gen.
func (a *Animator) Talk(gen uint64, d api.Descriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen = gen
	a.talking = true
	a.open = false
	a.last = a.now()
	a.speaker = d.AvatarName
	a.idle = d.AvatarImageIdle
	if a.idle == "" {
		a.idle = DefaultIdleImage
	}
	a.talk = d.AvatarImageTalk
	if a.talk == "" {
		a.talk = DefaultTalkImage
	}
	a.face.Show(a.frameLocked())
}

// Step is called for every revealed piece of text. The mouth toggles at
// most once per interval.
func (a *Animator) Step(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.talking {
		a.mu.Unlock()
		return
	}
	now := a.now()
	if now.Sub(a.last) < a.interval {
		a.mu.Unlock()
		return
	}
	a.last = now
	a.open = !a.open
	opened := a.open
	a.face.Show(a.frameLocked())
	a.mu.Unlock()

	if opened {
		a.beep()
	}
}

// Stop returns the face to idle. Stops from superseded exchanges are
// ignored.
func (a *Animator) Stop(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || !a.talking {
		return
	}
	a.talking = false
	a.open = false
	a.face.Show(a.frameLocked())
}

// Wait blocks until running beeps have finished.
func (a *Animator) Wait() {
	a.wg.Wait()
}

func (a *Animator) frameLocked() Frame {
	f := Frame{Speaker: a.speaker, Image: a.idle, Talking: a.talking}
	if a.open {
		f.Image = a.talk
		f.MouthOpen = true
	}
	return f
}

// beep plays in the background; a beep still playing swallows the next one.
func (a *Animator) beep() {
	if a.beeper == nil || !a.beeping.CompareAndSwap(false, true) {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.beeping.Store(false)
		if err := a.beeper.Beep(context.Background()); err != nil {
			a.logger.Debug("beep failed", zap.Error(err))
		}
	}()
}
