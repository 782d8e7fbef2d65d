package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/rivo/uniseg"
	"golang.org/x/time/rate"
)

// Revealer discloses already received text, calling show with every
// growing prefix. It returns ctx.Err() when stopped early.
type Revealer interface {
	Reveal(ctx context.Context, text string, show func(prefix string)) error
}

// Instant shows the whole text in one step.
type Instant struct{}

func (Instant) Reveal(ctx context.Context, text string, show func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	show(text)
	return nil
}

// Typewriter reveals one grapheme cluster per tick so multi-byte characters
// and emoji sequences are never split.
type Typewriter struct {
	delay time.Duration
}

// NewTypewriter paces the reveal at one cluster per delay.
func NewTypewriter(delay time.Duration) *Typewriter {
	return &Typewriter{delay: delay}
}

func (t *Typewriter) Reveal(ctx context.Context, text string, show func(string)) error {
	limit := rate.Inf
	if t.delay > 0 {
		limit = rate.Every(t.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var b strings.Builder
	b.Grow(len(text))
	graphemes := uniseg.NewGraphemes(text)
	for graphemes.Next() {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		b.WriteString(graphemes.Str())
		show(b.String())
	}
	return nil
}
