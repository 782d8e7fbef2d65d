// Package attachment holds the single pending image attachment of the chat
// client.
package attachment

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// File is a user supplied file, from a picker or a drop.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Kind returns the media type, sniffing the bytes when none was declared.
func (f File) Kind() string {
	if f.MediaType != "" {
		return f.MediaType
	}
	return http.DetectContentType(f.Data)
}

// IsImage reports whether the file is an image.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.Kind(), "image/")
}

// Attachment is a decoded file waiting to be sent.
type Attachment struct {
	FileName  string
	MediaType string
	Data      []byte
	Preview   string
}

// Decoder turns a file into its preview representation.
type Decoder interface {
	Decode(f File) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(f File) (string, error)

func (fn DecoderFunc) Decode(f File) (string, error) { return fn(f) }

// DataURLDecoder renders the preview as a base64 data URL.
var DataURLDecoder = DecoderFunc(func(f File) (string, error) {
	if len(f.Data) == 0 {
		return "", errors.New("empty file")
	}
	return "data:" + f.Kind() + ";base64," + base64.StdEncoding.EncodeToString(f.Data), nil
})

// Indicator is the visible "file attached" marker.
type Indicator interface {
	Show(fileName string)
	Hide()
}

type nopIndicator struct{}

func (nopIndicator) Show(string) {}
func (nopIndicator) Hide()       {}

// Pipeline owns the pending attachment. Decodes run asynchronously and are
// tagged with a monotonic token; only the newest decode may publish.
type Pipeline struct {
	decoder   Decoder
	indicator Indicator
	logger    *zap.Logger

	mu      sync.Mutex
	token   uint64
	pending *Attachment
	wg      sync.WaitGroup
}

// New creates a pipeline. nil arguments fall back to the data URL decoder, a
// no-op indicator and a no-op logger.
func New(decoder Decoder, indicator Indicator, logger *zap.Logger) *Pipeline {
	if decoder == nil {
		decoder = DataURLDecoder
	}
	if indicator == nil {
		indicator = nopIndicator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{decoder: decoder, indicator: indicator, logger: logger.Named("attachment")}
}

// Select starts decoding f. Non-image files are ignored. The returned channel
// closes once this selection settles, whether it was applied or superseded.
func (p *Pipeline) Select(f File) <-chan struct{} {
	done := make(chan struct{})
	if !f.IsImage() {
		p.logger.Debug("ignoring non-image file", zap.String("file", f.Name), zap.String("kind", f.Kind()))
		close(done)
		return done
	}

	p.mu.Lock()
	p.token++
	token := p.token
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(done)
		p.decode(token, f)
	}()
	return done
}

func (p *Pipeline) decode(token uint64, f File) {
	preview, err := p.decoder.Decode(f)

	p.mu.Lock()
	defer p.mu.Unlock()

	if token != p.token {
		p.logger.Debug("discarding stale decode", zap.String("file", f.Name))
		return
	}
	if err != nil {
		p.logger.Warn("decode attachment failed", zap.String("file", f.Name), zap.Error(err))
		return
	}

	p.pending = &Attachment{
		FileName:  f.Name,
		MediaType: f.Kind(),
		Data:      f.Data,
		Preview:   preview,
	}
	p.indicator.Show(f.Name)
}

// AcceptDrop selects the first dropped file; the rest are discarded.
func (p *Pipeline) AcceptDrop(files []File) <-chan struct{} {
	if len(files) == 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.Select(files[0])
}

// Clear drops the pending attachment and any decode still in flight.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

func (p *Pipeline) clearLocked() {
	p.token++
	p.pending = nil
	p.indicator.Hide()
}

// Pending returns a copy of the pending attachment.
func (p *Pipeline) Pending() (Attachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Attachment{}, false
	}
	return *p.pending, true
}

// Take returns the pending attachment and clears the slot in one step.
func (p *Pipeline) Take() (Attachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	att := p.pending
	p.clearLocked()
	if att == nil {
		return Attachment{}, false
	}
	return *att, true
}

// Wait blocks until every started decode has settled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
