// Package api is the HTTP client for the assistant service consumed by the
// terminal chat client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// ErrRejected is returned when the service answers with a status:"error"
// envelope.
var ErrRejected = errors.New("request rejected")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Descriptor is the client's copy of a persona.
type Descriptor struct {
	Name            string         `json:"-"`
	AvatarName      string         `json:"avatarName"`
	AvatarFullName  string         `json:"avatarFullName"`
	AvatarImageIdle string         `json:"avatarImageIdle"`
	AvatarImageTalk string         `json:"avatarImageTalk,omitempty"`
	VsayOptions     speech.Options `json:"vsayOptions"`
}

// Clone copies the descriptor including its option mapping.
func (d Descriptor) Clone() Descriptor {
	d.VsayOptions = d.VsayOptions.Clone()
	return d
}

// Image is an attachment sent with a chat turn.
type Image struct {
	Name string
	Data []byte
}

// ChatRequest is one user turn.
type ChatRequest struct {
	Message string
	Image   *Image
	Persona string
	// Voice, when set, tells the service whether to synthesize audio.
	Voice *bool
}

// ChatReply is the service's answer to a turn.
type ChatReply struct {
	Response string `json:"response"`
	AudioURL string `json:"audio_url,omitempty"`
}

type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Name    string      `json:"name,omitempty"`
	Persona *Descriptor `json:"persona,omitempty"`
}

// Client talks to the assistant service.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses a copy of hc for requests. A cookie jar is added when
// it has none. A nil hc is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			copied := *hc
			c.httpClient = &copied
		}
	}
}

// WithTimeout bounds every request, whichever HTTP client is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}

	c := &Client{base: base, httpClient: &http.Client{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		c.httpClient.Timeout = c.timeout
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	c.logger = c.logger.Named("api")
	return c, nil
}

// Chat posts a turn as multipart form data.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("message", req.Message); err != nil {
		return ChatReply{}, err
	}
	if req.Persona != "" {
		if err := writer.WriteField("persona", req.Persona); err != nil {
			return ChatReply{}, err
		}
	}
	if req.Voice != nil {
		if err := writer.WriteField("voice", strconv.FormatBool(*req.Voice)); err != nil {
			return ChatReply{}, err
		}
	}
	if req.Image != nil {
		part, err := writer.CreateFormFile("image", req.Image.Name)
		if err != nil {
			return ChatReply{}, err
		}
		if _, err := part.Write(req.Image.Data); err != nil {
			return ChatReply{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return ChatReply{}, err
	}

	var reply ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat", writer.FormDataContentType(), body, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// Personas lists persona names.
func (c *Client) Personas(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/api/personas", "", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CurrentPersona returns the persona the service considers active.
func (c *Client) CurrentPersona(ctx context.Context) (Descriptor, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/current_persona", "", nil, &env); err != nil {
		return Descriptor{}, err
	}
	return env.descriptor()
}

// SetCurrentPersona asks the service to adopt name.
func (c *Client) SetCurrentPersona(ctx context.Context, name string) (Descriptor, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return Descriptor{}, err
	}
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/api/current_persona", "application/json", bytes.NewReader(payload), &env); err != nil {
		return Descriptor{}, err
	}
	if env.Name == "" {
		env.Name = name
	}
	return env.descriptor()
}

// SavePersonaSettings replaces the voice options stored for name.
func (c *Client) SavePersonaSettings(ctx context.Context, name string, opts speech.Options) error {
	payload, err := json.Marshal(map[string]any{
		"name":     name,
		"settings": map[string]any{"vsayOptions": opts},
	})
	if err != nil {
		return err
	}
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/api/persona_settings", "application/json", bytes.NewReader(payload), &env); err != nil {
		return err
	}
	return env.err()
}

// Settings reads the legacy single-persona voice options.
func (c *Client) Settings(ctx context.Context) (speech.Options, error) {
	var opts speech.Options
	if err := c.do(ctx, http.MethodGet, "/api/settings", "", nil, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// SaveSettings replaces the legacy voice options.
func (c *Client) SaveSettings(ctx context.Context, opts speech.Options) (speech.Options, error) {
	payload, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	var saved speech.Options
	if err := c.do(ctx, http.MethodPost, "/api/settings", "application/json", bytes.NewReader(payload), &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// AudioURL resolves an audio reference, which may be relative, against the
// server address.
func (c *Client) AudioURL(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse audio reference: %w", err)
	}
	return c.base.ResolveReference(parsed).String(), nil
}

// Audio downloads the clip behind an audio reference.
func (c *Client) Audio(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.AudioURL(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	target := c.base.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (e envelope) err() error {
	if e.Status == "error" {
		return fmt.Errorf("%w: %s", ErrRejected, e.Message)
	}
	return nil
}

func (e envelope) descriptor() (Descriptor, error) {
	if err := e.err(); err != nil {
		return Descriptor{}, err
	}
	if e.Persona == nil {
		return Descriptor{}, fmt.Errorf("%w: response carries no persona", ErrRejected)
	}
	d := *e.Persona
	d.Name = e.Name
	if d.VsayOptions == nil {
		d.VsayOptions = speech.Options{}
	}
	return d, nil
}
