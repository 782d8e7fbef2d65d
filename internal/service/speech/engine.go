package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// EngineClient is an HTTP client for VOICEVOX / AivisSpeech compatible
// voice engines. Synthesis is a two step call: /audio_query builds the
// phoneme query for the text, the query is tuned with the persona's options
// and posted to /synthesis.
type EngineClient struct {
	httpClient  *http.Client
	defaultHost string
	defaultPort string
}

// NewEngineClient 创建语音引擎客户端
func NewEngineClient(httpClient *http.Client, defaultHost, defaultPort string) *EngineClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EngineClient{
		httpClient:  httpClient,
		defaultHost: defaultHost,
		defaultPort: defaultPort,
	}
}

// queryScales maps option keys onto the engine's audio query fields.
var queryScales = map[string]string{
	speech.KeySpeed:      "speedScale",
	speech.KeyIntonation: "intonationScale",
	speech.KeyTempo:      "tempoDynamicsScale",
}

// Synthesize renders text with the given options and returns WAV bytes.
func (c *EngineClient) Synthesize(ctx context.Context, text string, opts speech.Options) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesis text is empty")
	}

	base, err := c.baseURL(opts)
	if err != nil {
		return nil, err
	}
	speaker := styleOrSpeaker(opts)
	if speaker == "" {
		return nil, fmt.Errorf("voice options have no speaker")
	}

	queryURL := fmt.Sprintf("%s/audio_query?%s", base, url.Values{"text": {text}, "speaker": {speaker}}.Encode())
	rawQuery, err := c.post(ctx, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("audio query: %w", err)
	}

	var query map[string]any
	if err := json.Unmarshal(rawQuery, &query); err != nil {
		return nil, fmt.Errorf("decode audio query: %w", err)
	}
	applyOptions(query, opts.Clamped())

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode audio query: %w", err)
	}

	synthURL := fmt.Sprintf("%s/synthesis?%s", base, url.Values{"speaker": {speaker}}.Encode())
	audio, err := c.post(ctx, synthURL, body)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	return audio, nil
}

func applyOptions(query map[string]any, opts speech.Options) {
	for key, field := range queryScales {
		if v, ok := opts.Float(key); ok {
			query[field] = v
		}
	}
	// pitch is configured in hundredths so the slider stays readable.
	if v, ok := opts.Float(speech.KeyPitch); ok {
		query["pitchScale"] = v / 100
	}
}

// styleOrSpeaker prefers the style id, which the engine treats as the
// concrete speaker, and falls back to the synthesis id.
func styleOrSpeaker(opts speech.Options) string {
	if style := strings.TrimSpace(opts.String(speech.KeyStyle)); style != "" {
		return style
	}
	return strings.TrimSpace(opts.String(speech.KeySpeaker))
}

func (c *EngineClient) baseURL(opts speech.Options) (string, error) {
	host := strings.TrimSpace(opts.String(speech.KeyHost))
	if host == "" {
		host = c.defaultHost
	}
	port := strings.TrimSpace(opts.String(speech.KeyPort))
	if port == "" {
		port = c.defaultPort
	}
	if host == "" {
		return "", fmt.Errorf("voice engine host is not configured")
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/"), nil
	}
	if port == "" {
		return "http://" + host, nil
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func (c *EngineClient) post(ctx context.Context, target string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
