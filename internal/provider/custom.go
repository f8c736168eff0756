package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// Framing names the streaming framing of a custom endpoint.
type Framing string

const (
	FramingSSE    Framing = "sse"
	FramingNDJSON Framing = "ndjson"
)

// sseDone is the conventional end-of-stream sentinel payload.
const sseDone = "[DONE]"

// CustomConfig describes how to talk to an arbitrary streaming HTTP endpoint.
// Request bodies are built by setting paths (sjson syntax) on BodyTemplate;
// response frames are read with gjson paths.
type CustomConfig struct {
	ID           string
	Endpoint     string
	APIKey       string
	Model        string
	Framing      Framing
	BodyTemplate string
	PromptPath   string
	SystemPath   string
	ModelPath    string
	StreamPath   string
	TextPath     string
	DonePath     string
	AuthHeader   string
	AuthPrefix   string
	Headers      map[string]string
}

func (c *CustomConfig) withDefaults() {
	if c.Framing == "" {
		c.Framing = FramingSSE
	}
	if c.BodyTemplate == "" {
		c.BodyTemplate = "{}"
	}
	if c.PromptPath == "" {
		c.PromptPath = "prompt"
	}
	if c.SystemPath == "" {
		c.SystemPath = "system"
	}
	if c.ModelPath == "" {
		c.ModelPath = "model"
	}
	if c.StreamPath == "" {
		c.StreamPath = "stream"
	}
	if c.TextPath == "" {
		c.TextPath = "text"
	}
	if c.DonePath == "" {
		c.DonePath = "done"
	}
	if c.AuthHeader == "" {
		c.AuthHeader = "Authorization"
	}
	if c.AuthPrefix == "" && c.AuthHeader == "Authorization" {
		c.AuthPrefix = "Bearer "
	}
}

// CustomAdapter streams from a user-described HTTP endpoint.
type CustomAdapter struct {
	cfg        CustomConfig
	httpClient *http.Client
}

// NewCustomAdapter validates cfg and creates the adapter.
func NewCustomAdapter(cfg CustomConfig, client *http.Client) (*CustomAdapter, error) {
	cfg.withDefaults()
	if cfg.Framing != FramingSSE && cfg.Framing != FramingNDJSON {
		return nil, fmt.Errorf("custom provider %q: unknown framing %q", cfg.ID, cfg.Framing)
	}
	if !gjson.Valid(cfg.BodyTemplate) {
		return nil, fmt.Errorf("custom provider %q: body template is not valid JSON", cfg.ID)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &CustomAdapter{cfg: cfg, httpClient: client}, nil
}

// ID returns the provider identifier.
func (a *CustomAdapter) ID() string { return a.cfg.ID }

// Kind returns the backend family.
func (a *CustomAdapter) Kind() types.ProviderKind { return types.KindCustom }

// StreamComplete builds the request body and starts the stream.
func (a *CustomAdapter) StreamComplete(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, types.NewError(types.ErrKindProviderRejected, a.cfg.ID, err)
	}

	headers := make(map[string]string, len(a.cfg.Headers)+1)
	for k, v := range a.cfg.Headers {
		headers[k] = v
	}
	if a.cfg.APIKey != "" {
		headers[a.cfg.AuthHeader] = a.cfg.AuthPrefix + a.cfg.APIKey
	}
	if a.cfg.Framing == FramingSSE {
		headers["Accept"] = "text/event-stream"
	}

	resp, err := postStream(ctx, a.httpClient, a.cfg.ID, a.cfg.Endpoint, []byte(body), headers)
	if err != nil {
		return nil, err
	}
	return newCompletionStream(a.cfg.ID, &customSource{cfg: &a.cfg, lines: newLineReader(resp.Body)}), nil
}

func (a *CustomAdapter) buildBody(req *CompletionRequest) (string, error) {
	system, prompt := flatten(req.messages())

	body, err := sjson.Set(a.cfg.BodyTemplate, a.cfg.PromptPath, prompt)
	if err != nil {
		return "", fmt.Errorf("set %s: %w", a.cfg.PromptPath, err)
	}
	if system != "" && a.cfg.SystemPath != "-" {
		if body, err = sjson.Set(body, a.cfg.SystemPath, system); err != nil {
			return "", fmt.Errorf("set %s: %w", a.cfg.SystemPath, err)
		}
	}
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	if model != "" && a.cfg.ModelPath != "-" {
		if body, err = sjson.Set(body, a.cfg.ModelPath, model); err != nil {
			return "", fmt.Errorf("set %s: %w", a.cfg.ModelPath, err)
		}
	}
	if a.cfg.StreamPath != "-" {
		if body, err = sjson.Set(body, a.cfg.StreamPath, true); err != nil {
			return "", fmt.Errorf("set %s: %w", a.cfg.StreamPath, err)
		}
	}
	return body, nil
}

type customSource struct {
	cfg   *CustomConfig
	lines *lineReader
}

func (s *customSource) next() (frame, error) {
	var (
		payload string
		err     error
	)
	if s.cfg.Framing == FramingNDJSON {
		payload, err = s.lines.ndjson()
	} else {
		payload, err = s.lines.sseEvent()
	}
	if err != nil {
		return frame{}, err
	}

	if strings.TrimSpace(payload) == sseDone {
		return frame{done: true}, nil
	}
	if !gjson.Valid(payload) {
		return frame{}, fmt.Errorf("malformed frame from %s", s.cfg.ID)
	}
	if msg := gjson.Get(payload, "error"); msg.Exists() && msg.String() != "" {
		return frame{}, fmt.Errorf("backend error: %s", msg.String())
	}
	return frame{
		text: gjson.Get(payload, s.cfg.TextPath).String(),
		done: gjson.Get(payload, s.cfg.DonePath).Bool(),
	}, nil
}

func (s *customSource) close() { s.lines.close() }

func newCustomFromConfig(_ context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error) {
	headers := map[string]string{}
	if raw, ok := cfg.Options["headers"].(map[string]any); ok {
		for k, v := range raw {
			headers[k] = fmt.Sprint(v)
		}
	}
	return NewCustomAdapter(CustomConfig{
		ID:           cfg.ID,
		Endpoint:     cfg.Endpoint,
		APIKey:       apiKey,
		Model:        cfg.Model,
		Framing:      Framing(cfg.Option("framing", string(FramingSSE))),
		BodyTemplate: cfg.Option("bodyTemplate", ""),
		PromptPath:   cfg.Option("promptPath", ""),
		SystemPath:   cfg.Option("systemPath", ""),
		ModelPath:    cfg.Option("modelPath", ""),
		StreamPath:   cfg.Option("streamPath", ""),
		TextPath:     cfg.Option("textPath", ""),
		DonePath:     cfg.Option("donePath", ""),
		AuthHeader:   cfg.Option("authHeader", ""),
		AuthPrefix:   cfg.Option("authPrefix", ""),
		Headers:      headers,
	}, nil)
}
