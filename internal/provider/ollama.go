package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cloudwego/eino/schema"
	"github.com/ollama/ollama/api"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// OllamaAdapter streams from Ollama's native /api/chat endpoint through the
// official API client.
type OllamaAdapter struct {
	id     string
	model  string
	client *api.Client
}

// NewOllamaAdapter creates an adapter for an Ollama-compatible endpoint.
// A nil client uses one without an overall timeout, since streams are
// bounded by the router's inter-chunk and request timeouts.
func NewOllamaAdapter(id, baseURL, model string, client *http.Client) (*OllamaAdapter, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama endpoint %q", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaAdapter{
		id:     id,
		model:  model,
		client: api.NewClient(base, client),
	}, nil
}

// ID returns the provider identifier.
func (a *OllamaAdapter) ID() string { return a.id }

// Kind returns the backend family.
func (a *OllamaAdapter) Kind() types.ProviderKind { return types.KindOllama }

// StreamComplete starts a streaming chat and waits for the first response
// line, so status and connection failures surface before any chunk.
func (a *OllamaAdapter) StreamComplete(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	chatReq := a.translate(req)

	ctx, cancel := context.WithCancel(ctx)
	src := &ollamaSource{events: make(chan ollamaEvent), cancel: cancel}
	go src.run(ctx, a.client, chatReq)

	first, ok := <-src.events
	switch {
	case !ok:
		cancel()
		return nil, classifyError(a.id, ctx.Err())
	case errors.Is(first.err, io.EOF):
		cancel()
		return nil, types.NewError(types.ErrKindProviderUnavailable, a.id, errors.New("empty response"))
	case first.err != nil:
		cancel()
		return nil, classifyError(a.id, first.err)
	}
	src.pending = &first
	return newCompletionStream(a.id, src), nil
}

func (a *OllamaAdapter) translate(req *CompletionRequest) *api.ChatRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}
	stream := true
	out := &api.ChatRequest{Model: model, Stream: &stream}

	msgs := req.messages()
	out.Messages = make([]api.Message, len(msgs))
	for i, m := range msgs {
		out.Messages[i] = api.Message{Role: ollamaRole(m.Role), Content: m.Content}
	}

	if req.Temperature != 0 || req.MaxTokens != 0 {
		out.Options = make(map[string]any)
		if req.Temperature != 0 {
			out.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens != 0 {
			out.Options["num_predict"] = req.MaxTokens
		}
	}
	return out
}

func ollamaRole(r schema.RoleType) string {
	switch r {
	case schema.System:
		return "system"
	case schema.Assistant:
		return "assistant"
	default:
		return "user"
	}
}

type ollamaEvent struct {
	f   frame
	err error
}

// ollamaSource turns the client's callback stream into pulled frames. The
// last event carries the error Chat returned, or io.EOF.
type ollamaSource struct {
	events  chan ollamaEvent
	cancel  context.CancelFunc
	pending *ollamaEvent
}

func (s *ollamaSource) run(ctx context.Context, client *api.Client, req *api.ChatRequest) {
	defer close(s.events)
	err := client.Chat(ctx, req, func(resp api.ChatResponse) error {
		select {
		case s.events <- ollamaEvent{f: frame{text: resp.Message.Content, done: resp.Done}}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil {
		err = io.EOF
	}
	select {
	case s.events <- ollamaEvent{err: err}:
	case <-ctx.Done():
	}
}

func (s *ollamaSource) next() (frame, error) {
	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		return ev.f, ev.err
	}
	ev, ok := <-s.events
	if !ok {
		return frame{}, io.EOF
	}
	return ev.f, ev.err
}

func (s *ollamaSource) close() { s.cancel() }
