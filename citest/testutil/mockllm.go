package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MockLLM is an HTTP backend that streams answers the way an
// OpenAI-compatible server (/v1/chat/completions, SSE) and an Ollama server
// (/api/chat, NDJSON) do. What it says and how the stream behaves comes
// from its Scenario, which tests may swap at any time.
type MockLLM struct {
	server *httptest.Server
	done   chan struct{}

	mu       sync.Mutex
	scenario *Scenario
	requests []MockRequest
}

// MockRequest records one incoming request.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Prompt    string
	Body      string
}

// NewMockLLM starts a mock backend. A nil scenario uses DefaultScenario.
func NewMockLLM(scenario *Scenario) *MockLLM {
	if scenario == nil {
		scenario = DefaultScenario()
	}
	m := &MockLLM{scenario: scenario, done: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", m.handleOpenAI)
	mux.HandleFunc("POST /chat/completions", m.handleOpenAI)
	mux.HandleFunc("POST /api/chat", m.handleOllama)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server root, suitable as an Ollama endpoint.
func (m *MockLLM) URL() string { return m.server.URL }

// OpenAIURL returns the base URL for an OpenAI-compatible client.
func (m *MockLLM) OpenAIURL() string { return m.server.URL + "/v1" }

// Close releases hanging streams and shuts the server down.
func (m *MockLLM) Close() {
	close(m.done)
	m.server.Close()
}

// SetScenario replaces the scenario for subsequent requests.
func (m *MockLLM) SetScenario(s *Scenario) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenario = s
}

// Requests returns a copy of the recorded requests.
func (m *MockLLM) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// RequestCount returns the number of requests received so far.
func (m *MockLLM) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears the recorded requests.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func (m *MockLLM) record(r *http.Request) (string, *Scenario) {
	body, _ := io.ReadAll(r.Body)
	prompt := lastUserMessage(body)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		Prompt:    prompt,
		Body:      string(body),
	})
	return prompt, m.scenario
}

// lastUserMessage works for both wire formats since both carry
// {"messages":[{"role":...,"content":...}]}.
func lastUserMessage(body []byte) string {
	users := gjson.GetBytes(body, `messages.#(role=="user")#.content`).Array()
	if len(users) == 0 {
		return ""
	}
	return users[len(users)-1].String()
}

const openAIChunk = `{"id":"chatcmpl-mock","object":"chat.completion.chunk","created":0,"model":"mock","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`

func (m *MockLLM) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	prompt, sc := m.record(r)
	if sc.Settings.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(sc.Settings.Status)
		fmt.Fprintf(w, `{"error":{"message":"mock failure","type":"server_error","code":%d}}`, sc.Settings.Status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	finish, _ := sjson.Set(openAIChunk, "choices.0.finish_reason", "stop")
	m.stream(w, r, sc, sc.Words(prompt),
		func(word string) string {
			data, _ := sjson.Set(openAIChunk, "choices.0.delta.content", word)
			return "data: " + data + "\n\n"
		},
		"data: "+finish+"\n\ndata: [DONE]\n\n",
	)
}

const ollamaLine = `{"model":"mock","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":""},"done":false}`

func (m *MockLLM) handleOllama(w http.ResponseWriter, r *http.Request) {
	prompt, sc := m.record(r)
	if sc.Settings.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(sc.Settings.Status)
		fmt.Fprint(w, `{"error":"mock failure"}`)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")

	final, _ := sjson.Set(ollamaLine, "done", true)
	final, _ = sjson.Set(final, "done_reason", "stop")
	m.stream(w, r, sc, sc.Words(prompt),
		func(word string) string {
			line, _ := sjson.Set(ollamaLine, "message.content", word)
			return line + "\n"
		},
		final+"\n",
	)
}

// stream writes one frame per word and then the finish frame, honoring the
// scenario's delay, truncation and hang settings.
func (m *MockLLM) stream(w http.ResponseWriter, r *http.Request, sc *Scenario, words []string, frame func(string) string, finish string) {
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	delay := time.Duration(sc.Settings.ChunkDelayMS) * time.Millisecond

	for i, word := range words {
		if sc.Settings.TruncateAfter > 0 && i >= sc.Settings.TruncateAfter {
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			case <-m.done:
				return
			}
		}
		if _, err := io.WriteString(w, frame(word)); err != nil {
			return
		}
		flush()
	}

	if sc.Settings.TruncateAfter > 0 && len(words) >= sc.Settings.TruncateAfter {
		return
	}
	if sc.Settings.Hang {
		select {
		case <-r.Context().Done():
		case <-m.done:
		}
		return
	}
	io.WriteString(w, finish)
	flush()
}
