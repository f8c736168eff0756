// Package provider_test provides a MockLLM server for testing adapters.
// The MockLLM server mimics the OpenAI, Anthropic, Ollama and a custom
// streaming API with deterministic responses.
package provider_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMConfig represents the configuration for MockLLM responses.
type MockLLMConfig struct {
	Responses map[string]string
	Fallback  string

	// Status, when non-zero, is returned instead of a stream.
	Status int
	// TruncateAfter, when positive, ends the stream after that many words
	// without a completion signal.
	TruncateAfter int
	// Lag delays each streamed word.
	Lag time.Duration
}

// MockRequest records incoming requests for verification.
type MockRequest struct {
	Path    string
	Body    map[string]any
	Raw     string
	Headers http.Header
}

// MockLLMServer provides an HTTP server that mimics LLM streaming APIs.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig

	mu       sync.Mutex
	requests []MockRequest
}

// NewMockLLMServer creates a new mock LLM server.
func NewMockLLMServer(config *MockLLMConfig) *MockLLMServer {
	m := &MockLLMServer{config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleOpenAI)
	mux.HandleFunc("/chat/completions", m.handleOpenAI)
	mux.HandleFunc("/v1/messages", m.handleAnthropic)
	mux.HandleFunc("/api/chat", m.handleOllama)
	mux.HandleFunc("/custom/sse", m.handleCustomSSE)
	mux.HandleFunc("/custom/ndjson", m.handleCustomNDJSON)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// record decodes and stores the request. It reports false after writing an
// error response.
func (m *MockLLMServer) record(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Path: r.URL.Path, Body: body, Raw: string(raw), Headers: r.Header.Clone()})
	m.mu.Unlock()

	if m.config.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.config.Status)
		fmt.Fprintf(w, `{"error":{"message":"mock status %d","type":"mock_error"}}`, m.config.Status)
		return nil, false
	}
	return body, true
}

// lastUserText extracts the last user message in OpenAI, Anthropic or
// Ollama format.
func lastUserText(body map[string]any) string {
	messages, _ := body["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			return content
		}
		if blocks, ok := msg["content"].([]any); ok {
			for _, item := range blocks {
				if block, ok := item.(map[string]any); ok && block["type"] == "text" {
					if text, ok := block["text"].(string); ok {
						return text
					}
				}
			}
		}
	}
	if prompt, ok := body["prompt"].(string); ok {
		return prompt
	}
	return ""
}

// words splits the response for the prompt into streamed pieces.
func (m *MockLLMServer) words(prompt string) ([]string, bool) {
	content := m.config.Fallback
	prompt = strings.ToLower(strings.TrimSpace(prompt))
	for key, resp := range m.config.Responses {
		if strings.Contains(prompt, strings.ToLower(key)) {
			content = resp
			break
		}
	}

	fields := strings.Fields(content)
	out := make([]string, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		out[i] = f
	}
	if n := m.config.TruncateAfter; n > 0 && n < len(out) {
		return out[:n], true
	}
	return out, false
}

func startStream(w http.ResponseWriter, contentType string) http.Flusher {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return flusher
}

func (m *MockLLMServer) emit(w http.ResponseWriter, flusher http.Flusher, s string) {
	_, _ = w.Write([]byte(s))
	if flusher != nil {
		flusher.Flush()
	}
	if m.config.Lag > 0 {
		time.Sleep(m.config.Lag)
	}
}

func sseData(v any) string {
	data, _ := json.Marshal(v)
	return "data: " + string(data) + "\n\n"
}

func (m *MockLLMServer) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(w, r)
	if !ok {
		return
	}
	words, truncated := m.words(lastUserText(body))
	flusher := startStream(w, "text/event-stream")

	chunk := func(delta map[string]any, finish any) map[string]any {
		return map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt-4",
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
	}

	m.emit(w, flusher, sseData(chunk(map[string]any{"role": "assistant"}, nil)))
	for _, word := range words {
		m.emit(w, flusher, sseData(chunk(map[string]any{"content": word}, nil)))
	}
	if truncated {
		return
	}
	m.emit(w, flusher, sseData(chunk(map[string]any{}, "stop")))
	m.emit(w, flusher, "data: [DONE]\n\n")
}

func (m *MockLLMServer) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(w, r)
	if !ok {
		return
	}
	words, truncated := m.words(lastUserText(body))
	flusher := startStream(w, "text/event-stream")

	event := func(name string, v any) string {
		data, _ := json.Marshal(v)
		return "event: " + name + "\ndata: " + string(data) + "\n\n"
	}

	m.emit(w, flusher, event("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "msg_mock", "type": "message", "role": "assistant", "model": "mock-claude",
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 10, "output_tokens": 0},
		},
	}))
	m.emit(w, flusher, event("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	}))
	for _, word := range words {
		m.emit(w, flusher, event("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": word},
		}))
	}
	if truncated {
		return
	}
	m.emit(w, flusher, event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}))
	m.emit(w, flusher, event("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": len(words)},
	}))
	m.emit(w, flusher, event("message_stop", map[string]any{"type": "message_stop"}))
}

func (m *MockLLMServer) handleOllama(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(w, r)
	if !ok {
		return
	}
	words, truncated := m.words(lastUserText(body))
	flusher := startStream(w, "application/x-ndjson")

	line := func(content string, done bool) string {
		v := map[string]any{
			"model":   body["model"],
			"message": map[string]any{"role": "assistant", "content": content},
			"done":    done,
		}
		if done {
			v["done_reason"] = "stop"
		}
		data, _ := json.Marshal(v)
		return string(data) + "\n"
	}

	for _, word := range words {
		m.emit(w, flusher, line(word, false))
	}
	if truncated {
		return
	}
	m.emit(w, flusher, line("", true))
}

func (m *MockLLMServer) handleCustomSSE(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(w, r)
	if !ok {
		return
	}
	words, truncated := m.words(lastUserText(body))
	flusher := startStream(w, "text/event-stream")

	m.emit(w, flusher, ": keep-alive\n\n")
	for _, word := range words {
		m.emit(w, flusher, sseData(map[string]any{"output": map[string]any{"text": word}}))
	}
	if truncated {
		return
	}
	m.emit(w, flusher, "data: [DONE]\n\n")
}

func (m *MockLLMServer) handleCustomNDJSON(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(w, r)
	if !ok {
		return
	}
	words, truncated := m.words(lastUserText(body))
	flusher := startStream(w, "application/x-ndjson")

	for _, word := range words {
		data, _ := json.Marshal(map[string]any{"text": word})
		m.emit(w, flusher, string(data)+"\n")
	}
	if truncated {
		return
	}
	m.emit(w, flusher, `{"text":"","done":true}`+"\n")
}
