package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/assistcore/internal/server"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// SSEEvent is one named Server-Sent Event.
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// Chunk decodes a "chunk" event.
func (e SSEEvent) Chunk() (types.Chunk, error) {
	var c types.Chunk
	err := json.Unmarshal(e.Data, &c)
	return c, err
}

// TypedError decodes an "error" event.
func (e SSEEvent) TypedError() (*types.Error, error) {
	var te types.Error
	if err := json.Unmarshal(e.Data, &te); err != nil {
		return nil, err
	}
	return &te, nil
}

// Terminal reports whether the event ends a request stream.
func (e SSEEvent) Terminal() bool {
	switch e.Type {
	case "done", "cancelled", "error":
		return true
	}
	return false
}

// SSEClient reads an event stream in the background.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		eventsCh:   make(chan SSEEvent, 256),
		errCh:      make(chan error, 1),
	}
}

// Connect opens a GET event stream such as /events or /requests/{id}/events.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	return c.open(ctx, http.MethodGet, path, nil)
}

// Submit posts a request with ?stream=true and reads its events.
func (c *SSEClient) Submit(ctx context.Context, req server.SubmitRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.open(ctx, http.MethodPost, "/requests?stream=true", strings.NewReader(string(data)))
}

func (c *SSEClient) open(ctx context.Context, method, path string, body io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected content type: %s", contentType)
	}

	c.body = resp.Body
	go c.readEvents(resp.Body)
	return nil
}

func (c *SSEClient) readEvents(body io.Reader) {
	defer close(c.eventsCh)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				evt := SSEEvent{Type: name, Data: json.RawMessage(data.String())}
				c.mu.Lock()
				c.events = append(c.events, evt)
				c.mu.Unlock()
				c.eventsCh <- evt
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case c.errCh <- err:
		default:
		}
	}
}

// Events returns the channel of events. It closes when the stream ends.
func (c *SSEClient) Events() <-chan SSEEvent {
	return c.eventsCh
}

// WaitForEvent waits for the next event of the given type, skipping others.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("stream ended before %q", eventType)
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event %q", eventType)
		}
	}
}

// Collect reads until a terminal event, the end of the stream or timeout,
// and returns the events received so far.
func (c *SSEClient) Collect(timeout time.Duration) ([]SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok || evt.Terminal() {
				return c.GetAllEvents(), nil
			}
		case <-deadline:
			return c.GetAllEvents(), fmt.Errorf("timeout after %s", timeout)
		}
	}
}

// GetAllEvents returns a copy of every event received.
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SSEEvent(nil), c.events...)
}

// Close drops the connection.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}

// Chunks returns the decoded chunk events in arrival order.
func Chunks(events []SSEEvent) []types.Chunk {
	var out []types.Chunk
	for _, e := range events {
		if e.Type != "chunk" {
			continue
		}
		if c, err := e.Chunk(); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Text concatenates the chunk texts of events.
func Text(events []SSEEvent) string {
	var b strings.Builder
	for _, c := range Chunks(events) {
		b.WriteString(c.Text)
	}
	return b.String()
}

// Last returns the last event, or an empty event.
func Last(events []SSEEvent) SSEEvent {
	if len(events) == 0 {
		return SSEEvent{}
	}
	return events[len(events)-1]
}
