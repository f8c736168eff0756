package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/server"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Put performs HTTP PUT request with JSON body
func (c *TestClient) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

func (c *TestClient) newRequest(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

func (c *TestClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// Chat builds a chat submission for prompt with inline editor content.
func Chat(prompt, activeFile, content string) server.SubmitRequest {
	return server.SubmitRequest{
		Intent: types.Intent{Kind: types.IntentChat, Prompt: prompt},
		Editor: server.EditorState{ActiveFile: activeFile, Content: &content},
	}
}

// Submit posts a request without streaming and returns its status.
func (c *TestClient) Submit(ctx context.Context, req server.SubmitRequest) (*router.Status, error) {
	resp, err := c.Post(ctx, "/requests", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("submit: status %d: %s", resp.StatusCode, resp.String())
	}
	var st router.Status
	if err := resp.JSON(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetRequest returns the status of a request.
func (c *TestClient) GetRequest(ctx context.Context, id string) (*router.Status, error) {
	resp, err := c.Get(ctx, "/requests/"+id)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get request: status %d: %s", resp.StatusCode, resp.String())
	}
	var st router.Status
	if err := resp.JSON(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CancelRequest cancels a request and returns its status.
func (c *TestClient) CancelRequest(ctx context.Context, id string) (*router.Status, error) {
	resp, err := c.Delete(ctx, "/requests/"+id)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("cancel request: status %d: %s", resp.StatusCode, resp.String())
	}
	var st router.Status
	if err := resp.JSON(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Providers lists the registry in priority order.
func (c *TestClient) Providers(ctx context.Context) ([]types.ProviderStatus, error) {
	resp, err := c.Get(ctx, "/providers")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("providers: status %d: %s", resp.StatusCode, resp.String())
	}
	var statuses []types.ProviderStatus
	if err := resp.JSON(&statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ProviderHealth returns the health of one provider from GET /providers.
func (c *TestClient) ProviderHealth(ctx context.Context, id string) (types.ProviderStatus, error) {
	statuses, err := c.Providers(ctx)
	if err != nil {
		return types.ProviderStatus{}, err
	}
	for _, st := range statuses {
		if st.Config.ID == id {
			return st, nil
		}
	}
	return types.ProviderStatus{}, fmt.Errorf("provider %q not listed", id)
}
