package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opencode-ai/assistcore/pkg/types"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
	maxLineBytes      = 1 << 20
)

// postStream sends body to url and returns the response once a 2xx status
// arrives. Non-2xx responses are read (bounded) for diagnostics, closed and
// classified.
func postStream(ctx context.Context, client *http.Client, providerID, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrKindProviderRejected, providerID, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(headerContentType, mimeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyError(providerID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, statusError(providerID, resp.StatusCode, cause)
	}
	return resp, nil
}

// lineReader splits a response body into lines.
type lineReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newLineReader(body io.ReadCloser) *lineReader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &lineReader{body: body, scanner: sc}
}

// line returns the next line, or io.EOF when the body ends cleanly.
func (l *lineReader) line() (string, error) {
	if l.scanner.Scan() {
		return l.scanner.Text(), nil
	}
	if err := l.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (l *lineReader) close() { _ = l.body.Close() }

// ndjson returns the next non-empty line of a newline-delimited JSON stream.
func (l *lineReader) ndjson() (string, error) {
	for {
		line, err := l.line()
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

// sseEvent returns the joined data lines of the next server-sent event.
// Comment lines and fields other than data are ignored.
func (l *lineReader) sseEvent() (string, error) {
	var data []string
	for {
		line, err := l.line()
		if errors.Is(err, io.EOF) && len(data) > 0 {
			return strings.Join(data, "\n"), nil
		}
		if err != nil {
			return "", err
		}
		switch {
		case line == "":
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
