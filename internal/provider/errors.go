package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	ollama "github.com/ollama/ollama/api"

	"github.com/opencode-ai/assistcore/pkg/types"
)

var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`status code:?\s*(\d{3})`),
	regexp.MustCompile(`":\s*([45]\d\d)\s+[A-Z]`),
}

// classifyError maps a transport or SDK error onto the adapter error taxonomy.
func classifyError(providerID string, err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) {
		if typed.ProviderID == "" {
			typed.ProviderID = providerID
		}
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrKindProviderTimeout, providerID, err)
	}

	if status := statusCode(err); status != 0 {
		return statusError(providerID, status, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrKindProviderTimeout, providerID, err)
	}

	return types.NewError(types.ErrKindProviderUnavailable, providerID, err)
}

// statusError classifies an HTTP status. 5xx is unavailability; 4xx is a
// rejection, retriable for rate limiting and request timeouts.
func statusError(providerID string, status int, cause error) *types.Error {
	if cause == nil {
		cause = fmt.Errorf("unexpected status %d %s", status, http.StatusText(status))
	}
	kind := types.ErrKindProviderUnavailable
	if status >= 400 && status < 500 {
		kind = types.ErrKindProviderRejected
	}
	e := types.NewError(kind, providerID, cause)
	e.StatusCode = status
	e.Retriable = status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
	return e
}

// statusCode extracts an HTTP status from SDK errors, falling back to the
// formats the SDKs use in their messages.
func statusCode(err error) int {
	var oaiAPI *goopenai.APIError
	if errors.As(err, &oaiAPI) && oaiAPI.HTTPStatusCode != 0 {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *goopenai.RequestError
	if errors.As(err, &oaiReq) && oaiReq.HTTPStatusCode != 0 {
		return oaiReq.HTTPStatusCode
	}
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr.StatusCode != 0 {
		return claudeErr.StatusCode
	}
	var ollamaErr ollama.StatusError
	if errors.As(err, &ollamaErr) && ollamaErr.StatusCode != 0 {
		return ollamaErr.StatusCode
	}

	msg := err.Error()
	for _, re := range statusPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 400 && code < 600 {
				return code
			}
		}
	}
	return 0
}
