package event

import (
	"time"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// RequestData is the payload of request.* events.
type RequestData struct {
	RequestID  string             `json:"requestID"`
	State      types.RequestState `json:"state"`
	ProviderID string             `json:"providerID,omitempty"`
	Chunks     int64              `json:"chunks,omitempty"`
	Error      *types.Error       `json:"error,omitempty"`
}

// AttemptData is the payload of attempt.failed events.
type AttemptData struct {
	RequestID  string          `json:"requestID"`
	ProviderID string          `json:"providerID"`
	Kind       types.ErrorKind `json:"kind"`
	Message    string          `json:"message,omitempty"`
}

// CircuitData is the payload of provider.circuit_* events.
type CircuitData struct {
	ProviderID          string    `json:"providerID"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenUntil           time.Time `json:"openUntil,omitempty"`
}

// ProvidersData is the payload of providers.updated events.
type ProvidersData struct {
	ProviderIDs []string `json:"providerIDs"`
}

// ConfigData is the payload of config.reloaded events.
type ConfigData struct {
	Sources []string `json:"sources"`
	Error   string   `json:"error,omitempty"`
}
