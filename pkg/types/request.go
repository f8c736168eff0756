package types

// RequestState is a position in the router's per-request state machine.
type RequestState string

const (
	StateIdle        RequestState = "idle"
	StateDispatching RequestState = "dispatching"
	StateStreaming   RequestState = "streaming"
	StateCompleted   RequestState = "completed"
	StateCancelled   RequestState = "cancelled"
	StateFailed      RequestState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// IntentKind distinguishes the product surfaces that submit requests.
type IntentKind string

const (
	IntentChat       IntentKind = "chat"
	IntentCompletion IntentKind = "completion"
)

// Intent is what the user asked for, independent of any backend.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Prompt string     `json:"prompt"`
}
