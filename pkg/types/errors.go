package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the context and routing core.
type ErrorKind string

const (
	ErrKindNoActiveDocument        ErrorKind = "NoActiveDocument"
	ErrKindProviderUnavailable     ErrorKind = "ProviderUnavailable"
	ErrKindProviderRejected        ErrorKind = "ProviderRejected"
	ErrKindProviderTimeout         ErrorKind = "ProviderTimeout"
	ErrKindAllProvidersUnavailable ErrorKind = "AllProvidersUnavailable"
	ErrKindStreamInterrupted       ErrorKind = "StreamInterrupted"
	ErrKindSequenceGapTimeout      ErrorKind = "SequenceGapTimeout"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNoActiveDocument        = &Error{Kind: ErrKindNoActiveDocument}
	ErrProviderUnavailable     = &Error{Kind: ErrKindProviderUnavailable}
	ErrProviderRejected        = &Error{Kind: ErrKindProviderRejected}
	ErrProviderTimeout         = &Error{Kind: ErrKindProviderTimeout}
	ErrAllProvidersUnavailable = &Error{Kind: ErrKindAllProvidersUnavailable}
	ErrStreamInterrupted       = &Error{Kind: ErrKindStreamInterrupted}
	ErrSequenceGapTimeout      = &Error{Kind: ErrKindSequenceGapTimeout}
)

// Attempt records the outcome of one provider attempt within a request.
type Attempt struct {
	ProviderID string    `json:"providerID"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Error is the typed error used across the core.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	ProviderID string    `json:"providerID,omitempty"`
	Message    string    `json:"message,omitempty"`
	// StatusCode is the backend HTTP status when one was observed.
	StatusCode int `json:"statusCode,omitempty"`
	// Retriable marks a rejection caused by a transient condition (429, 408).
	Retriable bool `json:"retriable,omitempty"`
	// Attempts lists every provider tried, for AllProvidersUnavailable and
	// StreamInterrupted.
	Attempts []Attempt `json:"attempts,omitempty"`
	// Chunks holds output delivered before a StreamInterrupted failure.
	Chunks []Chunk `json:"chunks,omitempty"`

	Err error `json:"-"`
}

// NewError creates an Error of the given kind wrapping cause.
func NewError(kind ErrorKind, providerID string, cause error) *Error {
	e := &Error{Kind: kind, ProviderID: providerID, Err: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.ProviderID != "" {
		fmt.Fprintf(&b, " [%s]", e.ProviderID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = fmt.Sprintf("%s=%s", a.ProviderID, a.Kind)
		}
		fmt.Fprintf(&b, " (tried %s)", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels compare equal to any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the ErrorKind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
