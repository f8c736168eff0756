package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// Adapter is the uniform streaming contract every backend family implements.
// A call to StreamComplete always starts a fresh exchange; adapters keep no
// state between calls and receive only the request and their own config copy.
type Adapter interface {
	// ID returns the configured provider identifier.
	ID() string

	// Kind returns the backend family.
	Kind() types.ProviderKind

	// StreamComplete starts a streaming completion. Errors returned here and
	// from the stream are *types.Error values of kind ProviderUnavailable,
	// ProviderRejected, ProviderTimeout or StreamInterrupted.
	StreamComplete(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest is what the router hands an adapter for one attempt.
type CompletionRequest struct {
	Snapshot types.ContextSnapshot `json:"snapshot"`
	Intent   types.Intent          `json:"intent"`

	// Messages is the framed conversation. When empty, adapters frame the
	// snapshot and intent with DefaultFramer.
	Messages []*schema.Message `json:"messages,omitempty"`

	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// messages returns the framed messages for req.
func (r *CompletionRequest) messages() []*schema.Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return DefaultFramer(r.Snapshot, r.Intent)
}

// Framer turns a snapshot and intent into chat messages. Prompt wording is
// owned by the caller; the router only needs something that produces messages.
type Framer func(snap types.ContextSnapshot, intent types.Intent) []*schema.Message

// DefaultFramer places the editor context in a system message and the
// user's prompt in a user message.
func DefaultFramer(snap types.ContextSnapshot, intent types.Intent) []*schema.Message {
	var b strings.Builder
	if snap.WorkspaceRoot != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", snap.WorkspaceRoot)
	}
	if snap.ActiveFilePath != "" {
		fmt.Fprintf(&b, "Active file: %s\n", snap.ActiveFilePath)
	}
	if snap.ActiveFileContent != "" {
		fmt.Fprintf(&b, "<file>\n%s\n</file>\n", snap.ActiveFileContent)
	}
	if snap.SelectionText != "" {
		fmt.Fprintf(&b, "<selection>\n%s\n</selection>\n", snap.SelectionText)
	}
	if snap.TerminalOutput != "" {
		fmt.Fprintf(&b, "<terminal>\n%s\n</terminal>\n", snap.TerminalOutput)
	}

	msgs := make([]*schema.Message, 0, 2)
	if b.Len() > 0 {
		msgs = append(msgs, schema.SystemMessage(b.String()))
	}
	return append(msgs, schema.UserMessage(intent.Prompt))
}

// flatten renders messages as a single prompt string for backends that take
// one text field rather than a conversation.
func flatten(msgs []*schema.Message) (system, prompt string) {
	var sys, user []string
	for _, m := range msgs {
		if m.Role == schema.System {
			sys = append(sys, m.Content)
		} else {
			user = append(user, m.Content)
		}
	}
	return strings.Join(sys, "\n"), strings.Join(user, "\n")
}
