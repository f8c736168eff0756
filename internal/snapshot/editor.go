package snapshot

import "context"

// Document is the active editor document as reported by the editor surface.
type Document struct {
	Path    string
	Content string
}

// Editor is the read-only query surface the builder uses to inspect editor
// state. Implementations must not mutate the editor.
type Editor interface {
	// ActiveDocument returns the focused document, or ok=false when none is open.
	ActiveDocument(ctx context.Context) (doc Document, ok bool, err error)
	// Selection returns the selected text, or "" when nothing is selected.
	Selection(ctx context.Context) (string, error)
	// WorkspaceRoot returns the root directory of the open workspace.
	WorkspaceRoot(ctx context.Context) (string, error)
}

// TerminalReader is implemented by editors that can report recent terminal output.
type TerminalReader interface {
	RecentTerminalOutput(ctx context.Context) (string, error)
}

// StaticEditor is an Editor with fixed state. Useful for chat-only callers
// and tests.
type StaticEditor struct {
	Doc      *Document
	Selected string
	Root     string
	Terminal string
}

func (e StaticEditor) ActiveDocument(context.Context) (Document, bool, error) {
	if e.Doc == nil {
		return Document{}, false, nil
	}
	return *e.Doc, true, nil
}

func (e StaticEditor) Selection(context.Context) (string, error) { return e.Selected, nil }

func (e StaticEditor) WorkspaceRoot(context.Context) (string, error) { return e.Root, nil }

func (e StaticEditor) RecentTerminalOutput(context.Context) (string, error) {
	return e.Terminal, nil
}
