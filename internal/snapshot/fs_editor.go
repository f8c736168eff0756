package snapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSEditor is an Editor whose state is described by paths rather than a live
// editor host: the active document is read from a filesystem on demand.
// The CLI and HTTP surfaces use it when a caller sends a file path and
// selection instead of document contents.
type FSEditor struct {
	fs       afero.Fs
	root     string
	path     string
	selected string
	terminal string
}

// FSEditorOption configures an FSEditor.
type FSEditorOption func(*FSEditor)

// WithActiveFile sets the active document path. Relative paths are resolved
// against the workspace root.
func WithActiveFile(path string) FSEditorOption {
	return func(e *FSEditor) { e.path = path }
}

// WithSelection sets the selected text.
func WithSelection(text string) FSEditorOption {
	return func(e *FSEditor) { e.selected = text }
}

// WithTerminalOutput sets the recent terminal output.
func WithTerminalOutput(text string) FSEditorOption {
	return func(e *FSEditor) { e.terminal = text }
}

// NewFSEditor creates an editor rooted at root on fs. A nil fs uses the OS filesystem.
func NewFSEditor(fs afero.Fs, root string, opts ...FSEditorOption) *FSEditor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	e := &FSEditor{fs: fs, root: root}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *FSEditor) resolved() string {
	if e.path == "" || filepath.IsAbs(e.path) || e.root == "" {
		return e.path
	}
	return filepath.Join(e.root, e.path)
}

// ActiveDocument reads the active file. A missing file is reported as no
// active document rather than an error.
func (e *FSEditor) ActiveDocument(ctx context.Context) (Document, bool, error) {
	path := e.resolved()
	if path == "" {
		return Document{}, false, nil
	}
	ok, err := afero.Exists(e.fs, path)
	if err != nil {
		return Document{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !ok {
		return Document{}, false, nil
	}
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return Document{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{Path: path, Content: string(data)}, true, nil
}

func (e *FSEditor) Selection(context.Context) (string, error) { return e.selected, nil }

func (e *FSEditor) WorkspaceRoot(context.Context) (string, error) { return e.root, nil }

func (e *FSEditor) RecentTerminalOutput(context.Context) (string, error) {
	return e.terminal, nil
}
