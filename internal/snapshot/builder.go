// Package snapshot assembles bounded, immutable snapshots of editor state.
package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/pkg/types"
)

const (
	// DefaultMaxBytes is the default cap on a snapshot's total text size.
	DefaultMaxBytes = 32 * 1024
	// MinMaxBytes is the smallest cap the builder accepts.
	MinMaxBytes = 256

	// WithheldMarker replaces the content of files matching an exclude pattern.
	WithheldMarker = "[content withheld: file matches an exclude pattern]"
)

// Field names used in types.Truncation records.
const (
	FieldActiveFilePath    = "activeFilePath"
	FieldActiveFileContent = "activeFileContent"
	FieldSelectionText     = "selectionText"
	FieldWorkspaceRoot     = "workspaceRoot"
	FieldTerminalOutput    = "terminalOutput"
)

// Options controls what a snapshot contains.
type Options struct {
	IncludeSelection      bool     `json:"includeSelection" yaml:"includeSelection"`
	IncludeWorkspaceRoot  bool     `json:"includeWorkspaceRoot" yaml:"includeWorkspaceRoot"`
	IncludeTerminal       bool     `json:"includeTerminal" yaml:"includeTerminal"`
	RequireActiveDocument bool     `json:"requireActiveDocument" yaml:"requireActiveDocument"`
	MaxBytes              int      `json:"maxBytes" yaml:"maxBytes"`
	ExcludePatterns       []string `json:"excludePatterns,omitempty" yaml:"excludePatterns,omitempty"`
}

// DefaultOptions returns the default snapshot options.
func DefaultOptions() Options {
	return Options{
		IncludeSelection:     true,
		IncludeWorkspaceRoot: true,
		MaxBytes:             DefaultMaxBytes,
	}
}

func (o Options) normalize() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxBytes < MinMaxBytes {
		o.MaxBytes = MinMaxBytes
	}
	return o
}

// Builder reads editor state through an Editor and produces snapshots.
type Builder struct {
	editor Editor
	now    func() time.Time
}

// NewBuilder creates a builder over the given editor. A nil editor yields
// empty, chat-only snapshots.
func NewBuilder(editor Editor) *Builder {
	return &Builder{editor: editor, now: time.Now}
}

// Build collects editor state into a snapshot no larger than opts.MaxBytes.
// It fails only with NoActiveDocument when opts.RequireActiveDocument is set
// and nothing is open, or when ctx is already done. Unavailable editor state
// degrades to empty fields.
func (b *Builder) Build(ctx context.Context, opts Options) (types.ContextSnapshot, error) {
	opts = opts.normalize()
	if err := ctx.Err(); err != nil {
		return types.ContextSnapshot{}, err
	}

	var (
		doc      Document
		hasDoc   bool
		selected string
		root     string
		terminal string
	)

	if b.editor != nil {
		d, ok, err := b.editor.ActiveDocument(ctx)
		if err != nil {
			logging.Debug().Err(err).Msg("snapshot: active document unavailable")
		} else {
			doc, hasDoc = d, ok && d.Path != ""
		}

		if opts.IncludeSelection {
			if s, err := b.editor.Selection(ctx); err == nil {
				selected = s
			} else {
				logging.Debug().Err(err).Msg("snapshot: selection unavailable")
			}
		}

		if r, err := b.editor.WorkspaceRoot(ctx); err == nil {
			root = r
		} else {
			logging.Debug().Err(err).Msg("snapshot: workspace root unavailable")
		}

		if tr, ok := b.editor.(TerminalReader); ok && opts.IncludeTerminal {
			if out, err := tr.RecentTerminalOutput(ctx); err == nil {
				terminal = out
			}
		}
	}

	if !hasDoc && opts.RequireActiveDocument {
		return types.ContextSnapshot{}, &types.Error{
			Kind:    types.ErrKindNoActiveDocument,
			Message: "no active document is open",
		}
	}

	snap := types.ContextSnapshot{Timestamp: b.now()}
	content := ""
	if hasDoc {
		snap.ActiveFilePath = doc.Path
		content = doc.Content
		if excluded(opts.ExcludePatterns, root, doc.Path) {
			snap.Truncations = append(snap.Truncations, types.Truncation{
				Field:        FieldActiveFileContent,
				OriginalSize: len(content),
				KeptSize:     len(WithheldMarker),
			})
			content = WithheldMarker
		}
	}
	if opts.IncludeWorkspaceRoot {
		snap.WorkspaceRoot = root
	}

	fit(&snap, opts.MaxBytes, content, selected, terminal)
	return snap, nil
}

// excluded reports whether path matches any of the doublestar patterns,
// either relative to the workspace root or by base name.
func excluded(patterns []string, root, path string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel := path
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// fit places the variable-size fields into snap within maxBytes.
// Path and root are counted first. Selection may use up to half of what
// remains and terminal output up to a quarter; file content takes the rest.
// Any share left unused is handed back to selection, then terminal.
func fit(snap *types.ContextSnapshot, maxBytes int, content, selected, terminal string) {
	if fixed := len(snap.ActiveFilePath) + len(snap.WorkspaceRoot); fixed > maxBytes/2 {
		snap.ActiveFilePath = truncateField(snap, FieldActiveFilePath, snap.ActiveFilePath, maxBytes/4)
		snap.WorkspaceRoot = truncateField(snap, FieldWorkspaceRoot, snap.WorkspaceRoot, maxBytes/4)
	}

	budget := maxBytes - len(snap.ActiveFilePath) - len(snap.WorkspaceRoot)
	if budget < 0 {
		budget = 0
	}

	selCap := min(len(selected), budget/2)
	termCap := min(len(terminal), budget/4)
	contentCap := min(len(content), budget-selCap-termCap)

	left := budget - selCap - termCap - contentCap
	add := min(len(selected)-selCap, left)
	selCap += add
	left -= add
	termCap += min(len(terminal)-termCap, left)

	snap.SelectionText = truncateField(snap, FieldSelectionText, selected, selCap)
	snap.TerminalOutput = truncateField(snap, FieldTerminalOutput, terminal, termCap)
	snap.ActiveFileContent = truncateField(snap, FieldActiveFileContent, content, contentCap)
}

func truncateField(snap *types.ContextSnapshot, field, s string, limit int) string {
	out, cut := TruncateMiddle(s, limit)
	if cut {
		snap.Truncations = append(snap.Truncations, types.Truncation{
			Field:        field,
			OriginalSize: len(s),
			KeptSize:     len(out),
		})
	}
	return out
}

// TruncateMiddle shortens s to at most limit bytes by cutting from the middle
// and inserting a truncation marker. The kept head is an exact prefix of s
// and the kept tail an exact suffix; cut points never split a UTF-8 sequence.
// When limit is too small for the full marker the field becomes the short
// marker, or empty when even that does not fit.
func TruncateMiddle(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	if limit <= 0 {
		return "", true
	}

	// The marker for len(s) removed bytes is at least as long as the final one.
	markerLen := len(fmt.Sprintf(types.TruncationMarkerFormat, len(s)))
	if limit < markerLen {
		if limit < len(types.TruncationMarkerShort) {
			return "", true
		}
		return types.TruncationMarkerShort, true
	}

	keep := limit - markerLen
	head := (keep + 1) / 2
	tailStart := len(s) - (keep - head)

	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	for tailStart < len(s) && !utf8.RuneStart(s[tailStart]) {
		tailStart++
	}

	marker := fmt.Sprintf(types.TruncationMarkerFormat, tailStart-head)
	return s[:head] + marker + s[tailStart:], true
}
