package types

import "time"

// TruncationMarkerFormat is the inline marker left where bytes were cut out
// of the middle of an oversized field.
const TruncationMarkerFormat = "\n[... %d bytes truncated ...]\n"

// TruncationMarkerShort replaces a field whose budget cannot hold the full
// marker.
const TruncationMarkerShort = "[... truncated ...]"

// ContextSnapshot is an immutable bundle of editor state sent with a request.
// Build one with the snapshot package; never modify a snapshot after it has
// been handed to the router.
type ContextSnapshot struct {
	ActiveFilePath    string    `json:"activeFilePath,omitempty"`
	ActiveFileContent string    `json:"activeFileContent,omitempty"`
	SelectionText     string    `json:"selectionText,omitempty"`
	WorkspaceRoot     string    `json:"workspaceRoot,omitempty"`
	TerminalOutput    string    `json:"terminalOutput,omitempty"`
	Timestamp         time.Time `json:"timestamp"`

	// Truncations records, per field, how much was cut to fit the byte cap.
	Truncations []Truncation `json:"truncations,omitempty"`
}

// Truncation describes a field that was shortened to fit the snapshot cap.
type Truncation struct {
	Field        string `json:"field"`
	OriginalSize int    `json:"originalSize"`
	KeptSize     int    `json:"keptSize"`
}

// Size returns the total byte size of the snapshot's text fields.
func (s ContextSnapshot) Size() int {
	return len(s.ActiveFilePath) + len(s.ActiveFileContent) + len(s.SelectionText) +
		len(s.WorkspaceRoot) + len(s.TerminalOutput)
}

// Truncated reports whether any field was shortened.
func (s ContextSnapshot) Truncated() bool {
	return len(s.Truncations) > 0
}

// HasActiveFile reports whether the snapshot carries an active document.
func (s ContextSnapshot) HasActiveFile() bool {
	return s.ActiveFilePath != ""
}

// Equal compares two snapshots ignoring Timestamp.
func (s ContextSnapshot) Equal(o ContextSnapshot) bool {
	if s.ActiveFilePath != o.ActiveFilePath ||
		s.ActiveFileContent != o.ActiveFileContent ||
		s.SelectionText != o.SelectionText ||
		s.WorkspaceRoot != o.WorkspaceRoot ||
		s.TerminalOutput != o.TerminalOutput ||
		len(s.Truncations) != len(o.Truncations) {
		return false
	}
	for i := range s.Truncations {
		if s.Truncations[i] != o.Truncations[i] {
			return false
		}
	}
	return true
}
