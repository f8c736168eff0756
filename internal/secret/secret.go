// Package secret resolves provider credential references to secrets.
//
// A credential reference is an opaque string of the form "scheme:value":
//
//	env:OPENAI_API_KEY          environment variable
//	file:~/.config/keys/claude  file contents, trimmed
//	dotenv:.env#ANTHROPIC_KEY   key in a dotenv file
//
// Configuration only ever carries references; secrets are resolved at
// adapter construction time and never logged.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ErrNotFound is returned when a reference resolves to nothing.
var ErrNotFound = errors.New("secret not found")

// Store resolves credential references.
type Store interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Schemes lists the reference schemes understood by the default store.
var Schemes = []string{"env", "file", "dotenv"}

// ValidRef reports whether ref uses a known scheme. An empty ref is valid
// (providers such as a local Ollama need no credential).
func ValidRef(ref string) bool {
	if ref == "" {
		return true
	}
	scheme, value, ok := strings.Cut(ref, ":")
	if !ok || value == "" {
		return false
	}
	for _, s := range Schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// DefaultStore resolves env:, file: and dotenv: references.
type DefaultStore struct {
	// BaseDir anchors relative file: and dotenv: paths.
	BaseDir string
	// Getenv looks up environment variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// NewDefaultStore creates a store that resolves relative paths against baseDir.
func NewDefaultStore(baseDir string) *DefaultStore {
	return &DefaultStore{BaseDir: baseDir, Getenv: os.Getenv}
}

// Resolve returns the secret referenced by ref. An empty ref resolves to "".
func (s *DefaultStore) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	scheme, value, ok := strings.Cut(ref, ":")
	if !ok || value == "" {
		return "", fmt.Errorf("malformed credential reference %q", redact(ref))
	}

	switch scheme {
	case "env":
		getenv := s.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		v := getenv(value)
		if v == "" {
			return "", fmt.Errorf("env %s: %w", value, ErrNotFound)
		}
		return v, nil

	case "file":
		data, err := os.ReadFile(s.path(value))
		if err != nil {
			return "", fmt.Errorf("read credential file: %w", err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", fmt.Errorf("credential file %s: %w", value, ErrNotFound)
		}
		return v, nil

	case "dotenv":
		path, key, ok := strings.Cut(value, "#")
		if !ok || key == "" {
			return "", fmt.Errorf("dotenv reference needs path#KEY")
		}
		vars, err := godotenv.Read(s.path(path))
		if err != nil {
			return "", fmt.Errorf("read dotenv file: %w", err)
		}
		v, ok := vars[key]
		if !ok || v == "" {
			return "", fmt.Errorf("dotenv %s: %w", key, ErrNotFound)
		}
		return v, nil

	default:
		return "", fmt.Errorf("unknown credential scheme %q", scheme)
	}
}

func (s *DefaultStore) path(p string) string {
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}
	if filepath.IsAbs(p) || s.BaseDir == "" {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

// redact keeps only the scheme of a reference for error messages.
func redact(ref string) string {
	if scheme, _, ok := strings.Cut(ref, ":"); ok {
		return scheme + ":***"
	}
	return "***"
}

// MapStore resolves references from a fixed map. Intended for tests.
type MapStore map[string]string

func (m MapStore) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	v, ok := m[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", redact(ref), ErrNotFound)
	}
	return v, nil
}
