package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// Workspace is a temporary project directory.
type Workspace struct {
	Path string
}

// NewWorkspace creates an empty workspace directory.
func NewWorkspace() (*Workspace, error) {
	path, err := os.MkdirTemp("", "assistcore-ws-*")
	if err != nil {
		return nil, err
	}
	return &Workspace{Path: path}, nil
}

// WriteFile writes a file relative to the workspace, creating parents.
func (w *Workspace) WriteFile(name, content string) (string, error) {
	path := filepath.Join(w.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup removes the workspace and all contents
func (w *Workspace) Cleanup() {
	os.RemoveAll(w.Path)
}

// OpenAIProvider configures an OpenAI-compatible provider against m. Its
// key comes from the .env file StartTestServer writes into the workspace.
func OpenAIProvider(id string, priority int, m *MockLLM) types.ProviderConfig {
	return types.ProviderConfig{
		ID:            id,
		Kind:          types.KindOpenAI,
		Endpoint:      m.OpenAIURL(),
		CredentialRef: "dotenv:.env#MOCK_LLM_API_KEY",
		Priority:      priority,
		Model:         "mock",
	}
}

// OllamaProvider configures an Ollama-compatible provider against m.
func OllamaProvider(id string, priority int, m *MockLLM) types.ProviderConfig {
	return types.ProviderConfig{
		ID:       id,
		Kind:     types.KindOllama,
		Endpoint: m.URL(),
		Priority: priority,
		Model:    "mock",
	}
}

// RequireEnv checks if required env vars are set
func RequireEnv(vars ...string) error {
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// SkipIfMissingEnv returns true if any env var is missing
func SkipIfMissingEnv(vars ...string) bool {
	return RequireEnv(vars...) != nil
}
