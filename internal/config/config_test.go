package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// isolate points HOME and the XDG dirs at a temp dir and clears the
// assistcore environment.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvConfigContent, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvServerAddr, "")
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadEmpty(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func TestLoadJSONC(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assistcore.jsonc"), `{
		// primary backend
		"providers": [
			{"id": "primary", "kind": "openai-compatible", "endpoint": "https://api.example.com/v1",
			 "priority": 1, "credentialRef": "env:OPENAI_API_KEY", "model": "gpt-4o-mini"},
		],
		"router": {"interChunkTimeout": "10s", "requestTimeout": 120},
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "primary", cfg.Providers[0].ID)
	assert.Equal(t, types.KindOpenAI, cfg.Providers[0].Kind)
	assert.Equal(t, 10*time.Second, cfg.Router.InterChunkTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.Router.RequestTimeout.Std())
}

func TestLoadYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assistcore.yaml"), `
providers:
  - id: local
    kind: ollama-compatible
    endpoint: http://localhost:11434
    model: llama3.2
    priority: 2
snapshot:
  maxBytes: 4096
  includeSelection: false
  excludePatterns: ["**/.env"]
breaker:
  failureThreshold: 5
  initialCooldown: 1m
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, types.KindOllama, cfg.Providers[0].Kind)
	assert.Equal(t, 2, cfg.Providers[0].Priority)
	assert.Equal(t, 4096, cfg.Snapshot.MaxBytes)
	require.NotNil(t, cfg.Snapshot.IncludeSelection)
	assert.False(t, *cfg.Snapshot.IncludeSelection)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.InitialCooldown.Std())

	opts := SnapshotOptions(cfg)
	assert.False(t, opts.IncludeSelection)
	assert.Equal(t, 4096, opts.MaxBytes)
	assert.Equal(t, []string{"**/.env"}, opts.ExcludePatterns)
}

func TestLoadMalformed(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assistcore.json"), `{"providers": [`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadPrecedence(t *testing.T) {
	home := isolate(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(home, ".config", AppName, "assistcore.json"), `{
		"logLevel": "debug",
		"providers": [
			{"id": "a", "kind": "ollama-compatible", "endpoint": "http://global", "priority": 1},
			{"id": "b", "kind": "ollama-compatible", "endpoint": "http://global-b", "priority": 2}
		],
		"server": {"addr": ":9000"}
	}`)
	writeFile(t, filepath.Join(dir, ".assistcore", "assistcore.json"), `{
		"providers": [{"id": "a", "kind": "ollama-compatible", "endpoint": "http://project", "priority": 3}]
	}`)
	t.Setenv(EnvConfigContent, `{"router": {"gapTimeout": "2s"}}`)
	t.Setenv(EnvServerAddr, ":7000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "http://project", cfg.Providers[0].Endpoint)
	assert.Equal(t, 3, cfg.Providers[0].Priority)
	assert.Equal(t, "http://global-b", cfg.Providers[1].Endpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Router.GapTimeout.Std())

	assert.Len(t, Sources(dir), 2)
}

func TestLoadEnvConfigFile(t *testing.T) {
	isolate(t)
	extra := filepath.Join(t.TempDir(), "custom.json")
	writeFile(t, extra, `{"providers": [{"id": "x", "kind": "ollama-compatible", "endpoint": "http://x"}]}`)
	t.Setenv(EnvConfig, extra)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "x", cfg.Providers[0].ID)
}

func TestInterpolation(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("TEST_ENDPOINT", "http://from-env")
	writeFile(t, filepath.Join(dir, "model.txt"), "llama \"3\"\n")
	writeFile(t, filepath.Join(dir, "assistcore.json"), `{
		"providers": [{"id": "x", "kind": "ollama-compatible",
			"endpoint": "{env:TEST_ENDPOINT}", "model": "{file:model.txt}"}]
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.Providers[0].Endpoint)
	assert.Equal(t, `llama "3"`, cfg.Providers[0].Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       types.ProviderConfig
		wantErr string
	}{
		{"ok", types.ProviderConfig{ID: "a", Kind: types.KindOllama, Endpoint: "http://x"}, ""},
		{"missing id", types.ProviderConfig{Kind: types.KindOllama, Endpoint: "http://x"}, "missing id"},
		{"unknown kind", types.ProviderConfig{ID: "a", Kind: "pigeon", Endpoint: "http://x"}, "unknown kind"},
		{"missing endpoint", types.ProviderConfig{ID: "a", Kind: types.KindOpenAI}, "missing endpoint"},
		{"bedrock without endpoint", types.ProviderConfig{
			ID: "a", Kind: types.KindClaude, Options: map[string]any{"bedrock": true},
		}, ""},
		{"literal secret", types.ProviderConfig{
			ID: "a", Kind: types.KindOpenAI, Endpoint: "http://x", CredentialRef: "sk-live-123",
		}, "credentialRef"},
		{"ark without model", types.ProviderConfig{ID: "a", Kind: types.KindArk, Endpoint: "http://x"}, "need a model"},
		{"bad framing", types.ProviderConfig{
			ID: "a", Kind: types.KindCustom, Endpoint: "http://x", Options: map[string]any{"framing": "xml"},
		}, "unknown framing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&types.Config{Providers: []types.ProviderConfig{tt.p}})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Validate(&types.Config{
		Providers: []types.ProviderConfig{
			{ID: "a", Kind: types.KindOllama, Endpoint: "http://x"},
			{ID: "a", Kind: types.KindOllama, Endpoint: "http://y"},
			{ID: "b", Kind: "nope", Endpoint: "http://z"},
		},
		Breaker: types.BreakerConfig{Multiplier: 0.5},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "multiplier")
}

func TestSettingsDefaults(t *testing.T) {
	cfg := &types.Config{}

	r := RouterSettings(cfg)
	assert.Equal(t, 10*time.Minute, r.Retention)
	assert.Zero(t, r.InterChunkTimeout)

	b := BreakerSettings(&types.Config{Breaker: types.BreakerConfig{
		FailureThreshold: 4,
		InitialCooldown:  types.Duration(time.Second),
	}})
	assert.Equal(t, 4, b.FailureThreshold)
	assert.Equal(t, time.Second, b.InitialCooldown)

	opts := SnapshotOptions(cfg)
	assert.True(t, opts.IncludeSelection)
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := ProjectConfigPath(dir)

	in := &types.Config{
		Providers: []types.ProviderConfig{{ID: "a", Kind: types.KindOllama, Endpoint: "http://x", Priority: 1}},
		Router:    types.RouterConfig{RequestTimeout: types.Duration(90 * time.Second)},
	}
	require.NoError(t, Save(in, path))

	out, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, in.Providers, out.Providers)
	assert.Equal(t, 90*time.Second, out.Router.RequestTimeout.Std())
}

func TestWatcherReloads(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "assistcore.json")
	writeFile(t, path, `{"providers": [{"id": "a", "kind": "ollama-compatible", "endpoint": "http://a"}]}`)

	bus := event.NewBus()
	defer bus.Close()
	var rejected atomic.Int32
	bus.Subscribe(event.ConfigReloaded, func(e event.Event) {
		if e.Data.(event.ConfigData).Error != "" {
			rejected.Add(1)
		}
	})

	reloaded := make(chan *types.Config, 4)
	w, err := NewWatcher(dir, func(cfg *types.Config) error {
		reloaded <- cfg
		return nil
	}, WithDebounce(20*time.Millisecond), WithWatcherBus(bus))
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	writeFile(t, path, `{"providers": [{"id": "b", "kind": "ollama-compatible", "endpoint": "http://b"}]}`)

	select {
	case cfg := <-reloaded:
		require.Len(t, cfg.Providers, 1)
		assert.Equal(t, "b", cfg.Providers[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}

	writeFile(t, path, `{"providers": [{"kind": "nope"}]}`)
	assert.Eventually(t, func() bool { return rejected.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	for len(reloaded) > 0 {
		assert.Equal(t, "b", (<-reloaded).Providers[0].ID)
	}
}

func TestWatcherReloadError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assistcore.json"), `{"providers": [{"id": "a"}]}`)

	called := false
	w, err := NewWatcher(dir, func(*types.Config) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Reload())
	assert.False(t, called)
}
