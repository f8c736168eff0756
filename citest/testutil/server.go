package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/secret"
	"github.com/opencode-ai/assistcore/internal/server"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// TestServer runs the full stack (config, registry, router, HTTP server)
// in-process against a temporary workspace.
type TestServer struct {
	Server   *server.Server
	HTTP     *httptest.Server
	BaseURL  string
	Config   *types.Config
	Registry *provider.Registry
	Router   *router.Router
	Bus      *event.Bus
	WorkDir  string
	TempDir  string

	watcher *config.Watcher
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	envFile string
	config  *types.Config
	watch   bool
}

// WithWorkDir sets the working directory
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithConfig writes cfg as the project config before loading.
func WithConfig(cfg *types.Config) TestServerOption {
	return func(c *testServerConfig) {
		c.config = cfg
	}
}

// WithConfigWatcher reloads providers when the project config changes.
func WithConfigWatcher() TestServerOption {
	return func(c *testServerConfig) {
		c.watch = true
	}
}

// StartTestServer creates and starts a test server. It points
// XDG_CONFIG_HOME and XDG_STATE_HOME at a temp dir so the user's global
// config never leaks into a run.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
	}

	tempDir, err := os.MkdirTemp("", "assistcore-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "config"))
	os.Setenv("XDG_STATE_HOME", filepath.Join(tempDir, "state"))

	workDir := cfg.workDir
	if workDir == "" {
		workDir = filepath.Join(tempDir, "workspace")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(workDir, ".env"), []byte("MOCK_LLM_API_KEY=sk-mock\n"), 0600); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	if cfg.config != nil {
		if err := config.Save(cfg.config, config.ProjectConfigPath(workDir)); err != nil {
			os.RemoveAll(tempDir)
			return nil, fmt.Errorf("failed to write config: %w", err)
		}
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	bus := event.NewBus()
	registry := provider.NewRegistry(
		provider.WithBreaker(config.BreakerSettings(appConfig)),
		provider.WithFactory(provider.NewFactory(secret.NewDefaultStore(workDir), nil)),
		provider.WithEventBus(bus),
	)
	if err := registry.Update(context.Background(), appConfig.Providers); err != nil {
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	requests := router.New(registry, nil,
		router.WithConfig(config.RouterSettings(appConfig)),
		router.WithEventBus(bus),
	)

	srvConfig := server.DefaultConfig()
	srvConfig.Directory = workDir
	srv := server.New(srvConfig, requests, registry,
		server.WithEventBus(bus),
		server.WithSnapshotOptions(config.SnapshotOptions(appConfig)),
	)
	ts := httptest.NewServer(srv.Router())

	t := &TestServer{
		Server:   srv,
		HTTP:     ts,
		BaseURL:  ts.URL,
		Config:   appConfig,
		Registry: registry,
		Router:   requests,
		Bus:      bus,
		WorkDir:  workDir,
		TempDir:  tempDir,
	}

	if cfg.watch {
		w, err := config.NewWatcher(workDir, func(c *types.Config) error {
			return registry.Update(context.Background(), c.Providers)
		}, config.WithDebounce(50*time.Millisecond), config.WithWatcherBus(bus))
		if err != nil {
			t.Stop()
			return nil, fmt.Errorf("failed to watch config: %w", err)
		}
		w.Start()
		t.watcher = w
	}

	return t, nil
}

// WriteConfig replaces the project config file.
func (s *TestServer) WriteConfig(cfg *types.Config) error {
	return config.Save(cfg, config.ProjectConfigPath(s.WorkDir))
}

// WriteFile writes a workspace file relative to WorkDir.
func (s *TestServer) WriteFile(name, content string) error {
	path := filepath.Join(s.WorkDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// Client returns a JSON client for the server.
func (s *TestServer) Client() *TestClient {
	return NewTestClient(s.BaseURL)
}

// SSE returns a fresh event-stream client for the server.
func (s *TestServer) SSE() *SSEClient {
	return NewSSEClient(s.BaseURL)
}

// Stop shuts down the server and removes the temp directory.
func (s *TestServer) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Router.Shutdown(ctx)

	s.HTTP.CloseClientConnections()
	s.HTTP.Close()
	s.Bus.Close()

	os.RemoveAll(s.TempDir)
}
