package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/secret"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// app is the wired core shared by the commands.
type app struct {
	cfg      *types.Config
	bus      *event.Bus
	registry *provider.Registry
	router   *router.Router
}

// newApp loads the configuration for dir and wires registry and router.
// Providers whose adapter cannot be built are logged and skipped.
func newApp(ctx context.Context, cmd *cobra.Command, dir string, logsToStderr bool) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	initLogging(effectiveLogLevel(cmd, cfg.LogLevel), logsToStderr)

	bus := event.NewBus()
	registry := provider.NewRegistry(
		provider.WithBreaker(config.BreakerSettings(cfg)),
		provider.WithFactory(provider.NewFactory(secret.NewDefaultStore(dir), nil)),
		provider.WithEventBus(bus),
	)
	if err := registry.Update(ctx, cfg.Providers); err != nil {
		logging.Warn().Err(err).Msg("some providers could not be initialized")
	}

	rt := router.New(registry, nil,
		router.WithConfig(config.RouterSettings(cfg)),
		router.WithEventBus(bus),
	)

	logging.Info().
		Str("directory", dir).
		Strs("sources", config.Sources(dir)).
		Int("providers", registry.Len()).
		Msg("assistcore initialized")

	return &app{cfg: cfg, bus: bus, registry: registry, router: rt}, nil
}

// close cancels running requests and releases the bus.
func (a *app) close(ctx context.Context) error {
	err := a.router.Shutdown(ctx)
	a.bus.Close()
	return err
}
