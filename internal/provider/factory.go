package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/opencode-ai/assistcore/internal/secret"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// Factory builds an adapter from a provider config.
type Factory func(ctx context.Context, cfg types.ProviderConfig) (Adapter, error)

type constructor func(ctx context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error)

// NewFactory returns a Factory that resolves credential references through
// store and dispatches on the provider kind. client is used by the adapters
// that speak HTTP directly; nil means a default client.
func NewFactory(store secret.Store, client *http.Client) Factory {
	constructors := map[types.ProviderKind]constructor{
		types.KindOpenAI: newOpenAIFromConfig,
		types.KindClaude: newAnthropicFromConfig,
		types.KindArk:    newArkFromConfig,
		types.KindOllama: func(_ context.Context, cfg types.ProviderConfig, _ string) (Adapter, error) {
			a, err := NewOllamaAdapter(cfg.ID, cfg.Endpoint, cfg.Model, client)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		types.KindCustom: func(ctx context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error) {
			a, err := newCustomFromConfig(ctx, cfg, apiKey)
			if err != nil {
				return nil, err
			}
			if client != nil {
				a.(*CustomAdapter).httpClient = client
			}
			return a, nil
		},
	}

	return func(ctx context.Context, cfg types.ProviderConfig) (Adapter, error) {
		build, ok := constructors[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("provider %q: unknown kind %q", cfg.ID, cfg.Kind)
		}
		var apiKey string
		if store != nil {
			key, err := store.Resolve(ctx, cfg.CredentialRef)
			if err != nil {
				return nil, fmt.Errorf("provider %q: resolve credential: %w", cfg.ID, err)
			}
			apiKey = key
		}
		a, err := build(ctx, cfg, apiKey)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
		return a, nil
	}
}
