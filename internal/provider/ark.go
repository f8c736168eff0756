package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// ArkConfig holds configuration for a Volcengine ARK backend.
type ArkConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string // Endpoint ID on ARK platform
	MaxTokens int
}

// NewArkAdapter creates an adapter for ARK endpoints.
func NewArkAdapter(ctx context.Context, config *ArkConfig) (*ChatModelAdapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ark-compatible provider %q has no API key", config.ID)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("ark-compatible provider %q needs a model endpoint ID", config.ID)
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cfg := &ark.ChatModelConfig{
		APIKey:    config.APIKey,
		Model:     config.Model,
		MaxTokens: &maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}

	return NewChatModelAdapter(config.ID, types.KindArk, chatModel, config.Model, maxTokens), nil
}

func newArkFromConfig(ctx context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error) {
	return NewArkAdapter(ctx, &ArkConfig{
		ID:        cfg.ID,
		APIKey:    apiKey,
		BaseURL:   cfg.Endpoint,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
}
