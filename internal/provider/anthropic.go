package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// AnthropicConfig holds configuration for a Claude-compatible backend.
type AnthropicConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string // e.g. "claude-sonnet-4-20250514"
	MaxTokens int

	// Bedrock configuration
	UseBedrock bool
	Region     string
	Profile    string
}

// NewAnthropicAdapter creates an adapter for Claude-compatible endpoints.
func NewAnthropicAdapter(ctx context.Context, config *AnthropicConfig) (*ChatModelAdapter, error) {
	if config.APIKey == "" && !config.UseBedrock {
		return nil, fmt.Errorf("claude-compatible provider %q has no API key", config.ID)
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	var cfg *claude.Config
	if config.UseBedrock {
		cfg = &claude.Config{
			ByBedrock: true,
			Region:    config.Region,
			Profile:   config.Profile,
			Model:     "anthropic." + modelID + "-v1:0",
			MaxTokens: maxTokens,
		}
	} else {
		cfg = &claude.Config{
			APIKey:    config.APIKey,
			Model:     modelID,
			MaxTokens: maxTokens,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = &config.BaseURL
		}
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return NewChatModelAdapter(config.ID, types.KindClaude, chatModel, modelID, maxTokens), nil
}

func newAnthropicFromConfig(ctx context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error) {
	return NewAnthropicAdapter(ctx, &AnthropicConfig{
		ID:         cfg.ID,
		APIKey:     apiKey,
		BaseURL:    cfg.Endpoint,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		UseBedrock: cfg.Option("bedrock", "") == "true",
		Region:     cfg.Option("region", ""),
		Profile:    cfg.Option("profile", ""),
	})
}
