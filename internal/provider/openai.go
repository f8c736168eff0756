package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// OpenAIConfig holds configuration for an OpenAI-compatible backend.
type OpenAIConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// Azure configuration
	UseAzure   bool
	APIVersion string
}

// NewOpenAIAdapter creates an adapter for OpenAI and OpenAI-compatible endpoints.
func NewOpenAIAdapter(ctx context.Context, config *OpenAIConfig) (*ChatModelAdapter, error) {
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "gpt-4o"
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              config.APIKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens, // Use MaxCompletionTokens for GPT-5 compatibility
	}

	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	if config.UseAzure {
		cfg.ByAzure = true
		if config.APIVersion != "" {
			cfg.APIVersion = config.APIVersion
		} else {
			cfg.APIVersion = "2024-02-15-preview"
		}
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	a := NewChatModelAdapter(config.ID, types.KindOpenAI, chatModel, modelID, maxTokens)
	a.extraOpts = func(req *CompletionRequest) []model.Option {
		return []model.Option{openai.WithMaxCompletionTokens(req.MaxTokens)}
	}
	return a, nil
}

func newOpenAIFromConfig(ctx context.Context, cfg types.ProviderConfig, apiKey string) (Adapter, error) {
	return NewOpenAIAdapter(ctx, &OpenAIConfig{
		ID:         cfg.ID,
		APIKey:     apiKey,
		BaseURL:    cfg.Endpoint,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		UseAzure:   cfg.Option("azure", "") == "true",
		APIVersion: cfg.Option("apiVersion", ""),
	})
}
