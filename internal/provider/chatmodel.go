package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// ChatModelAdapter implements Adapter on top of an Eino chat model. The
// OpenAI-, Claude- and ARK-compatible adapters are all ChatModelAdapters
// built with different Eino model components.
type ChatModelAdapter struct {
	id        string
	kind      types.ProviderKind
	chatModel model.BaseChatModel
	modelID   string
	maxTokens int
	extraOpts func(req *CompletionRequest) []model.Option
}

// NewChatModelAdapter wraps an existing Eino chat model.
func NewChatModelAdapter(id string, kind types.ProviderKind, chatModel model.BaseChatModel, modelID string, maxTokens int) *ChatModelAdapter {
	return &ChatModelAdapter{
		id:        id,
		kind:      kind,
		chatModel: chatModel,
		modelID:   modelID,
		maxTokens: maxTokens,
	}
}

// ID returns the provider identifier.
func (a *ChatModelAdapter) ID() string { return a.id }

// Kind returns the backend family.
func (a *ChatModelAdapter) Kind() types.ProviderKind { return a.kind }

// ChatModel returns the underlying Eino chat model.
func (a *ChatModelAdapter) ChatModel() model.BaseChatModel { return a.chatModel }

// StreamComplete starts a streaming completion through the Eino model.
func (a *ChatModelAdapter) StreamComplete(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	var opts []model.Option
	if req.Model != "" && req.Model != a.modelID {
		opts = append(opts, model.WithModel(req.Model))
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.maxTokens
	}
	if a.extraOpts != nil {
		r := *req
		r.MaxTokens = maxTokens
		opts = append(opts, a.extraOpts(&r)...)
	} else if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	reader, err := a.chatModel.Stream(ctx, req.messages(), opts...)
	if err != nil {
		return nil, classifyError(a.id, err)
	}
	return NewEinoStream(a.id, reader), nil
}
