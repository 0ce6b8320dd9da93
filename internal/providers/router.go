package providers

import (
	"context"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/retry"
	"github.com/haasonsaas/relay/pkg/models"
)

// RouterAdapter streams against the model-routing aggregator. The aggregator
// speaks the chat-completions dialect, so this shares the primary adapter's
// engine; a pinned sub-provider rides as a model tag, and tool names go
// through the same sanitation because sub-providers enforce the same
// charset.
type RouterAdapter struct {
	core openAICore
}

func NewRouterAdapter(baseURL string, logger *observability.Logger) *RouterAdapter {
	return &RouterAdapter{
		core: openAICore{
			provider: models.ProviderRouter,
			baseURL:  baseURL,
			logger:   logger,
			retry:    retry.Providers(),
		},
	}
}

func (a *RouterAdapter) Provider() models.Provider { return models.ProviderRouter }

func (a *RouterAdapter) Stream(ctx context.Context, req *Request, onChunk func(Chunk), onDebug func(DebugEvent)) (*Result, error) {
	return a.core.stream(ctx, req, onChunk, onDebug)
}
