package providers

import (
	"context"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/retry"
	"github.com/haasonsaas/relay/pkg/models"
)

// PrimaryAdapter streams against the primary chat-completions backend with
// an OAuth access token as the bearer credential.
type PrimaryAdapter struct {
	core openAICore
}

func NewPrimaryAdapter(baseURL string, logger *observability.Logger) *PrimaryAdapter {
	return &PrimaryAdapter{
		core: openAICore{
			provider: models.ProviderPrimary,
			baseURL:  baseURL,
			logger:   logger,
			retry:    retry.Providers(),
		},
	}
}

func (a *PrimaryAdapter) Provider() models.Provider { return models.ProviderPrimary }

func (a *PrimaryAdapter) Stream(ctx context.Context, req *Request, onChunk func(Chunk), onDebug func(DebugEvent)) (*Result, error) {
	return a.core.stream(ctx, req, onChunk, onDebug)
}
